// Package normalize verifies inbound provider webhooks and translates them
// into provider-agnostic events. Secrets are injected at construction.
package normalize

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/apperror"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

// Scheduling webhook headers.
const (
	HeaderSchedulingID        = "Scheduling-Webhook-Id"
	HeaderSchedulingTimestamp = "Scheduling-Webhook-Timestamp"
	HeaderSchedulingSignature = "Scheduling-Webhook-Signature"
)

// Question labels, lower-cased, that carry correlation data through the
// scheduling widget's custom questions.
var (
	bookingIDQuestions = []string{"booking id", "booking_id", "booking reference", "booking ref"}
	pathwayQuestions   = []string{"pathway", "learning pathway", "track"}
)

// SchedulingNormalizer verifies and maps scheduling-provider webhooks.
type SchedulingNormalizer struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSchedulingNormalizer builds a normalizer for the given shared secret.
// Signatures older than tolerance are rejected.
func NewSchedulingNormalizer(secret string, tolerance time.Duration) *SchedulingNormalizer {
	return &SchedulingNormalizer{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// EventID returns the delivery id carried in the headers.
func (n *SchedulingNormalizer) EventID(h http.Header) (string, error) {
	id := strings.TrimSpace(h.Get(HeaderSchedulingID))
	if id == "" {
		return "", apperror.Validationf("missing %s header", HeaderSchedulingID)
	}
	return id, nil
}

// Verify checks the HMAC-SHA256 signature of "<timestamp>.<body>".
// The signature header may list several "v1=" entries during secret
// rotation; any match is accepted.
func (n *SchedulingNormalizer) Verify(h http.Header, body []byte) error {
	if len(n.secret) == 0 {
		return apperror.Authenticationf("scheduling webhook secret not configured")
	}
	ts := strings.TrimSpace(h.Get(HeaderSchedulingTimestamp))
	sig := strings.TrimSpace(h.Get(HeaderSchedulingSignature))
	if ts == "" || sig == "" {
		return apperror.Authenticationf("missing signature headers")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return apperror.Authenticationf("malformed signature timestamp")
	}
	age := n.now().Sub(time.Unix(unix, 0))
	if age > n.tolerance || age < -n.tolerance {
		return apperror.Authenticationf("signature timestamp outside tolerance")
	}

	expected := Sign(n.secret, ts, body)
	for _, part := range strings.Split(sig, ",") {
		scheme, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || scheme != "v1" {
			continue
		}
		got, err := hex.DecodeString(value)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return apperror.Authenticationf("signature mismatch")
}

// Sign computes the raw signature for a timestamp and body.
func Sign(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeader formats a signature header value for body at t.
func SignatureHeader(secret string, t time.Time, body []byte) (timestamp, signature string) {
	timestamp = strconv.FormatInt(t.Unix(), 10)
	return timestamp, "v1=" + hex.EncodeToString(Sign([]byte(secret), timestamp, body))
}

type schedulingEnvelope struct {
	Event     string            `json:"event"`
	CreatedAt time.Time         `json:"created_at"`
	Payload   schedulingInvitee `json:"payload"`
}

type schedulingInvitee struct {
	URI                 string `json:"uri"`
	Email               string `json:"email"`
	Rescheduled         bool   `json:"rescheduled"`
	OldInvitee          string `json:"old_invitee"`
	NewInvitee          string `json:"new_invitee"`
	QuestionsAndAnswers []struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	} `json:"questions_and_answers"`
	Tracking struct {
		UTMContent string `json:"utm_content"`
	} `json:"tracking"`
	ScheduledEvent struct {
		URI              string    `json:"uri"`
		StartTime        time.Time `json:"start_time"`
		EndTime          time.Time `json:"end_time"`
		EventType        string    `json:"event_type"`
		EventMemberships []struct {
			User string `json:"user"`
		} `json:"event_memberships"`
	} `json:"scheduled_event"`
}

// Normalize maps a verified payload into a ScheduleEvent.
func (n *SchedulingNormalizer) Normalize(eventID string, body []byte) (*model.ScheduleEvent, error) {
	var env schedulingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperror.Validationf("decode scheduling payload: %v", err)
	}

	inv := env.Payload
	ev := &model.ScheduleEvent{
		EventID:            eventID,
		ProviderEventURI:   inv.ScheduledEvent.URI,
		ProviderEventID:    lastSegment(inv.ScheduledEvent.URI),
		ProviderInviteeURI: inv.URI,
		StartTime:          inv.ScheduledEvent.StartTime.UTC(),
		EndTime:            inv.ScheduledEvent.EndTime.UTC(),
		SessionTypeHint:    inv.ScheduledEvent.EventType,
		CustomAnswers:      make(map[string]string, len(inv.QuestionsAndAnswers)),
		OccurredAt:         env.CreatedAt.UTC(),
	}
	if len(inv.ScheduledEvent.EventMemberships) > 0 {
		ev.HostURI = inv.ScheduledEvent.EventMemberships[0].User
	}
	for _, qa := range inv.QuestionsAndAnswers {
		ev.CustomAnswers[strings.ToLower(strings.TrimSpace(qa.Question))] = strings.TrimSpace(qa.Answer)
	}
	ev.BookingID = strings.TrimSpace(inv.Tracking.UTMContent)
	if ev.BookingID == "" {
		ev.BookingID = firstAnswer(ev.CustomAnswers, bookingIDQuestions)
	}
	ev.Pathway = firstAnswer(ev.CustomAnswers, pathwayQuestions)

	switch env.Event {
	case "invitee.created":
		ev.Kind = model.ScheduleCreated
		if inv.OldInvitee != "" {
			ev.Kind = model.ScheduleRescheduled
			ev.PreviousInviteeURI = inv.OldInvitee
		}
	case "invitee.canceled":
		ev.Kind = model.ScheduleCanceled
		if inv.Rescheduled {
			// The paired invitee.created carries the new slot.
			ev.Kind = model.ScheduleIgnored
		}
	default:
		ev.Kind = model.ScheduleIgnored
		return ev, nil
	}

	if ev.ProviderInviteeURI == "" || ev.ProviderEventURI == "" {
		return nil, apperror.Validationf("scheduling payload missing invitee or event uri")
	}
	if ev.Kind != model.ScheduleCanceled && ev.Kind != model.ScheduleIgnored {
		if ev.StartTime.IsZero() || ev.EndTime.IsZero() || !ev.EndTime.After(ev.StartTime) {
			return nil, apperror.Validationf("scheduling payload has an invalid time slot")
		}
	}
	return ev, nil
}

func firstAnswer(answers map[string]string, questions []string) string {
	for _, q := range questions {
		if a := answers[q]; a != "" {
			return a
		}
	}
	return ""
}

func lastSegment(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
