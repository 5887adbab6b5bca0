package normalize

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/apperror"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

// HeaderPaymentSignature is the payment provider's signature header.
const HeaderPaymentSignature = "Stripe-Signature"

// MetadataBookingID is the checkout metadata key set by this service when it
// opens a checkout session; it is the only payment correlation key.
const MetadataBookingID = "booking_id"

// Errors returned by Parse before the signature can be checked.
var (
	ErrNoSecret         = errors.New("payment webhook secret not configured")
	ErrMissingSignature = errors.New("missing " + HeaderPaymentSignature + " header")
)

// PaymentNormalizer verifies and maps payment-provider webhooks.
type PaymentNormalizer struct {
	secret string
}

// NewPaymentNormalizer builds a normalizer for the webhook signing secret.
func NewPaymentNormalizer(secret string) *PaymentNormalizer {
	return &PaymentNormalizer{secret: secret}
}

// Parse verifies the signature and maps the event. A missing header or
// secret is a validation failure; a bad signature is an authentication
// failure.
func (n *PaymentNormalizer) Parse(body []byte, signature string) (*model.PaymentEvent, error) {
	if n.secret == "" {
		return nil, &apperror.Error{Kind: apperror.Validation, Msg: "verify payment webhook", Err: ErrNoSecret}
	}
	if strings.TrimSpace(signature) == "" {
		return nil, &apperror.Error{Kind: apperror.Validation, Msg: "verify payment webhook", Err: ErrMissingSignature}
	}

	event, err := webhook.ConstructEventWithOptions(body, signature, n.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, apperror.Authenticationf("payment signature: %v", err)
		}
		return nil, apperror.Validationf("decode payment event: %v", err)
	}
	if event.ID == "" {
		return nil, apperror.Validationf("payment event has no id")
	}
	return n.mapEvent(event)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func (n *PaymentNormalizer) mapEvent(event stripe.Event) (*model.PaymentEvent, error) {
	out := &model.PaymentEvent{
		EventID:    event.ID,
		Kind:       model.PaymentIgnored,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return out, nil
	}

	switch string(event.Type) {
	case "checkout.session.completed",
		"checkout.session.expired",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, apperror.Validationf("decode checkout session: %v", err)
		}
		out.ProviderSessionID = cs.ID
		if cs.PaymentIntent != nil {
			out.ProviderPaymentIntentID = cs.PaymentIntent.ID
		}
		out.BookingID = cs.Metadata[MetadataBookingID]
		if out.BookingID == "" {
			out.BookingID = cs.ClientReferenceID
		}
		out.Kind = checkoutKind(string(event.Type), cs.PaymentStatus)

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, apperror.Validationf("decode payment intent: %v", err)
		}
		out.ProviderPaymentIntentID = pi.ID
		out.BookingID = pi.Metadata[MetadataBookingID]
		out.Kind = model.PaymentSucceeded
		if event.Type == "payment_intent.payment_failed" {
			out.Kind = model.PaymentFailedKind
		}
	}

	if out.Kind != model.PaymentIgnored && out.BookingID == "" && out.ProviderSessionID == "" {
		return nil, apperror.Validationf("payment event %s carries no correlation data", event.ID)
	}
	return out, nil
}

func checkoutKind(eventType string, status stripe.CheckoutSessionPaymentStatus) model.PaymentKind {
	switch eventType {
	case "checkout.session.expired":
		return model.PaymentCheckoutExpired
	case "checkout.session.async_payment_succeeded":
		return model.PaymentSucceeded
	case "checkout.session.async_payment_failed":
		return model.PaymentFailedKind
	}
	// Delayed payment methods complete the session unpaid and settle later
	// through the async_payment events.
	if status == stripe.CheckoutSessionPaymentStatusPaid ||
		status == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		return model.PaymentCheckoutCompleted
	}
	return model.PaymentIgnored
}
