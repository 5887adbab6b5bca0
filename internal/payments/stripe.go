// Package payments talks to the payment provider: opening checkout sessions
// and issuing refunds.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/refund"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/apperror"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/normalize"
)

// CheckoutRequest describes the checkout to open for a booking.
type CheckoutRequest struct {
	BookingID   string
	ClientID    *string
	SessionType model.SessionType
}

// Checkout is an opened checkout session.
type Checkout struct {
	SessionID       string
	PaymentIntentID string
	URL             string
}

// RefundRequest names the captured payment to hand back.
type RefundRequest struct {
	BookingID string
	Ref       model.PaymentRef
	// Key collapses repeated refunds at the provider. Empty selects the
	// booking's own refund key.
	Key string
}

// IdempotencyKey returns the provider idempotency key for r.
func (r RefundRequest) IdempotencyKey() string {
	if r.Key != "" {
		return r.Key
	}
	return "refund-" + r.BookingID
}

// Gateway is the payment provider as seen by the orchestrator.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	// Refund refunds the payment behind req.Ref. Repeated calls with the
	// same key are collapsed by the provider.
	Refund(ctx context.Context, req RefundRequest) (string, error)
}

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	sessions   *session.Client
	refunds    *refund.Client
	successURL string
	cancelURL  string
}

// NewStripeGateway builds a gateway using the given secret key. A nil
// backend selects the default API backend.
func NewStripeGateway(key, successURL, cancelURL string, backend stripe.Backend) *StripeGateway {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &StripeGateway{
		sessions:   &session.Client{B: backend, Key: key},
		refunds:    &refund.Client{B: backend, Key: key},
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	st := req.SessionType
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(req.BookingID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(st.Currency),
				UnitAmount: stripe.Int64(st.PriceCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(st.Name),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{normalize.MetadataBookingID: req.BookingID},
		},
	}
	params.Context = ctx
	params.AddMetadata(normalize.MetadataBookingID, req.BookingID)
	params.AddMetadata("session_type_id", st.ID)
	if req.ClientID != nil {
		params.AddMetadata("client_id", *req.ClientID)
	}

	cs, err := g.sessions.New(params)
	if err != nil {
		return nil, classify("create checkout session", err)
	}
	out := &Checkout{SessionID: cs.ID, URL: cs.URL}
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
	}
	return out, nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (string, error) {
	ref, bookingID := req.Ref, req.BookingID
	intent := ref.ProviderPaymentIntentID
	if intent == "" && ref.ProviderSessionID != "" {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		cs, err := g.sessions.Get(ref.ProviderSessionID, params)
		if err != nil {
			return "", classify("load checkout session", err)
		}
		if cs.PaymentIntent != nil {
			intent = cs.PaymentIntent.ID
		}
	}
	if intent == "" {
		return "", apperror.Validationf("booking %s has no payment intent to refund", bookingID)
	}

	params := &stripe.RefundParams{PaymentIntent: stripe.String(intent)}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey())
	params.AddMetadata(normalize.MetadataBookingID, bookingID)

	r, err := g.refunds.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			return "", nil
		}
		return "", classify("create refund", err)
	}
	return r.ID, nil
}

// classify marks client errors other than rate limiting as permanent.
func classify(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 &&
		se.HTTPStatusCode != http.StatusTooManyRequests {
		return &apperror.Error{Kind: apperror.Validation, Msg: op, Err: err}
	}
	return apperror.Wrap(fmt.Errorf("%s: %w", op, err), "payment provider")
}
