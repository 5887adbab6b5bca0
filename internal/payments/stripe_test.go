package payments

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stripe/stripe-go/v76"

	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/apperror"
	"github.com/Shivanand-hulikatti/booking-orchestrator/internal/model"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeGateway("sk_test_123", "https://app.test/ok", "https://app.test/cancel", backend)
}

func TestCreateCheckoutTagsBooking(t *testing.T) {
	var form map[string]string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = r.ParseForm()
		form = map[string]string{
			"metadata":    r.PostForm.Get("metadata[booking_id]"),
			"client_ref":  r.PostForm.Get("client_reference_id"),
			"intent_meta": r.PostForm.Get("payment_intent_data[metadata][booking_id]"),
			"unit_amount": r.PostForm.Get("line_items[0][price_data][unit_amount]"),
			"mode":        r.PostForm.Get("mode"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.test/cs_test_1"}`))
	})

	out, err := g.CreateCheckout(t.Context(), CheckoutRequest{
		BookingID: "b1",
		SessionType: model.SessionType{
			ID: "mentoring", Name: "Mentoring", PriceCents: 4500, Currency: "usd", RequiresPayment: true,
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckout: %v", err)
	}
	if out.SessionID != "cs_test_1" || out.URL != "https://checkout.test/cs_test_1" {
		t.Fatalf("checkout = %+v", out)
	}
	want := map[string]string{
		"metadata": "b1", "client_ref": "b1", "intent_meta": "b1", "unit_amount": "4500", "mode": "payment",
	}
	for k, v := range want {
		if form[k] != v {
			t.Errorf("%s = %q, want %q", k, form[k], v)
		}
	}
}

func TestRefundUsesBookingIdempotencyKey(t *testing.T) {
	var key, intent string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		_ = r.ParseForm()
		intent = r.PostForm.Get("payment_intent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_1","object":"refund"}`))
	})

	id, err := g.Refund(t.Context(), RefundRequest{
		BookingID: "b1",
		Ref:       model.PaymentRef{ProviderSessionID: "cs_1", ProviderPaymentIntentID: "pi_1"},
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if id != "re_1" || key != "refund-b1" || intent != "pi_1" {
		t.Fatalf("id=%q key=%q intent=%q", id, key, intent)
	}

	_, err = g.Refund(t.Context(), RefundRequest{
		BookingID: "b1",
		Ref:       model.PaymentRef{ProviderPaymentIntentID: "pi_2"},
		Key:       "refund-b1-pi_2",
	})
	if err != nil {
		t.Fatalf("Refund stray: %v", err)
	}
	if key != "refund-b1-pi_2" || intent != "pi_2" {
		t.Fatalf("stray key=%q intent=%q", key, intent)
	}
}

func TestRefundErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "already refunded is success",
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"invalid_request_error","code":"charge_already_refunded","message":"already"}}`,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
			},
		},
		{
			name:   "client error is permanent",
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"no such intent"}}`,
			check: func(t *testing.T, err error) {
				if !apperror.Is(err, apperror.Validation) {
					t.Fatalf("err = %v, want validation", err)
				}
			},
		},
		{
			name:   "server error is transient",
			status: http.StatusInternalServerError,
			body:   `{"error":{"type":"api_error","message":"boom"}}`,
			check: func(t *testing.T, err error) {
				if !apperror.Is(err, apperror.Transient) {
					t.Fatalf("err = %v, want transient", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := g.Refund(t.Context(), RefundRequest{BookingID: "b1", Ref: model.PaymentRef{ProviderPaymentIntentID: "pi_1"}})
			tt.check(t, err)
		})
	}
}

func TestRefundWithoutIntentIsPermanent(t *testing.T) {
	g := NewStripeGateway("sk_test", "", "", nil)
	if _, err := g.Refund(t.Context(), RefundRequest{BookingID: "b1"}); !apperror.Is(err, apperror.Validation) {
		t.Fatalf("err = %v, want validation", err)
	}
}
