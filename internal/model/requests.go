package model

// InitializeBookingRequest is the payload for POST /bookings/initialize.
type InitializeBookingRequest struct {
	BuilderID     string  `json:"builderId"`
	SessionTypeID string  `json:"sessionTypeId"`
	ClientID      *string `json:"clientId"`
	Pathway       string  `json:"pathway"`
}

// InitializeBookingResponse is returned with 201 Created.
type InitializeBookingResponse struct {
	BookingID       string `json:"bookingId"`
	RequiresPayment bool   `json:"requiresPayment"`
}

// StartCheckoutRequest is the payload for POST /bookings/{id}/checkout.
type StartCheckoutRequest struct {
	ClientID *string `json:"clientId"`
}

// CheckoutResponse describes an opened checkout session.
type CheckoutResponse struct {
	BookingID         string `json:"bookingId"`
	CheckoutURL       string `json:"checkoutUrl"`
	ProviderSessionID string `json:"providerSessionId"`
	Status            Status `json:"status"`
}

// CommandRequest carries an optional free-text reason for cancel/refund.
type CommandRequest struct {
	Reason string `json:"reason"`
}

// SchedulingAck is the scheduling webhook response body.
type SchedulingAck struct {
	Processed bool `json:"processed"`
}

// PaymentAck is the payment webhook response body. Success reflects whether
// processing actually succeeded; the HTTP status is 200 either way.
type PaymentAck struct {
	Received bool `json:"received"`
	Success  bool `json:"success"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
