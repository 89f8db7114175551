package payment

import (
	errors "github.com/samitochi04/cameroon-marketplace-sub000/internal"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/core/common/validation"
	ordermodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/order"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/gateway"
)

// InitiatePaymentRequest is the request payload for starting a mobile money
// payment. PendingOrder, when present, is staged durably before initiation so
// a confirmed payment can be turned into an order even after a crash.
type InitiatePaymentRequest struct {
	Amount        int64                    `json:"amount"`
	OrderID       string                   `json:"order_id"`
	VendorID      string                   `json:"vendor_id"`
	PhoneNumber   string                   `json:"phone_number"`
	CustomerName  string                   `json:"customer_name"`
	CustomerEmail string                   `json:"customer_email"`
	Address       string                   `json:"address,omitempty"`
	City          string                   `json:"city,omitempty"`
	Country       string                   `json:"country,omitempty"`
	Description   string                   `json:"description,omitempty"`
	PendingOrder  *ordermodel.PendingOrder `json:"pending_order,omitempty"`
}

func (r *InitiatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).Required().MinInt(1, errors.ErrCodeInvalidAmount)
	validator.Field("order_id", r.OrderID).Required()
	validator.Field("phone_number", r.PhoneNumber).Required().MinLength(8)
	validator.Field("customer_name", r.CustomerName).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

func (r *InitiatePaymentRequest) toSessionRequest(userID string) *Request {
	return &Request{
		Amount:        r.Amount,
		OrderID:       r.OrderID,
		VendorID:      r.VendorID,
		UserID:        userID,
		CustomerName:  r.CustomerName,
		CustomerEmail: r.CustomerEmail,
		Phone:         r.PhoneNumber,
		Address:       r.Address,
		City:          r.City,
		Country:       r.Country,
		Description:   r.Description,
	}
}

// CallbackRequest is the payload the gateway pushes when a payment reaches a
// terminal status on its side.
type CallbackRequest struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

func (r *CallbackRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("reference", r.Reference).Required()
	validator.Field("status", r.Status).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// GatewayStatus maps the callback's status string onto the gateway
// vocabulary. Unrecognized values come back as the zero Status.
func (r *CallbackRequest) GatewayStatus() (gateway.Status, bool) {
	switch gateway.Status(r.Status) {
	case gateway.StatusPending:
		return gateway.StatusPending, true
	case gateway.StatusSuccessful:
		return gateway.StatusSuccessful, true
	case gateway.StatusFailed:
		return gateway.StatusFailed, true
	case gateway.StatusCancelled:
		return gateway.StatusCancelled, true
	}
	return "", false
}
