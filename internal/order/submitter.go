// Package order converts a confirmed payment into a persisted order record.
package order

import (
	"context"
	"log/slog"

	errors "github.com/samitochi04/cameroon-marketplace-sub000/internal"
	ordermodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/order"
)

// RecordStore is the generic record API of the marketplace backend.
type RecordStore interface {
	Create(ctx context.Context, resource string, body interface{}, out interface{}) *errors.AppError
	Get(ctx context.Context, resource, id string, out interface{}) *errors.AppError
}

type Submitter struct {
	store  RecordStore
	logger *slog.Logger
}

func NewSubmitter(store RecordStore, logger *slog.Logger) *Submitter {
	return &Submitter{store: store, logger: logger}
}

type verifyRequest struct {
	Reference string                   `json:"reference"`
	OrderData *ordermodel.PendingOrder `json:"orderData,omitempty"`
	UserID    string                   `json:"user_id,omitempty"`
}

type verifyResponse struct {
	Order *orderRecord `json:"order,omitempty"`
}

type orderRecord struct {
	ID string `json:"id"`
}

type createOrderRequest struct {
	UserID           string             `json:"user_id"`
	Items            []ordermodel.Item  `json:"items"`
	ShippingAddress  ordermodel.Address `json:"shipping_address"`
	BillingAddress   ordermodel.Address `json:"billing_address"`
	ShippingMethod   string             `json:"shipping_method"`
	PaymentMethod    string             `json:"payment_method"`
	PaymentReference string             `json:"payment_reference"`
	Subtotal         int64              `json:"subtotal"`
	Shipping         int64              `json:"shipping"`
	TotalAmount      int64              `json:"total_amount"`
	Status           string             `json:"status"`
}

// Submit creates the order record tied to a confirmed payment reference and
// returns the created order id. The backend treats (order payload, reference)
// as a natural key, so repeating a submission whose response was lost does
// not create a duplicate order.
//
// Any failure here is recoverable by definition: the payment is already
// captured, so the caller must keep the staged order and reference around for
// a later retry rather than treating this as a dead end.
func (s *Submitter) Submit(ctx context.Context, pending *ordermodel.PendingOrder, reference, userID string) (string, *errors.AppError) {
	s.logger.Info("submitting order for confirmed payment",
		"reference", reference,
		"user_id", userID,
		"items", len(pending.Items),
		"total_amount", pending.TotalAmount)

	var verified verifyResponse
	err := s.store.Create(ctx, "payments/verify", verifyRequest{
		Reference: reference,
		OrderData: pending,
		UserID:    userID,
	}, &verified)
	if err == nil && verified.Order != nil && verified.Order.ID != "" {
		s.logger.Info("order created via payment verification",
			"reference", reference,
			"order_id", verified.Order.ID)
		return verified.Order.ID, nil
	}

	if err != nil {
		s.logger.Warn("payment verification path failed, falling back to direct order creation",
			"reference", reference,
			"error", err)
	}

	var created orderRecord
	fallbackErr := s.store.Create(ctx, "orders", createOrderRequest{
		UserID:           userID,
		Items:            pending.Items,
		ShippingAddress:  pending.ShippingAddress,
		BillingAddress:   pending.BillingAddress,
		ShippingMethod:   pending.ShippingMethod,
		PaymentMethod:    pending.PaymentMethod,
		PaymentReference: reference,
		Subtotal:         pending.Subtotal,
		Shipping:         pending.Shipping,
		TotalAmount:      pending.TotalAmount,
		Status:           "pending",
	}, &created)
	if fallbackErr != nil {
		s.logger.Error("order submission failed on both paths",
			"reference", reference,
			"error", fallbackErr)
		return "", errors.NewSubmissionFailedError("order creation failed after successful payment", fallbackErr)
	}

	if created.ID == "" {
		s.logger.Error("order creation returned no id", "reference", reference)
		return "", errors.NewSubmissionFailedError("order creation returned no order id", nil)
	}

	s.logger.Info("order created via direct creation", "reference", reference, "order_id", created.ID)
	return created.ID, nil
}
