package postgres

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/payment"
)

type AttemptRepository struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{
		db: db,
	}
}

func (r *AttemptRepository) Create(a *payment.Attempt) error {
	return r.db.Create(a).Error
}

func (r *AttemptRepository) GetByReference(reference string) (*payment.Attempt, error) {
	var a payment.Attempt
	err := r.db.Where("reference = ?", reference).First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepository) UpdateStatus(reference, status string, gatewayResponse json.RawMessage, failureReason *string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}

	if gatewayResponse != nil {
		updates["gateway_response"] = gatewayResponse
	}

	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}

	return r.db.Model(&payment.Attempt{}).Where("reference = ?", reference).Updates(updates).Error
}

func (r *AttemptRepository) IncrementPollCount(reference string) error {
	return r.db.Model(&payment.Attempt{}).Where("reference = ?", reference).UpdateColumn("poll_count", gorm.Expr("poll_count + 1")).Error
}

func (r *AttemptRepository) MarkConfirmed(reference string, submittedOrderID *string, pendingSubmission bool) error {
	updates := map[string]interface{}{
		"pending_submission": pendingSubmission,
		"confirmed_at":       time.Now(),
		"updated_at":         time.Now(),
	}

	if submittedOrderID != nil {
		updates["submitted_order_id"] = *submittedOrderID
	}

	return r.db.Model(&payment.Attempt{}).Where("reference = ?", reference).Updates(updates).Error
}

// ListNeedingSubmission returns confirmed attempts whose order was never
// created, oldest first.
func (r *AttemptRepository) ListNeedingSubmission(limit int) ([]*payment.Attempt, error) {
	var attempts []*payment.Attempt
	err := r.db.
		Where("status = ? AND pending_submission = ?", payment.StatusSuccessful, true).
		Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}

// ClearPendingSubmission records the order finally created for a previously
// stuck attempt.
func (r *AttemptRepository) ClearPendingSubmission(reference, submittedOrderID string) error {
	return r.db.Model(&payment.Attempt{}).Where("reference = ?", reference).Updates(map[string]interface{}{
		"pending_submission": false,
		"submitted_order_id": submittedOrderID,
		"updated_at":         time.Now(),
	}).Error
}
