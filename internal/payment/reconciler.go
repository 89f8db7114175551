package payment

import (
	"context"
	"log/slog"
	"time"

	paymentmodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/payment"
)

// ReconcilerRepository is the journal surface the reconciler scans and
// settles.
type ReconcilerRepository interface {
	ListNeedingSubmission(limit int) ([]*paymentmodel.Attempt, error)
	ClearPendingSubmission(reference, submittedOrderID string) error
}

// Reconciler periodically retries order submission for confirmed payments
// whose order was never created, either because the backend was down during
// reconciliation or because the process died between gateway confirmation and
// submission. The money already moved; this worker closes the gap.
type Reconciler struct {
	repo      ReconcilerRepository
	staging   StagingStore
	submitter SubmitterAPI
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewReconciler(repo ReconcilerRepository, staging StagingStore, submitter SubmitterAPI, logger *slog.Logger, interval time.Duration, batchSize int) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Reconciler{
		repo:      repo,
		staging:   staging,
		submitter: submitter,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run blocks until ctx is cancelled, scanning on a fixed interval.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("order submission reconciler started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("order submission reconciler stopped")
			return
		case <-ticker.C:
			if err := r.Process(ctx); err != nil {
				r.logger.Error("reconciliation pass failed", "error", err)
			}
		}
	}
}

// Process runs a single reconciliation pass.
func (r *Reconciler) Process(ctx context.Context) error {
	stuck, err := r.repo.ListNeedingSubmission(r.batchSize)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	r.logger.Info("found confirmed payments awaiting order submission", "count", len(stuck))

	pending, err := r.staging.Load()
	if err != nil {
		return err
	}

	for _, attempt := range stuck {
		if pending.Empty() {
			// the staged payload is gone, nothing left to rebuild the
			// order from; leave the attempt for manual follow-up
			r.logger.Warn("no staged order available for stuck attempt",
				"reference", attempt.Reference,
				"order_id", attempt.OrderID)
			continue
		}

		orderID, appErr := r.submitter.Submit(ctx, pending, attempt.Reference, attempt.UserID)
		if appErr != nil {
			r.logger.Error("deferred order submission failed, will retry next pass",
				"reference", attempt.Reference,
				"error", appErr)
			continue
		}

		if err := r.repo.ClearPendingSubmission(attempt.Reference, orderID); err != nil {
			r.logger.Error("failed to settle reconciled attempt",
				"reference", attempt.Reference,
				"submitted_order_id", orderID,
				"error", err)
			continue
		}

		if err := r.staging.Clear(); err != nil {
			r.logger.Error("failed to clear staged order after reconciliation", "error", err)
		}
		pending = nil

		r.logger.Info("deferred order submission recovered",
			"reference", attempt.Reference,
			"submitted_order_id", orderID)
	}

	return nil
}
