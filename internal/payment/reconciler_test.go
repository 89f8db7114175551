package payment_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	errors "github.com/samitochi04/cameroon-marketplace-sub000/internal"
	paymentmodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/payment"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/payment"
)

type fakeReconcilerRepo struct {
	mu      sync.Mutex
	stuck   []*paymentmodel.Attempt
	cleared map[string]string
	listErr error
}

func (r *fakeReconcilerRepo) ListNeedingSubmission(limit int) ([]*paymentmodel.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	if len(r.stuck) > limit {
		return r.stuck[:limit], nil
	}
	return r.stuck, nil
}

func (r *fakeReconcilerRepo) ClearPendingSubmission(reference, submittedOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleared == nil {
		r.cleared = make(map[string]string)
	}
	r.cleared[reference] = submittedOrderID
	remaining := r.stuck[:0]
	for _, a := range r.stuck {
		if a.Reference != reference {
			remaining = append(remaining, a)
		}
	}
	r.stuck = remaining
	return nil
}

func stuckAttempt(reference string) *paymentmodel.Attempt {
	return &paymentmodel.Attempt{
		Reference:         reference,
		OrderID:           "ord-1",
		UserID:            "user-1",
		AmountXAF:         16000,
		Operator:          "MTN",
		PhoneNumber:       "237650123456",
		Status:            paymentmodel.StatusSuccessful,
		PendingSubmission: true,
	}
}

var _ = ginkgo.Describe("Reconciler", func() {
	var (
		repo    *fakeReconcilerRepo
		staging *fakeStaging
		sub     *fakeSubmitter
		logger  *slog.Logger
	)

	newReconciler := func() *payment.Reconciler {
		return payment.NewReconciler(repo, staging, sub, logger, time.Minute, 20)
	}

	ginkgo.BeforeEach(func() {
		repo = &fakeReconcilerRepo{}
		staging = &fakeStaging{pending: stagedOrder()}
		sub = &fakeSubmitter{orderID: "order-42"}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	})

	ginkgo.It("should submit the staged order for a stuck attempt and settle it", func() {
		// Given: a confirmed payment whose order was never created
		repo.stuck = []*paymentmodel.Attempt{stuckAttempt("ref-1")}

		// When
		err := newReconciler().Process(context.Background())

		// Then
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(sub.calls()).To(gomega.Equal(1))
		gomega.Expect(repo.cleared).To(gomega.HaveKeyWithValue("ref-1", "order-42"))
		gomega.Expect(staging.cleared()).To(gomega.Equal(1))
	})

	ginkgo.It("should do nothing when no attempt is stuck", func() {
		err := newReconciler().Process(context.Background())

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(sub.calls()).To(gomega.Equal(0))
		gomega.Expect(staging.cleared()).To(gomega.Equal(0))
	})

	ginkgo.It("should leave the attempt stuck when submission keeps failing", func() {
		repo.stuck = []*paymentmodel.Attempt{stuckAttempt("ref-1")}
		sub.err = errors.NewSubmissionFailedError("backend unavailable", nil)

		err := newReconciler().Process(context.Background())

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(repo.cleared).To(gomega.BeEmpty())
		gomega.Expect(staging.cleared()).To(gomega.Equal(0))
	})

	ginkgo.It("should skip attempts when the staged payload is gone", func() {
		repo.stuck = []*paymentmodel.Attempt{stuckAttempt("ref-1")}
		staging.pending = nil

		err := newReconciler().Process(context.Background())

		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(sub.calls()).To(gomega.Equal(0))
		gomega.Expect(repo.cleared).To(gomega.BeEmpty())
	})

	ginkgo.It("should stop when ctx is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		go func() {
			defer close(done)
			payment.NewReconciler(repo, staging, sub, logger, time.Millisecond, 20).Run(ctx)
		}()

		cancel()
		gomega.Eventually(done, time.Second).Should(gomega.BeClosed())
	})
})
