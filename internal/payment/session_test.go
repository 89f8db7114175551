package payment_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/samitochi04/cameroon-marketplace-sub000/internal"
	ordermodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/order"
	paymentmodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/payment"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/gateway"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/payment"
)

func TestPaymentSession(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Payment Session Suite")
}

// fakeGateway scripts initiation and a sequence of poll statuses. Once the
// script is exhausted the last status repeats.
type fakeGateway struct {
	mu sync.Mutex

	initResult *gateway.InitiateResult
	initErr    *internal.AppError
	initCalls  int

	statuses   []gateway.Status
	queryErr   *internal.AppError
	queryCalls int

	queryDelay time.Duration
	queryGate  chan struct{}
	queryBegan chan struct{}
}

func (g *fakeGateway) Initiate(context.Context, *gateway.InitiateRequest) (*gateway.InitiateResult, *internal.AppError) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls++
	if g.initErr != nil {
		return nil, g.initErr
	}
	if g.initResult != nil {
		return g.initResult, nil
	}
	return &gateway.InitiateResult{Reference: "ref-1", USSDCode: "*126#"}, nil
}

func (g *fakeGateway) QueryStatus(context.Context, string) (gateway.Status, *internal.AppError) {
	g.mu.Lock()
	call := g.queryCalls
	g.queryCalls++
	began := g.queryBegan
	gate := g.queryGate
	delay := g.queryDelay
	g.mu.Unlock()

	if began != nil {
		began <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return "", g.queryErr
	}
	if len(g.statuses) == 0 {
		return gateway.StatusPending, nil
	}
	if call >= len(g.statuses) {
		call = len(g.statuses) - 1
	}
	return g.statuses[call], nil
}

func (g *fakeGateway) calls() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initCalls, g.queryCalls
}

type fakeStaging struct {
	mu         sync.Mutex
	pending    *ordermodel.PendingOrder
	loadErr    error
	clearCalls int
}

func (s *fakeStaging) Load() (*ordermodel.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.pending, nil
}

func (s *fakeStaging) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	s.pending = nil
	return nil
}

func (s *fakeStaging) cleared() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearCalls
}

type fakeSubmitter struct {
	mu      sync.Mutex
	orderID string
	err     *internal.AppError
	count   int
}

func (f *fakeSubmitter) Submit(context.Context, *ordermodel.PendingOrder, string, string) (string, *internal.AppError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if f.err != nil {
		return "", f.err
	}
	return f.orderID, nil
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type fakeJournal struct {
	mu         sync.Mutex
	created    []*paymentmodel.Attempt
	statuses   []string
	pollCounts int
	confirmed  int
}

func (j *fakeJournal) Create(a *paymentmodel.Attempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.created = append(j.created, a)
	return nil
}

func (j *fakeJournal) UpdateStatus(_, status string, _ json.RawMessage, _ *string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.statuses = append(j.statuses, status)
	return nil
}

func (j *fakeJournal) IncrementPollCount(string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pollCounts++
	return nil
}

func (j *fakeJournal) MarkConfirmed(string, *string, bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.confirmed++
	return nil
}

func (j *fakeJournal) lastStatus() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.statuses) == 0 {
		return ""
	}
	return j.statuses[len(j.statuses)-1]
}

func stagedOrder() *ordermodel.PendingOrder {
	return &ordermodel.PendingOrder{
		Items: []ordermodel.Item{
			{ProductID: "prod-1", VendorID: "vendor-7", Name: "Wax print fabric", Quantity: 2, UnitPrice: 7500},
		},
		ShippingAddress: ordermodel.Address{FullName: "Amina N", Street: "Rue Joffre", City: "Douala", Country: "CM"},
		ShippingMethod:  "standard",
		PaymentMethod:   "mobile_money",
		Subtotal:        15000,
		Shipping:        1000,
		TotalAmount:     16000,
	}
}

func sessionRequest() *payment.Request {
	return &payment.Request{
		Amount:       16000,
		OrderID:      "ord-1",
		VendorID:     "vendor-7",
		UserID:       "user-1",
		CustomerName: "Amina N",
		Phone:        "650123456",
	}
}

var _ = ginkgo.Describe("Session", func() {
	var (
		gw      *fakeGateway
		staging *fakeStaging
		sub     *fakeSubmitter
		journal *fakeJournal
		logger  *slog.Logger
		cfg     internal.SessionConfig
	)

	newSession := func() *payment.Session {
		return payment.NewSession("sess-1", cfg, gw, staging, sub, journal, nil, logger)
	}

	waitTerminal := func(sess *payment.Session) {
		gomega.Eventually(sess.Done(), time.Second).Should(gomega.BeClosed())
	}

	ginkgo.BeforeEach(func() {
		gw = &fakeGateway{}
		staging = &fakeStaging{pending: stagedOrder()}
		sub = &fakeSubmitter{orderID: "order-42"}
		journal = &fakeJournal{}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		cfg = internal.SessionConfig{
			PollInterval: 5 * time.Millisecond,
			Deadline:     time.Second,
		}
	})

	ginkgo.Context("operator detection before initiation", func() {
		ginkgo.It("should fail without any gateway call when the operator is unknown", func() {
			// Given: a phone number outside every known operator range
			req := sessionRequest()
			req.Phone = "12345"

			// When: the session starts
			sess := newSession()
			appErr := sess.Start(context.Background(), req)

			// Then: it fails closed, no money-moving API was contacted
			gomega.Expect(appErr).NotTo(gomega.BeNil())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeUnknownOperator))

			initCalls, queryCalls := gw.calls()
			gomega.Expect(initCalls).To(gomega.Equal(0))
			gomega.Expect(queryCalls).To(gomega.Equal(0))
			gomega.Expect(sess.Snapshot().State).To(gomega.Equal(payment.StateFailed))
		})

		ginkgo.It("should reject a non-positive amount before any gateway call", func() {
			req := sessionRequest()
			req.Amount = 0

			sess := newSession()
			appErr := sess.Start(context.Background(), req)

			gomega.Expect(appErr).NotTo(gomega.BeNil())
			initCalls, _ := gw.calls()
			gomega.Expect(initCalls).To(gomega.Equal(0))
		})

		ginkgo.It("should detect the operator from a local format number", func() {
			gw.statuses = []gateway.Status{gateway.StatusSuccessful}

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			waitTerminal(sess)

			gomega.Expect(sess.Snapshot().Operator).To(gomega.Equal("MTN"))
		})
	})

	ginkgo.Context("initiation", func() {
		ginkgo.It("should surface a gateway rejection and fail the session", func() {
			gw.initErr = internal.NewGatewayRejectedError("operator account suspended")

			sess := newSession()
			appErr := sess.Start(context.Background(), sessionRequest())

			gomega.Expect(appErr).NotTo(gomega.BeNil())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeGatewayRejected))
			gomega.Expect(appErr.Message).To(gomega.ContainSubstring("operator account suspended"))
			gomega.Expect(sess.Snapshot().State).To(gomega.Equal(payment.StateFailed))

			_, queryCalls := gw.calls()
			gomega.Expect(queryCalls).To(gomega.Equal(0))
		})

		ginkgo.It("should expose the reference and USSD code while awaiting confirmation", func() {
			gw.initResult = &gateway.InitiateResult{Reference: "ref-9", USSDCode: "*126*14#"}
			cfg.PollInterval = time.Hour

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			defer sess.Cancel()

			snap := sess.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(payment.StateAwaitingConfirmation))
			gomega.Expect(snap.Reference).To(gomega.Equal("ref-9"))
			gomega.Expect(snap.USSDCode).To(gomega.Equal("*126*14#"))
			gomega.Expect(journal.created).To(gomega.HaveLen(1))
			gomega.Expect(journal.created[0].Status).To(gomega.Equal(paymentmodel.StatusPending))
		})
	})

	ginkgo.Context("polling until confirmation", func() {
		ginkgo.It("should confirm after pending polls and submit the staged order exactly once", func() {
			// Given: the gateway reports PENDING twice, then SUCCESSFUL
			gw.statuses = []gateway.Status{gateway.StatusPending, gateway.StatusPending, gateway.StatusSuccessful}

			// When: the session runs to completion
			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			waitTerminal(sess)

			// Then: confirmed, one order submitted, slot cleared once
			snap := sess.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(payment.StateConfirmed))
			gomega.Expect(snap.SubmittedOrderID).To(gomega.Equal("order-42"))
			gomega.Expect(snap.PendingSubmission).To(gomega.BeFalse())
			gomega.Expect(snap.PollAttempts).To(gomega.Equal(3))
			gomega.Expect(sub.calls()).To(gomega.Equal(1))
			gomega.Expect(staging.cleared()).To(gomega.Equal(1))
			gomega.Expect(journal.lastStatus()).To(gomega.Equal(paymentmodel.StatusSuccessful))
		})

		ginkgo.It("should confirm without an order id when nothing was staged", func() {
			gw.statuses = []gateway.Status{gateway.StatusSuccessful}
			staging.pending = nil

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			waitTerminal(sess)

			snap := sess.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(payment.StateConfirmed))
			gomega.Expect(snap.SubmittedOrderID).To(gomega.BeEmpty())
			gomega.Expect(snap.PendingSubmission).To(gomega.BeFalse())
			gomega.Expect(sub.calls()).To(gomega.Equal(0))
		})

		ginkgo.It("should keep polling through transient query errors", func() {
			gw.queryErr = internal.NewNetworkError("connection refused", nil)

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())

			gomega.Eventually(func() int {
				_, queries := gw.calls()
				return queries
			}, time.Second).Should(gomega.BeNumerically(">=", 3))
			gomega.Expect(sess.Snapshot().State).To(gomega.Equal(payment.StateAwaitingConfirmation))

			sess.Cancel()
		})

		ginkgo.It("should fail terminally when the gateway reports FAILED", func() {
			gw.statuses = []gateway.Status{gateway.StatusPending, gateway.StatusFailed}

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			waitTerminal(sess)

			snap := sess.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(payment.StateFailed))
			gomega.Expect(snap.ErrorCode).To(gomega.Equal(string(internal.ErrCodePaymentFailed)))
			gomega.Expect(sub.calls()).To(gomega.Equal(0))
			gomega.Expect(staging.cleared()).To(gomega.Equal(0))
			gomega.Expect(journal.lastStatus()).To(gomega.Equal(paymentmodel.StatusFailed))
		})

		ginkgo.It("should treat a gateway CANCELLED as terminal failure", func() {
			gw.statuses = []gateway.Status{gateway.StatusCancelled}

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			waitTerminal(sess)

			gomega.Expect(sess.Snapshot().State).To(gomega.Equal(payment.StateFailed))
			gomega.Expect(journal.lastStatus()).To(gomega.Equal(paymentmodel.StatusCancelled))
		})
	})

	ginkgo.Context("deadline", func() {
		ginkgo.It("should time out when the gateway never confirms, then stop querying", func() {
			// Given: a gateway stuck on PENDING and a short confirmation window
			cfg.Deadline = 40 * time.Millisecond

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			waitTerminal(sess)

			snap := sess.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(payment.StateTimedOut))
			gomega.Expect(snap.ErrorCode).To(gomega.Equal(string(internal.ErrCodePaymentTimeout)))
			gomega.Expect(journal.lastStatus()).To(gomega.Equal(paymentmodel.StatusTimedOut))

			// Then: no further queries once terminal
			_, before := gw.calls()
			time.Sleep(30 * time.Millisecond)
			_, after := gw.calls()
			gomega.Expect(after).To(gomega.Equal(before))
			gomega.Expect(sub.calls()).To(gomega.Equal(0))
		})

		ginkgo.It("should discard a stale success that lands after the deadline", func() {
			// Given: the scheduled loop never ticks, and a manual check whose
			// response comes back only after the deadline
			cfg.PollInterval = time.Hour
			cfg.Deadline = 30 * time.Millisecond
			gw.statuses = []gateway.Status{gateway.StatusSuccessful}
			gw.queryDelay = 100 * time.Millisecond

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())

			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = sess.CheckNow(context.Background())
			}()

			waitTerminal(sess)
			gomega.Eventually(done, time.Second).Should(gomega.BeClosed())

			// Then: the late SUCCESSFUL does not resurrect the session
			gomega.Expect(sess.Snapshot().State).To(gomega.Equal(payment.StateTimedOut))
			gomega.Expect(sub.calls()).To(gomega.Equal(0))
			gomega.Expect(staging.cleared()).To(gomega.Equal(0))
		})
	})

	ginkgo.Context("manual check", func() {
		ginkgo.It("should query immediately without waiting for the next tick", func() {
			cfg.PollInterval = time.Hour
			gw.statuses = []gateway.Status{gateway.StatusSuccessful}

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())

			snap, appErr := sess.CheckNow(context.Background())
			gomega.Expect(appErr).To(gomega.BeNil())
			gomega.Expect(snap.State).To(gomega.Equal(payment.StateConfirmed))
			gomega.Expect(snap.SubmittedOrderID).To(gomega.Equal("order-42"))
			gomega.Expect(sub.calls()).To(gomega.Equal(1))
		})

		ginkgo.It("should be idempotent once the session is terminal", func() {
			cfg.PollInterval = time.Hour
			gw.statuses = []gateway.Status{gateway.StatusSuccessful}

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())

			_, _ = sess.CheckNow(context.Background())
			snap, appErr := sess.CheckNow(context.Background())

			gomega.Expect(appErr).To(gomega.BeNil())
			gomega.Expect(snap.State).To(gomega.Equal(payment.StateConfirmed))
			gomega.Expect(sub.calls()).To(gomega.Equal(1))
			gomega.Expect(staging.cleared()).To(gomega.Equal(1))

			_, queries := gw.calls()
			gomega.Expect(queries).To(gomega.Equal(1))
		})

		ginkgo.It("should not run two status queries concurrently", func() {
			// Given: a first query parked on a gate
			cfg.PollInterval = time.Hour
			gw.statuses = []gateway.Status{gateway.StatusSuccessful}
			gw.queryGate = make(chan struct{})
			gw.queryBegan = make(chan struct{}, 2)

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())

			first := make(chan struct{})
			go func() {
				defer close(first)
				_, _ = sess.CheckNow(context.Background())
			}()
			gomega.Eventually(gw.queryBegan, time.Second).Should(gomega.Receive())

			// When: a second manual check arrives while the first is in flight
			snap, appErr := sess.CheckNow(context.Background())

			// Then: it returns without issuing another query
			gomega.Expect(appErr).To(gomega.BeNil())
			gomega.Expect(snap.State).To(gomega.Equal(payment.StateAwaitingConfirmation))
			_, queries := gw.calls()
			gomega.Expect(queries).To(gomega.Equal(1))

			close(gw.queryGate)
			gomega.Eventually(first, time.Second).Should(gomega.BeClosed())
			waitTerminal(sess)

			gomega.Expect(sess.Snapshot().State).To(gomega.Equal(payment.StateConfirmed))
			gomega.Expect(sub.calls()).To(gomega.Equal(1))
		})
	})

	ginkgo.Context("reconciliation failures", func() {
		ginkgo.It("should confirm with pending submission and retain the slot when submission fails", func() {
			// Given: the payment succeeds but the order backend is down
			gw.statuses = []gateway.Status{gateway.StatusSuccessful}
			sub.err = internal.NewSubmissionFailedError("backend unavailable", nil)

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			waitTerminal(sess)

			// Then: money moved, so the session still confirms, but the
			// staged order stays for the reconciler
			snap := sess.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(payment.StateConfirmed))
			gomega.Expect(snap.PendingSubmission).To(gomega.BeTrue())
			gomega.Expect(snap.SubmittedOrderID).To(gomega.BeEmpty())
			gomega.Expect(staging.cleared()).To(gomega.Equal(0))
		})
	})

	ginkgo.Context("cancellation", func() {
		ginkgo.It("should stop polling without rescinding the payment", func() {
			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())

			sess.Cancel()
			waitTerminal(sess)

			gomega.Expect(sess.Snapshot().State).To(gomega.Equal(payment.StateFailed))
			gomega.Expect(journal.lastStatus()).To(gomega.Equal(paymentmodel.StatusCancelled))

			_, before := gw.calls()
			time.Sleep(25 * time.Millisecond)
			_, after := gw.calls()
			gomega.Expect(after).To(gomega.Equal(before))
		})

		ginkgo.It("should be a no-op on a confirmed session", func() {
			gw.statuses = []gateway.Status{gateway.StatusSuccessful}

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			waitTerminal(sess)

			sess.Cancel()
			gomega.Expect(sess.Snapshot().State).To(gomega.Equal(payment.StateConfirmed))
		})
	})

	ginkgo.Context("gateway callback", func() {
		ginkgo.It("should confirm through the same gate as a poll response", func() {
			cfg.PollInterval = time.Hour

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())

			sess.ApplyCallbackStatus(context.Background(), gateway.StatusSuccessful)
			waitTerminal(sess)

			snap := sess.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(payment.StateConfirmed))
			gomega.Expect(snap.SubmittedOrderID).To(gomega.Equal("order-42"))
			gomega.Expect(sub.calls()).To(gomega.Equal(1))
		})

		ginkgo.It("should ignore a pending callback", func() {
			cfg.PollInterval = time.Hour

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			defer sess.Cancel()

			sess.ApplyCallbackStatus(context.Background(), gateway.StatusPending)
			gomega.Expect(sess.Snapshot().State).To(gomega.Equal(payment.StateAwaitingConfirmation))
		})

		ginkgo.It("should discard a callback arriving after a terminal state", func() {
			gw.statuses = []gateway.Status{gateway.StatusFailed}

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			waitTerminal(sess)

			sess.ApplyCallbackStatus(context.Background(), gateway.StatusSuccessful)
			gomega.Expect(sess.Snapshot().State).To(gomega.Equal(payment.StateFailed))
			gomega.Expect(sub.calls()).To(gomega.Equal(0))
		})
	})

	ginkgo.Context("restarting a session", func() {
		ginkgo.It("should refuse to start twice", func() {
			gw.statuses = []gateway.Status{gateway.StatusSuccessful}

			sess := newSession()
			gomega.Expect(sess.Start(context.Background(), sessionRequest())).To(gomega.BeNil())
			waitTerminal(sess)

			appErr := sess.Start(context.Background(), sessionRequest())
			gomega.Expect(appErr).NotTo(gomega.BeNil())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeSessionFinished))
		})
	})
})
