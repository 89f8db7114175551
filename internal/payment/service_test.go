package payment_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/samitochi04/cameroon-marketplace-sub000/internal"
	ordermodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/order"
	paymentmodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/payment"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/gateway"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/payment"
)

type serviceStaging struct {
	fakeStaging
	saveCalls int
}

func (s *serviceStaging) Save(pending *ordermodel.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	s.pending = pending
	return nil
}

var _ = ginkgo.Describe("Service", func() {
	var (
		gw      *fakeGateway
		staging *serviceStaging
		sub     *fakeSubmitter
		journal *fakeJournal
		svc     *payment.Service
	)

	ginkgo.BeforeEach(func() {
		gw = &fakeGateway{}
		staging = &serviceStaging{}
		staging.pending = stagedOrder()
		sub = &fakeSubmitter{orderID: "order-42"}
		journal = &fakeJournal{}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		cfg := internal.SessionConfig{PollInterval: time.Hour, Deadline: 2 * time.Hour}
		svc = payment.NewService(cfg, gw, staging, sub, journal, nil, logger)
	})

	ginkgo.Describe("StageOrder", func() {
		ginkgo.It("should persist the checkout payload", func() {
			appErr := svc.StageOrder(stagedOrder())

			gomega.Expect(appErr).To(gomega.BeNil())
			gomega.Expect(staging.saveCalls).To(gomega.Equal(1))
		})

		ginkgo.It("should reject an empty payload", func() {
			appErr := svc.StageOrder(&ordermodel.PendingOrder{})

			gomega.Expect(appErr).NotTo(gomega.BeNil())
			gomega.Expect(staging.saveCalls).To(gomega.Equal(0))
		})
	})

	ginkgo.Describe("session lifecycle", func() {
		ginkgo.It("should register the session so it can be looked up", func() {
			snap, appErr := svc.InitiatePayment(context.Background(), sessionRequest())
			gomega.Expect(appErr).To(gomega.BeNil())

			found, appErr := svc.GetSession(snap.ID)
			gomega.Expect(appErr).To(gomega.BeNil())
			gomega.Expect(found.State).To(gomega.Equal(payment.StateAwaitingConfirmation))

			_, appErr = svc.CancelSession(snap.ID)
			gomega.Expect(appErr).To(gomega.BeNil())
		})

		ginkgo.It("should register failed initiations for inspection", func() {
			req := sessionRequest()
			req.Phone = "12345"

			snap, appErr := svc.InitiatePayment(context.Background(), req)

			gomega.Expect(appErr).NotTo(gomega.BeNil())
			found, lookupErr := svc.GetSession(snap.ID)
			gomega.Expect(lookupErr).To(gomega.BeNil())
			gomega.Expect(found.State).To(gomega.Equal(payment.StateFailed))
			gomega.Expect(found.ErrorCode).To(gomega.Equal(string(internal.ErrCodeUnknownOperator)))
		})

		ginkgo.It("should return not found for an unknown session id", func() {
			_, appErr := svc.GetSession("nope")

			gomega.Expect(appErr).NotTo(gomega.BeNil())
			gomega.Expect(appErr.Code).To(gomega.Equal(internal.ErrCodeSessionNotFound))
		})

		ginkgo.It("should run a manual check through the session", func() {
			gw.statuses = []gateway.Status{gateway.StatusSuccessful}
			snap, appErr := svc.InitiatePayment(context.Background(), sessionRequest())
			gomega.Expect(appErr).To(gomega.BeNil())

			checked, appErr := svc.CheckSession(context.Background(), snap.ID)

			gomega.Expect(appErr).To(gomega.BeNil())
			gomega.Expect(checked.State).To(gomega.Equal(payment.StateConfirmed))
			gomega.Expect(checked.SubmittedOrderID).To(gomega.Equal("order-42"))
		})
	})

	ginkgo.Describe("HandleGatewayCallback", func() {
		ginkgo.It("should route the callback to the session holding the reference", func() {
			gw.initResult = &gateway.InitiateResult{Reference: "ref-9"}
			snap, appErr := svc.InitiatePayment(context.Background(), sessionRequest())
			gomega.Expect(appErr).To(gomega.BeNil())

			gomega.Expect(svc.HandleGatewayCallback(context.Background(), "ref-9", gateway.StatusSuccessful)).To(gomega.BeNil())

			gomega.Eventually(func() payment.State {
				found, _ := svc.GetSession(snap.ID)
				return found.State
			}, time.Second).Should(gomega.Equal(payment.StateConfirmed))
		})

		ginkgo.It("should journal a successful callback with no live session for the reconciler", func() {
			appErr := svc.HandleGatewayCallback(context.Background(), "ref-orphan", gateway.StatusSuccessful)

			gomega.Expect(appErr).To(gomega.BeNil())
			gomega.Expect(journal.lastStatus()).To(gomega.Equal(paymentmodel.StatusSuccessful))
			gomega.Expect(journal.confirmed).To(gomega.Equal(1))
		})

		ginkgo.It("should reject a callback without a reference", func() {
			appErr := svc.HandleGatewayCallback(context.Background(), "", gateway.StatusFailed)

			gomega.Expect(appErr).NotTo(gomega.BeNil())
		})
	})
})
