package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/samitochi04/cameroon-marketplace-sub000/internal"
	ordermodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/order"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/gateway"
	paymentpkg "github.com/samitochi04/cameroon-marketplace-sub000/internal/payment"
)

type mockPaymentService struct {
	stageOrderError   *internal.AppError
	initiateError     *internal.AppError
	getSessionError   *internal.AppError
	checkError        *internal.AppError
	cancelError       *internal.AppError
	callbackError     *internal.AppError
	snapshot          paymentpkg.Snapshot
	stagedOrders      int
	initiatedRequests []*paymentpkg.Request
	callbackReference string
	callbackStatus    gateway.Status
}

func (m *mockPaymentService) StageOrder(*ordermodel.PendingOrder) *internal.AppError {
	if m.stageOrderError != nil {
		return m.stageOrderError
	}
	m.stagedOrders++
	return nil
}

func (m *mockPaymentService) InitiatePayment(_ context.Context, req *paymentpkg.Request) (paymentpkg.Snapshot, *internal.AppError) {
	m.initiatedRequests = append(m.initiatedRequests, req)
	if m.initiateError != nil {
		return m.snapshot, m.initiateError
	}
	return m.snapshot, nil
}

func (m *mockPaymentService) GetSession(string) (paymentpkg.Snapshot, *internal.AppError) {
	if m.getSessionError != nil {
		return paymentpkg.Snapshot{}, m.getSessionError
	}
	return m.snapshot, nil
}

func (m *mockPaymentService) CheckSession(context.Context, string) (paymentpkg.Snapshot, *internal.AppError) {
	if m.checkError != nil {
		return paymentpkg.Snapshot{}, m.checkError
	}
	return m.snapshot, nil
}

func (m *mockPaymentService) CancelSession(string) (paymentpkg.Snapshot, *internal.AppError) {
	if m.cancelError != nil {
		return paymentpkg.Snapshot{}, m.cancelError
	}
	return m.snapshot, nil
}

func (m *mockPaymentService) HandleGatewayCallback(_ context.Context, reference string, status gateway.Status) *internal.AppError {
	m.callbackReference = reference
	m.callbackStatus = status
	return m.callbackError
}

func testHandler(svc *mockPaymentService) *paymentpkg.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return paymentpkg.NewHandler(svc, logger)
}

func initiateBody() []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"amount":        16000,
		"order_id":      "ord-1",
		"vendor_id":     "vendor-7",
		"phone_number":  "650123456",
		"customer_name": "Amina N",
	})
	return body
}

var _ = ginkgo.Describe("Handler", func() {
	var svc *mockPaymentService

	ginkgo.BeforeEach(func() {
		svc = &mockPaymentService{
			snapshot: paymentpkg.Snapshot{
				ID:        "sess-1",
				State:     paymentpkg.StateAwaitingConfirmation,
				Reference: "ref-1",
				USSDCode:  "*126#",
				Operator:  "MTN",
			},
		}
	})

	ginkgo.Describe("InitiatePayment", func() {
		ginkgo.It("should start a session for an authenticated caller", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", bytes.NewReader(initiateBody()))
			req = req.WithContext(internal.ContextWithUserID(req.Context(), "user-1"))
			rec := httptest.NewRecorder()

			testHandler(svc).InitiatePayment(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusAccepted))
			gomega.Expect(svc.initiatedRequests).To(gomega.HaveLen(1))
			gomega.Expect(svc.initiatedRequests[0].UserID).To(gomega.Equal("user-1"))

			var snap paymentpkg.Snapshot
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &snap)).To(gomega.Succeed())
			gomega.Expect(snap.Reference).To(gomega.Equal("ref-1"))
			gomega.Expect(snap.USSDCode).To(gomega.Equal("*126#"))
		})

		ginkgo.It("should reject an unauthenticated caller", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", bytes.NewReader(initiateBody()))
			rec := httptest.NewRecorder()

			testHandler(svc).InitiatePayment(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(svc.initiatedRequests).To(gomega.BeEmpty())
		})

		ginkgo.It("should reject a malformed body", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", bytes.NewReader([]byte("{not json")))
			req = req.WithContext(internal.ContextWithUserID(req.Context(), "user-1"))
			rec := httptest.NewRecorder()

			testHandler(svc).InitiatePayment(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("should reject a non-positive amount", func() {
			body, _ := json.Marshal(map[string]interface{}{
				"amount":        0,
				"order_id":      "ord-1",
				"phone_number":  "650123456",
				"customer_name": "Amina N",
			})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", bytes.NewReader(body))
			req = req.WithContext(internal.ContextWithUserID(req.Context(), "user-1"))
			rec := httptest.NewRecorder()

			testHandler(svc).InitiatePayment(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(svc.initiatedRequests).To(gomega.BeEmpty())
		})

		ginkgo.It("should stage the pending order before initiating", func() {
			body, _ := json.Marshal(map[string]interface{}{
				"amount":        16000,
				"order_id":      "ord-1",
				"phone_number":  "650123456",
				"customer_name": "Amina N",
				"pending_order": stagedOrder(),
			})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", bytes.NewReader(body))
			req = req.WithContext(internal.ContextWithUserID(req.Context(), "user-1"))
			rec := httptest.NewRecorder()

			testHandler(svc).InitiatePayment(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusAccepted))
			gomega.Expect(svc.stagedOrders).To(gomega.Equal(1))
		})

		ginkgo.It("should surface a gateway rejection verbatim", func() {
			svc.initiateError = internal.NewGatewayRejectedError("operator account suspended")
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/initiate", bytes.NewReader(initiateBody()))
			req = req.WithContext(internal.ContextWithUserID(req.Context(), "user-1"))
			rec := httptest.NewRecorder()

			testHandler(svc).InitiatePayment(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadGateway))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring("operator account suspended"))
		})
	})

	ginkgo.Describe("GetSession", func() {
		ginkgo.It("should return the snapshot", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/sessions/sess-1", nil)
			rec := httptest.NewRecorder()

			testHandler(svc).GetSession(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			var snap paymentpkg.Snapshot
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &snap)).To(gomega.Succeed())
			gomega.Expect(snap.ID).To(gomega.Equal("sess-1"))
		})

		ginkgo.It("should map an unknown session to 404", func() {
			svc.getSessionError = internal.ErrSessionNotFound
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/sessions/nope", nil)
			rec := httptest.NewRecorder()

			testHandler(svc).GetSession(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNotFound))
		})
	})

	ginkgo.Describe("Callback", func() {
		ginkgo.It("should apply a terminal status", func() {
			body, _ := json.Marshal(map[string]string{"reference": "ref-1", "status": "SUCCESSFUL"})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewReader(body))
			rec := httptest.NewRecorder()

			testHandler(svc).Callback(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.callbackReference).To(gomega.Equal("ref-1"))
			gomega.Expect(svc.callbackStatus).To(gomega.Equal(gateway.StatusSuccessful))
		})

		ginkgo.It("should reject a status outside the gateway vocabulary", func() {
			body, _ := json.Marshal(map[string]string{"reference": "ref-1", "status": "PAID"})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewReader(body))
			rec := httptest.NewRecorder()

			testHandler(svc).Callback(rec, req)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(svc.callbackReference).To(gomega.BeEmpty())
		})
	})
})
