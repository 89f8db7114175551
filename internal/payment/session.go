package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samitochi04/cameroon-marketplace-sub000/internal"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/core/common/validation"
	ordermodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/order"
	paymentmodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/payment"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/core/events"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/gateway"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/operator"
)

type State string

const (
	StateIdle                 State = "idle"
	StateInitiating           State = "initiating"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateReconciling          State = "reconciling"
	StateConfirmed            State = "confirmed"
	StateFailed               State = "failed"
	StateTimedOut             State = "timed_out"
)

func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// GatewayAPI is the slice of the payment gateway this state machine needs.
type GatewayAPI interface {
	Initiate(ctx context.Context, req *gateway.InitiateRequest) (*gateway.InitiateResult, *internal.AppError)
	QueryStatus(ctx context.Context, reference string) (gateway.Status, *internal.AppError)
}

// StagingStore is the durable staged-order slot written at checkout.
type StagingStore interface {
	Load() (*ordermodel.PendingOrder, error)
	Clear() error
}

// SubmitterAPI converts a confirmed payment into a persisted order.
type SubmitterAPI interface {
	Submit(ctx context.Context, pending *ordermodel.PendingOrder, reference, userID string) (string, *internal.AppError)
}

// Journal persists the attempt audit trail. Optional: a nil journal disables
// journaling without changing session behavior.
type Journal interface {
	Create(attempt *paymentmodel.Attempt) error
	UpdateStatus(reference, status string, gatewayResponse json.RawMessage, failureReason *string) error
	IncrementPollCount(reference string) error
	MarkConfirmed(reference string, submittedOrderID *string, pendingSubmission bool) error
}

// Request carries the caller's inputs into a payment session.
type Request struct {
	Amount        int64
	OrderID       string
	VendorID      string
	UserID        string
	CustomerName  string
	CustomerEmail string
	Phone         string
	Address       string
	City          string
	Country       string
	Description   string
}

// Snapshot is a point-in-time copy of the session state, safe to hand to
// transport without holding any lock.
type Snapshot struct {
	ID                string    `json:"id"`
	State             State     `json:"state"`
	Operator          string    `json:"operator,omitempty"`
	Reference         string    `json:"reference,omitempty"`
	USSDCode          string    `json:"ussd_code,omitempty"`
	PollAttempts      int       `json:"poll_attempts"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	DeadlineAt        time.Time `json:"deadline_at,omitempty"`
	OrderID           string    `json:"order_id,omitempty"`
	SubmittedOrderID  string    `json:"submitted_order_id,omitempty"`
	PendingSubmission bool      `json:"pending_submission"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}

// Session drives one mobile money payment from initiation to a terminal
// state: operator detection, gateway initiation, status polling under a hard
// deadline, and reconciliation of a successful payment into an order.
//
// A session is owned by the caller that created it and must not be shared
// across checkouts. All state transitions go through a single mutex-guarded
// gate so a scheduled poll, a manual check and a gateway callback can race
// without double-reconciling or resurrecting a terminal session.
type Session struct {
	id  string
	cfg internal.SessionConfig

	gateway   GatewayAPI
	staging   StagingStore
	submitter SubmitterAPI
	journal   Journal
	bus       *events.EventBus
	logger    *slog.Logger

	mu                sync.Mutex
	state             State
	request           *Request
	operator          operator.Operator
	phone             string
	reference         string
	ussdCode          string
	pollAttempts      int
	startedAt         time.Time
	deadlineAt        time.Time
	lastError         *internal.AppError
	submittedOrderID  string
	pendingSubmission bool
	inFlight          bool

	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

func NewSession(id string, cfg internal.SessionConfig, gw GatewayAPI, staging StagingStore, submitter SubmitterAPI, journal Journal, bus *events.EventBus, logger *slog.Logger) *Session {
	return &Session{
		id:        id,
		cfg:       cfg.Normalized(),
		gateway:   gw,
		staging:   staging,
		submitter: submitter,
		journal:   journal,
		bus:       bus,
		logger:    logger.With("session_id", id),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// Start validates the request, initiates the payment and, on success, launches
// the polling loop. Operator detection happens before any network call: an
// unclassifiable phone number fails the session without charging anyone's API.
func (s *Session) Start(ctx context.Context, req *Request) *internal.AppError {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return internal.ErrSessionFinished
	}
	s.state = StateInitiating
	s.request = req
	s.mu.Unlock()

	if appErr := validation.ValidatePaymentAmount(req.Amount); appErr != nil {
		s.fail(appErr, paymentmodel.StatusFailed, false)
		return appErr
	}

	normalized, appErr := operator.Normalize(req.Phone)
	if appErr != nil {
		s.fail(appErr, paymentmodel.StatusFailed, false)
		return appErr
	}

	op := operator.Detect(normalized)
	if op == operator.Unknown {
		s.logger.Warn("operator detection failed, refusing initiation", "phone_prefix", normalized[:5])
		s.fail(internal.ErrUnknownOperator, paymentmodel.StatusFailed, false)
		return internal.ErrUnknownOperator
	}

	s.mu.Lock()
	s.phone = normalized
	s.operator = op
	s.mu.Unlock()

	result, appErr := s.gateway.Initiate(ctx, &gateway.InitiateRequest{
		Amount: req.Amount,
		Customer: gateway.Customer{
			ID:      req.UserID,
			Name:    req.CustomerName,
			Email:   req.CustomerEmail,
			Phone:   normalized,
			Address: req.Address,
			City:    req.City,
			Country: req.Country,
		},
		Description: req.Description,
		Metadata: gateway.Metadata{
			OrderID:       req.OrderID,
			PaymentMethod: "mobile_money",
			Operator:      string(op),
		},
		VendorID: req.VendorID,
	})
	if appErr != nil {
		s.fail(appErr, paymentmodel.StatusFailed, false)
		return appErr
	}

	now := time.Now()
	s.mu.Lock()
	s.reference = result.Reference
	s.ussdCode = result.USSDCode
	s.startedAt = now
	s.deadlineAt = now.Add(s.cfg.Deadline)
	s.state = StateAwaitingConfirmation
	s.mu.Unlock()

	s.recordInitiated()

	// the polling loop owns its own lifetime; it must outlive the HTTP
	// request that started the session
	pollCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), s.deadlineAt)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("awaiting payment confirmation",
		"reference", result.Reference,
		"operator", string(op),
		"poll_interval", s.cfg.PollInterval,
		"deadline", s.cfg.Deadline)

	go s.run(pollCtx)
	return nil
}

// run is the scheduled polling loop: one status query per tick, at most one
// in flight, until a terminal state or the deadline.
func (s *Session) run(ctx context.Context) {
	defer s.markDone()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				s.timeout()
			}
			return
		case <-ticker.C:
			if s.poll(ctx) {
				return
			}
		}
	}
}

// poll performs one status query and applies the result. Returns true when
// the session has reached a terminal state and the loop should stop.
func (s *Session) poll(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != StateAwaitingConfirmation {
		s.mu.Unlock()
		return true
	}
	if s.inFlight {
		// previous query has not returned; skip this tick entirely
		s.mu.Unlock()
		return false
	}
	s.inFlight = true
	reference := s.reference
	s.mu.Unlock()

	status, appErr := s.gateway.QueryStatus(ctx, reference)

	s.mu.Lock()
	s.inFlight = false
	if s.state != StateAwaitingConfirmation {
		// terminal state was reached while the query was out; a stale
		// response must not alter it
		s.mu.Unlock()
		return true
	}
	s.pollAttempts++
	if appErr != nil {
		// a single missed poll is not fatal; the deadline is the backstop
		s.mu.Unlock()
		s.logger.Warn("status poll failed, will retry on next tick", "reference", reference, "error", appErr)
		s.recordPoll(reference)
		return false
	}
	s.mu.Unlock()

	s.recordPoll(reference)
	return s.applyStatus(ctx, status)
}

// applyStatus routes a gateway status through the transition gate. The
// scheduled loop, the manual check and the gateway callback all land here, so
// there is exactly one reconciliation path. Returns true when the session is
// terminal afterwards.
func (s *Session) applyStatus(ctx context.Context, status gateway.Status) bool {
	s.mu.Lock()
	if s.state != StateAwaitingConfirmation {
		s.mu.Unlock()
		return true
	}

	switch status {
	case gateway.StatusPending:
		s.mu.Unlock()
		return false

	case gateway.StatusSuccessful:
		// only the first terminal observation wins entry into Reconciling
		s.state = StateReconciling
		s.mu.Unlock()
		s.logger.Info("payment confirmed by gateway", "reference", s.reference)
		s.reconcile(ctx)
		return true

	case gateway.StatusFailed, gateway.StatusCancelled:
		s.mu.Unlock()
		appErr := &internal.AppError{
			Type:       internal.ErrorTypeExternal,
			Code:       internal.ErrCodePaymentFailed,
			Message:    "payment " + strings.ToLower(string(status)),
			StatusCode: 402,
		}
		s.fail(appErr, journalStatusFor(status), true)
		return true

	default:
		s.mu.Unlock()
		s.logger.Warn("gateway returned unrecognized status, treating as pending", "status", string(status))
		return false
	}
}

// reconcile converts the confirmed payment into an order. Payment money is
// already captured at this point, so no failure below may lose the staged
// order or the reference: a failed submission ends Confirmed with
// pendingSubmission set and the staging slot intact.
func (s *Session) reconcile(ctx context.Context) {
	// reconciliation must not be cut short by the poll deadline
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	pending, err := s.staging.Load()
	if err != nil {
		s.logger.Error("failed to load staged order after successful payment", "error", err)
		s.confirm("", true)
		return
	}

	if pending.Empty() {
		// confirmation reached without a staged checkout; the caller falls
		// back to the order id it already knows
		s.logger.Warn("no staged order to submit", "reference", s.reference)
		s.confirm("", false)
		return
	}

	orderID, appErr := s.submitter.Submit(submitCtx, pending, s.reference, s.request.UserID)
	if appErr != nil {
		s.logger.Error("order submission failed after successful payment, retaining staged order",
			"reference", s.reference,
			"error", appErr)
		s.confirm("", true)
		return
	}

	if err := s.staging.Clear(); err != nil {
		s.logger.Error("failed to clear staged order after submission", "error", err)
	}
	s.confirm(orderID, false)

	if s.bus != nil {
		s.bus.Publish(context.WithoutCancel(ctx), events.NewOrderSubmittedEvent(s.reference, orderID, s.request.UserID))
	}
}

// CheckNow performs one immediate, out-of-band status query, reusing the
// scheduled loop's gate so it can never run a second query concurrently or
// double-submit the order.
func (s *Session) CheckNow(ctx context.Context) (Snapshot, *internal.AppError) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch {
	case state.Terminal():
		return s.Snapshot(), nil
	case state != StateAwaitingConfirmation:
		return s.Snapshot(), internal.NewConflictError("payment session is not awaiting confirmation", internal.ErrCodeSessionFinished)
	}

	s.poll(ctx)
	return s.Snapshot(), nil
}

// ApplyCallbackStatus feeds a status observed out of band (gateway webhook)
// through the same gate as a poll response.
func (s *Session) ApplyCallbackStatus(ctx context.Context, status gateway.Status) {
	s.applyStatus(ctx, status)
}

// Cancel abandons the session before a terminal state. The polling loop stops
// and timers are torn down, but an already-initiated gateway payment is not
// rescinded: the customer may still complete it on their device, and a later
// session against the same reference remains a valid recovery path.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.lastError = internal.NewConflictError("payment session cancelled by caller", internal.ErrCodeSessionFinished)
	reference := s.reference
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.markDone()

	s.logger.Info("payment session cancelled", "reference", reference)
	if reference != "" {
		s.recordStatus(reference, paymentmodel.StatusCancelled, strPtr("cancelled by caller"))
	}
}

// timeout forces TimedOut when the deadline passes while still awaiting
// confirmation. A session already reconciling keeps going: the money moved.
func (s *Session) timeout() {
	s.mu.Lock()
	if s.state != StateAwaitingConfirmation {
		s.mu.Unlock()
		return
	}
	s.state = StateTimedOut
	s.lastError = &internal.AppError{
		Type:       internal.ErrorTypeExternal,
		Code:       internal.ErrCodePaymentTimeout,
		Message:    "payment confirmation window elapsed",
		StatusCode: 408,
	}
	reference := s.reference
	pollAttempts := s.pollAttempts
	request := s.request
	s.mu.Unlock()

	s.logger.Warn("payment confirmation timed out",
		"reference", reference,
		"poll_attempts", pollAttempts)

	s.recordStatus(reference, paymentmodel.StatusTimedOut, strPtr("confirmation window elapsed"))
	if s.bus != nil && request != nil {
		s.bus.Publish(context.Background(), events.NewPaymentTimedOutEvent(reference, request.OrderID, request.Amount, pollAttempts))
	}
}

// fail moves the session to Failed and tears the loop down.
func (s *Session) fail(appErr *internal.AppError, journalStatus string, publish bool) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.lastError = appErr
	reference := s.reference
	request := s.request
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.markDone()

	s.logger.Error("payment session failed",
		"reference", reference,
		"error_code", string(appErr.Code),
		"error", appErr.Message)

	if reference != "" {
		s.recordStatus(reference, journalStatus, strPtr(appErr.Message))
	}
	if publish && s.bus != nil && request != nil {
		s.bus.Publish(context.Background(), events.NewPaymentFailedEvent(reference, request.OrderID, request.Amount, journalStatus, appErr.Message))
	}
}

// confirm finishes the session as Confirmed, with or without an order id.
func (s *Session) confirm(orderID string, pendingSubmission bool) {
	s.mu.Lock()
	s.state = StateConfirmed
	s.submittedOrderID = orderID
	s.pendingSubmission = pendingSubmission
	reference := s.reference
	request := s.request
	op := s.operator
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.markDone()

	s.logger.Info("payment session confirmed",
		"reference", reference,
		"submitted_order_id", orderID,
		"pending_submission", pendingSubmission)

	s.recordConfirmed(reference, orderID, pendingSubmission)
	if s.bus != nil && request != nil {
		s.bus.Publish(context.Background(), events.NewPaymentConfirmedEvent(reference, request.OrderID, request.Amount, string(op), orderID, pendingSubmission))
	}
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once the session reaches a terminal state and its timers are
// torn down. Mostly for tests and graceful shutdown.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Reference() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reference
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:                s.id,
		State:             s.state,
		Operator:          string(s.operator),
		Reference:         s.reference,
		USSDCode:          s.ussdCode,
		PollAttempts:      s.pollAttempts,
		StartedAt:         s.startedAt,
		DeadlineAt:        s.deadlineAt,
		SubmittedOrderID:  s.submittedOrderID,
		PendingSubmission: s.pendingSubmission,
	}
	if s.request != nil {
		snap.OrderID = s.request.OrderID
	}
	if s.operator == operator.Unknown {
		snap.Operator = ""
	}
	if s.lastError != nil {
		snap.ErrorCode = string(s.lastError.Code)
		snap.ErrorMessage = s.lastError.GetDetailedMessage()
	}
	return snap
}

// ----------------- journal plumbing -----------------

func (s *Session) recordInitiated() {
	if s.journal == nil {
		return
	}
	s.mu.Lock()
	attempt := &paymentmodel.Attempt{
		Reference:   s.reference,
		OrderID:     s.request.OrderID,
		VendorID:    s.request.VendorID,
		UserID:      s.request.UserID,
		AmountXAF:   s.request.Amount,
		Operator:    string(s.operator),
		PhoneNumber: s.phone,
		Status:      paymentmodel.StatusPending,
	}
	if s.ussdCode != "" {
		attempt.USSDCode = strPtr(s.ussdCode)
	}
	s.mu.Unlock()

	if err := s.journal.Create(attempt); err != nil {
		s.logger.Error("failed to journal payment attempt", "reference", attempt.Reference, "error", err)
	}
}

func (s *Session) recordPoll(reference string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.IncrementPollCount(reference); err != nil {
		s.logger.Error("failed to journal poll", "reference", reference, "error", err)
	}
}

func (s *Session) recordStatus(reference, status string, failureReason *string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.UpdateStatus(reference, status, nil, failureReason); err != nil {
		s.logger.Error("failed to journal status", "reference", reference, "status", status, "error", err)
	}
}

func (s *Session) recordConfirmed(reference, orderID string, pendingSubmission bool) {
	if s.journal == nil {
		return
	}
	if err := s.journal.UpdateStatus(reference, paymentmodel.StatusSuccessful, nil, nil); err != nil {
		s.logger.Error("failed to journal confirmation", "reference", reference, "error", err)
	}
	var submittedID *string
	if orderID != "" {
		submittedID = &orderID
	}
	if err := s.journal.MarkConfirmed(reference, submittedID, pendingSubmission); err != nil {
		s.logger.Error("failed to journal reconciliation outcome", "reference", reference, "error", err)
	}
}

func journalStatusFor(status gateway.Status) string {
	if status == gateway.StatusCancelled {
		return paymentmodel.StatusCancelled
	}
	return paymentmodel.StatusFailed
}

func strPtr(s string) *string {
	return &s
}
