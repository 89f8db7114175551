package payment

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/samitochi04/cameroon-marketplace-sub000/internal"
	ordermodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/order"
	paymentmodel "github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/payment"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/core/events"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/gateway"
)

// Staging is the full staged-order slot contract, including the checkout-time
// write the session itself never performs.
type Staging interface {
	StagingStore
	Save(pending *ordermodel.PendingOrder) error
}

// Service owns the live payment sessions and the attempt journal. Sessions
// are in-memory: a session that does not survive a process restart is
// recovered through the journal by the reconciler, not resumed.
type Service struct {
	cfg       internal.SessionConfig
	gateway   GatewayAPI
	staging   Staging
	submitter SubmitterAPI
	journal   Journal
	bus       *events.EventBus
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewService(cfg internal.SessionConfig, gw GatewayAPI, staging Staging, submitter SubmitterAPI, journal Journal, bus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		cfg:       cfg.Normalized(),
		gateway:   gw,
		staging:   staging,
		submitter: submitter,
		journal:   journal,
		bus:       bus,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// StageOrder durably stores the checkout payload so it survives until a
// payment confirms. The slot holds exactly one order: staging again before
// the previous payment resolved replaces it.
func (s *Service) StageOrder(pending *ordermodel.PendingOrder) *internal.AppError {
	if pending == nil || pending.Empty() {
		return internal.NewValidationError("staged order must contain at least one item", internal.ErrCodeValidationFailed)
	}
	if err := s.staging.Save(pending); err != nil {
		s.logger.Error("failed to stage order", "error", err)
		return internal.NewInternalError("failed to stage order", err)
	}
	return nil
}

// InitiatePayment creates a session, starts it and registers it for later
// lookup. Sessions that fail during initiation are registered too so the
// caller can inspect what went wrong.
func (s *Service) InitiatePayment(ctx context.Context, req *Request) (Snapshot, *internal.AppError) {
	sess := NewSession(uuid.NewString(), s.cfg, s.gateway, s.staging, s.submitter, s.journal, s.bus, s.logger)

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	appErr := sess.Start(ctx, req)
	return sess.Snapshot(), appErr
}

// GetSession returns the current state of a session.
func (s *Service) GetSession(id string) (Snapshot, *internal.AppError) {
	sess, appErr := s.lookup(id)
	if appErr != nil {
		return Snapshot{}, appErr
	}
	return sess.Snapshot(), nil
}

// CheckSession runs one immediate status query for an impatient caller.
func (s *Service) CheckSession(ctx context.Context, id string) (Snapshot, *internal.AppError) {
	sess, appErr := s.lookup(id)
	if appErr != nil {
		return Snapshot{}, appErr
	}
	return sess.CheckNow(ctx)
}

// CancelSession abandons a session. The gateway payment itself is not
// rescinded.
func (s *Service) CancelSession(id string) (Snapshot, *internal.AppError) {
	sess, appErr := s.lookup(id)
	if appErr != nil {
		return Snapshot{}, appErr
	}
	sess.Cancel()
	return sess.Snapshot(), nil
}

// HandleGatewayCallback applies a status pushed by the gateway to the session
// holding that reference. Callbacks for references with no live session are
// journaled and left to the reconciler.
func (s *Service) HandleGatewayCallback(ctx context.Context, reference string, status gateway.Status) *internal.AppError {
	if reference == "" {
		return internal.NewValidationError("reference is required", internal.ErrCodeValidationFailed)
	}

	s.mu.Lock()
	var target *Session
	for _, sess := range s.sessions {
		if sess.Reference() == reference {
			target = sess
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		s.logger.Warn("gateway callback for unknown session, journaling only", "reference", reference, "status", string(status))
		if s.journal != nil && status.Terminal() {
			if status == gateway.StatusSuccessful {
				// payment captured with no live session: the reconciler
				// owes the customer an order
				if err := s.journal.UpdateStatus(reference, paymentmodel.StatusSuccessful, nil, nil); err != nil {
					s.logger.Error("failed to journal callback", "reference", reference, "error", err)
				}
				if err := s.journal.MarkConfirmed(reference, nil, true); err != nil {
					s.logger.Error("failed to journal callback outcome", "reference", reference, "error", err)
				}
			} else {
				reason := "reported by gateway callback"
				if err := s.journal.UpdateStatus(reference, journalStatusFor(status), nil, &reason); err != nil {
					s.logger.Error("failed to journal callback", "reference", reference, "error", err)
				}
			}
		}
		return nil
	}

	target.ApplyCallbackStatus(ctx, status)
	return nil
}

// Shutdown cancels every live non-terminal session.
func (s *Service) Shutdown() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Cancel()
	}
}

func (s *Service) lookup(id string) (*Session, *internal.AppError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, internal.ErrSessionNotFound
	}
	return sess, nil
}
