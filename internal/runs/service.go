// Package runs manages lending flow runs for the API: it starts them in the
// background, tracks the live session and keeps snapshots and history.
package runs

import (
	"context"
	"sync"
	"time"

	"loanflow/internal/domain"
	"loanflow/internal/flow"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"
	"loanflow/pkg/validator"

	"github.com/google/uuid"
)

// Runner executes one session to completion.
type Runner interface {
	Run(ctx context.Context, s *flow.Session) error
}

type StartRequest struct {
	Scenario domain.ScenarioID `json:"scenario" validate:"required"`
}

type Service struct {
	runner     Runner
	snapshots  SnapshotStore
	archive    Archive
	publishers []EventPublisher
	validator  *validator.Validator
	logger     logger.Logger

	storeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*flow.Session
	active   string
}

type Option func(*Service)

func WithPublishers(p ...EventPublisher) Option {
	return func(s *Service) { s.publishers = append(s.publishers, p...) }
}

func WithArchive(a Archive) Option {
	return func(s *Service) { s.archive = a }
}

func NewService(runner Runner, snapshots SnapshotStore, log logger.Logger, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		runner:       runner,
		snapshots:    snapshots,
		archive:      NopArchive{},
		validator:    validator.New(),
		logger:       log,
		storeTimeout: 5 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
		sessions:     map[string]*flow.Session{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches a run in the background and returns its id. Only one run
// may be active at a time.
func (s *Service) Start(ctx context.Context, req StartRequest) (string, error) {
	if err := s.validator.Validate(req); err != nil {
		return "", err
	}
	if _, ok := flow.LookupScenario(req.Scenario); !ok {
		return "", errors.Wrap(errors.ErrUnknownScenario, string(req.Scenario))
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return "", errors.ErrShuttingDown
	}
	if s.active != "" {
		s.mu.Unlock()
		return "", errors.ErrRunInProgress
	}
	runID := uuid.New().String()
	session := flow.NewSession(runID, req.Scenario)
	s.sessions[runID] = session
	s.active = runID
	s.wg.Add(1)
	s.mu.Unlock()

	session.Subscribe(s.observe)
	s.save(session.State())

	s.logger.Info("Run accepted", map[string]interface{}{"run_id": runID, "scenario": req.Scenario})

	go s.execute(session)
	return runID, nil
}

func (s *Service) execute(session *flow.Session) {
	defer s.wg.Done()
	runID := session.RunID()

	err := s.runner.Run(s.ctx, session)
	final := session.State()

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()
	if archiveErr := s.archive.Save(ctx, final.Redacted()); archiveErr != nil {
		s.logger.Error("Failed to archive run", map[string]interface{}{"run_id": runID, "error": archiveErr})
	}

	s.mu.Lock()
	if s.active == runID {
		s.active = ""
	}
	delete(s.sessions, runID)
	s.mu.Unlock()

	fields := map[string]interface{}{"run_id": runID, "status": final.Status}
	if err != nil {
		fields["error"] = err
	}
	s.logger.Info("Run finished", fields)
}

// observe is subscribed to every session: it refreshes the snapshot and
// forwards the event.
func (s *Service) observe(e domain.Event, st domain.FlowState) {
	s.save(st)
	if len(s.publishers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()
	for _, p := range s.publishers {
		if err := p.Publish(ctx, e); err != nil {
			s.logger.Warn("Failed to publish event", map[string]interface{}{
				"run_id": e.RunID,
				"type":   e.Type,
				"error":  err,
			})
		}
	}
}

func (s *Service) save(st domain.FlowState) {
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, st); err != nil {
		s.logger.Warn("Failed to store run snapshot", map[string]interface{}{"run_id": st.RunID, "error": err})
	}
}

func (s *Service) live(runID string) (*flow.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[runID]
	return session, ok
}

// Get returns the run's state without signing seeds.
func (s *Service) Get(ctx context.Context, runID string) (domain.FlowState, error) {
	if session, ok := s.live(runID); ok {
		return session.State().Redacted(), nil
	}
	st, err := s.snapshots.Load(ctx, runID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, errors.ErrRunNotFound) {
		s.logger.Warn("Snapshot lookup failed", map[string]interface{}{"run_id": runID, "error": err})
	}
	return s.archive.Get(ctx, runID)
}

func (s *Service) Report(ctx context.Context, runID string) (string, error) {
	st, err := s.Get(ctx, runID)
	if err != nil {
		return "", err
	}
	return st.ReportText(), nil
}

// Subscribe attaches fn to a live run and returns the state it starts from.
// For a run that is no longer live the state is final, live is false and fn
// is never called.
func (s *Service) Subscribe(ctx context.Context, runID string, fn flow.Subscriber) (st domain.FlowState, cancel func(), live bool, err error) {
	if session, ok := s.live(runID); ok {
		snap, stop := session.Subscribe(fn)
		return snap.Redacted(), stop, true, nil
	}
	st, err = s.Get(ctx, runID)
	return st, func() {}, false, err
}

func (s *Service) List(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.archive.List(ctx, limit)
}

func (s *Service) Scenarios() []flow.Scenario {
	return flow.Scenarios()
}

// Active returns the id of the running run, if any.
func (s *Service) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != ""
}

// Wait blocks until every started run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running runs and waits for them, or for ctx. Start fails
// with ErrShuttingDown from then on.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
