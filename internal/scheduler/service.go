// Package scheduler starts lending scenarios on a fixed interval, for example
// as a devnet canary.
package scheduler

import (
	"context"
	"sync"
	"time"

	"loanflow/internal/domain"
	"loanflow/internal/runs"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"

	"github.com/google/uuid"
)

// Starter launches a run. runs.Service satisfies it.
type Starter interface {
	Start(ctx context.Context, req runs.StartRequest) (string, error)
}

// ScheduledRun is one recurring scenario.
type ScheduledRun struct {
	ID       string
	Scenario domain.ScenarioID
	Interval time.Duration
	NextRun  time.Time
	Status   string // "active", "paused"
	LastRun  string
	Skipped  int
}

type Scheduler struct {
	starter Starter
	tasks   map[string]*ScheduledRun
	mu      sync.RWMutex
	logger  logger.Logger
	tick    time.Duration
	now     func() time.Time
	stop    chan struct{}
	done    chan struct{}
}

func NewScheduler(starter Starter, log logger.Logger) *Scheduler {
	return &Scheduler{
		starter: starter,
		tasks:   make(map[string]*ScheduledRun),
		logger:  log,
		tick:    time.Second,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Schedule registers a recurring scenario and returns its id. The first run
// is one interval from now unless NextRun is set.
func (s *Scheduler) Schedule(sr *ScheduledRun) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sr.ID == "" {
		sr.ID = uuid.New().String()
	}
	if sr.NextRun.IsZero() {
		sr.NextRun = s.now().Add(sr.Interval)
	}
	sr.Status = "active"

	s.tasks[sr.ID] = sr
	s.logger.Info("Scheduled recurring run", map[string]interface{}{
		"id":       sr.ID,
		"scenario": sr.Scenario,
		"interval": sr.Interval.String(),
	})
	return sr.ID
}

func (s *Scheduler) Pause(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.Status = "paused"
		return true
	}
	return false
}

// Tasks returns copies of the registered runs.
func (s *Scheduler) Tasks() []ScheduledRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ScheduledRun, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.processTasks(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("Run scheduler started", nil)
}

// Stop ends the loop and waits for it. Runs already started keep going.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) processTasks(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, task := range s.tasks {
		if task.Status != "active" || now.Before(task.NextRun) {
			continue
		}
		s.startRun(ctx, task)
		task.NextRun = now.Add(task.Interval)
	}
}

func (s *Scheduler) startRun(ctx context.Context, task *ScheduledRun) {
	runID, err := s.starter.Start(ctx, runs.StartRequest{Scenario: task.Scenario})
	switch {
	case err == nil:
		task.LastRun = runID
		s.logger.Info("Scheduled run started", map[string]interface{}{"id": task.ID, "run_id": runID})
	case errors.Is(err, errors.ErrRunInProgress):
		task.Skipped++
		s.logger.Warn("Scheduled run skipped, another run is active", map[string]interface{}{"id": task.ID})
	default:
		s.logger.Error("Failed to start scheduled run", map[string]interface{}{"id": task.ID, "error": err.Error()})
	}
}
