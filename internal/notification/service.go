// Package notification delivers run progress to operators and to
// downstream consumers.
package notification

import (
	"context"
	"fmt"
	"time"

	"loanflow/internal/domain"
	"loanflow/pkg/logger"

	"github.com/google/uuid"
)

// Priority represents the urgency of the notification.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

// Notification is an operator-facing message about a run.
type Notification struct {
	ID        uuid.UUID
	RunID     string
	Type      domain.EventType
	Priority  Priority
	Subject   string
	Body      string
	CreatedAt time.Time
}

// Sink receives every event, e.g. a message broker.
type Sink interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Service forwards events to its sinks and raises notifications for the
// ones an operator should see.
type Service struct {
	logger logger.Logger
	sinks  []Sink
}

func NewService(log logger.Logger, sinks ...Sink) *Service {
	return &Service{
		logger: log,
		sinks:  sinks,
	}
}

// Publish delivers e to every sink. A failing sink does not stop the others;
// the first error is returned.
func (s *Service) Publish(ctx context.Context, e domain.Event) error {
	if n := notificationFor(e); n != nil {
		s.send(n)
	}

	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, e); err != nil {
			s.logger.Error("Event sink failed", map[string]interface{}{
				"run_id": e.RunID,
				"type":   e.Type,
				"error":  err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func notificationFor(e domain.Event) *Notification {
	var subject, body string
	priority := PriorityNormal

	switch e.Type {
	case domain.EventFlowComplete:
		subject = "Lending run completed"
		body = fmt.Sprintf("Run %s completed.", e.RunID)

	case domain.EventFlowError:
		subject = "Lending run failed"
		body = fmt.Sprintf("Run %s failed: %s", e.RunID, e.Error)
		priority = PriorityUrgent

	case domain.EventStepUpdate:
		if e.Step == nil || e.Step.Status != domain.StepFailed {
			return nil
		}
		subject = "Step failed"
		body = fmt.Sprintf("Run %s step %s failed: %s", e.RunID, e.Step.ID, e.Step.Error)
		priority = PriorityHigh

	default:
		return nil
	}

	return &Notification{
		ID:        uuid.New(),
		RunID:     e.RunID,
		Type:      e.Type,
		Priority:  priority,
		Subject:   subject,
		Body:      body,
		CreatedAt: time.Now(),
	}
}

func (s *Service) send(n *Notification) {
	fields := map[string]interface{}{
		"notification_id": n.ID,
		"run_id":          n.RunID,
		"type":            n.Type,
		"subject":         n.Subject,
		"priority":        n.Priority,
		"body":            n.Body,
	}
	if n.Priority >= PriorityHigh {
		s.logger.Warn("Notification Sent", fields)
		return
	}
	s.logger.Info("Notification Sent", fields)
}
