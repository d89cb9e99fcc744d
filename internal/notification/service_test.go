package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"loanflow/internal/domain"
	"loanflow/pkg/logger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

func TestKafkaPublisher_KeysByRun(t *testing.T) {
	w := new(MockWriter)
	var sent []kafka.Message
	w.On("WriteMessages", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).([]kafka.Message)
	}).Return(nil)

	p := NewKafkaPublisherWithWriter(w)
	e := domain.StepEvent(domain.StepRecord{ID: "vault-create", Status: domain.StepSuccess})
	e.RunID = "run-7"
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, sent, 1)
	assert.Equal(t, "run-7", string(sent[0].Key))
	assert.Equal(t, "step_update", string(sent[0].Headers[0].Value))

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(sent[0].Value, &decoded))
	assert.Equal(t, "vault-create", decoded.Step.ID)
	w.AssertExpectations(t)
}

type failingSink struct{ calls int }

func (f *failingSink) Publish(ctx context.Context, e domain.Event) error {
	f.calls++
	return fmt.Errorf("broker down")
}

type countingSink struct{ calls int }

func (c *countingSink) Publish(ctx context.Context, e domain.Event) error {
	c.calls++
	return nil
}

func TestService_PublishesToEverySink(t *testing.T) {
	bad, good := &failingSink{}, &countingSink{}
	svc := NewService(logger.NewNop(), bad, good)

	err := svc.Publish(context.Background(), domain.CompleteEvent("report"))
	assert.EqualError(t, err, "broker down")
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

func TestNotificationFor(t *testing.T) {
	assert.Nil(t, notificationFor(domain.ReportEvent("line")))
	assert.Nil(t, notificationFor(domain.StepEvent(domain.StepRecord{ID: "a", Status: domain.StepSuccess})))

	n := notificationFor(domain.ErrorEvent(fmt.Errorf("tecNO_PERMISSION"), ""))
	require.NotNil(t, n)
	assert.Equal(t, PriorityUrgent, n.Priority)
	assert.Contains(t, n.Body, "tecNO_PERMISSION")

	n = notificationFor(domain.StepEvent(domain.StepRecord{ID: "loan-create", Status: domain.StepFailed, Error: "boom"}))
	require.NotNil(t, n)
	assert.Equal(t, PriorityHigh, n.Priority)
}
