package kafka

import (
	"context"

	"github.com/freightopt/eventbus/events"
	"github.com/stretchr/testify/mock"
)

// MockPublisher is a testify mock of Publisher for code that publishes
// events without a broker.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, evt *events.Event) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *MockPublisher) PublishBatch(ctx context.Context, evts ...*events.Event) error {
	return m.Called(ctx, evts).Error(0)
}

var _ Publisher = (*MockPublisher)(nil)

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}
