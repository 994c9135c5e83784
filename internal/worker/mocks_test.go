package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/ingest"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
)

type MockPipeline struct {
	mock.Mock
}

func (m *MockPipeline) Pending(ctx context.Context, a source.Adapter, force bool) (int, []source.Location, error) {
	args := m.Called(ctx, a, force)
	if v := args.Get(1); v != nil {
		return args.Int(0), v.([]source.Location), args.Error(2)
	}
	return args.Int(0), nil, args.Error(2)
}

func (m *MockPipeline) Process(ctx context.Context, a source.Adapter, loc source.Location, force bool) ingest.Result {
	args := m.Called(ctx, a, loc, force)
	return args.Get(0).(ingest.Result)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type stubAdapter struct {
	origin string
}

func (s stubAdapter) Origin() string { return s.origin }

func (s stubAdapter) Discover(context.Context) ([]source.Location, error) { return nil, nil }

func (s stubAdapter) Fetch(context.Context, source.Location) (*source.Payload, error) {
	return nil, source.ErrUnknownOrigin
}
