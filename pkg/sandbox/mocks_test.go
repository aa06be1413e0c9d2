package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona"
)

// MockRemote mocks the Remote interface.
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) CreateSandbox(ctx context.Context, params daytona.CreateSandboxParams) (*daytona.Sandbox, error) {
	args := m.Called(ctx, params)
	if sb := args.Get(0); sb != nil {
		return sb.(*daytona.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemote) GetSandbox(ctx context.Context, id string) (*daytona.Sandbox, error) {
	args := m.Called(ctx, id)
	if sb := args.Get(0); sb != nil {
		return sb.(*daytona.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemote) StartSandbox(ctx context.Context, id string) (*daytona.Sandbox, error) {
	args := m.Called(ctx, id)
	if sb := args.Get(0); sb != nil {
		return sb.(*daytona.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemote) StopSandbox(ctx context.Context, id string) (*daytona.Sandbox, error) {
	args := m.Called(ctx, id)
	if sb := args.Get(0); sb != nil {
		return sb.(*daytona.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemote) DeleteSandbox(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
