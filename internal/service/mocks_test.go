package service_test

import (
	"context"
	"sync"

	"jobboard.app/atsbridge/internal/queue"
)

type mockProducer struct {
	notifyFn func(ctx context.Context, n queue.Notice) error

	mu      sync.Mutex
	notices []queue.Notice
}

func (m *mockProducer) Notify(ctx context.Context, n queue.Notice) error {
	m.mu.Lock()
	m.notices = append(m.notices, n)
	m.mu.Unlock()
	if m.notifyFn != nil {
		return m.notifyFn(ctx, n)
	}
	return nil
}

func (m *mockProducer) SendDLQ(context.Context, queue.DeadLetter) error {
	return nil
}

func (m *mockProducer) Close() error {
	return nil
}

func (m *mockProducer) Notices() []queue.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]queue.Notice(nil), m.notices...)
}
