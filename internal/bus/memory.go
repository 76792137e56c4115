package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus fake for tests: Publish fans a copy of the
// payload out to every subscriber currently registered for that exact
// subject. No persistence, no redelivery.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan Message
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Message)}
}

func (m *MemoryBus) Publish(_ context.Context, subject string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	body := make([]byte, len(payload))
	copy(body, payload)
	for _, ch := range m.subs[subject] {
		ch <- Message{
			Subject: subject,
			Body:    body,
			Ack:     func() error { return nil },
			Nack:    func(bool) error { return nil },
		}
	}
	return nil
}

func (m *MemoryBus) Subscribe(ctx context.Context, subject string) (<-chan Message, error) {
	ch := make(chan Message, 16)
	m.mu.Lock()
	m.subs[subject] = append(m.subs[subject], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[subject]
		for i, c := range subs {
			if c == ch {
				m.subs[subject] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (m *MemoryBus) Close() error { return nil }
