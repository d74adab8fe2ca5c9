package notify

import (
	"context"
	"sync"
)

// MemBroker is an in-process broker used when NATS is not configured.
type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message)}
}

func (b *MemBroker) Publish(_ context.Context, subject string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := Message{Subject: subject, Payload: payload}
	for _, ch := range b.subs[subject] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, subjects []string) (<-chan Message, error) {
	ch := make(chan Message, 256)
	b.mu.Lock()
	for _, s := range subjects {
		b.subs[s] = append(b.subs[s], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for _, s := range subjects {
			b.subs[s] = remove(b.subs[s], ch)
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (b *MemBroker) Close() error { return nil }

func remove(list []chan Message, ch chan Message) []chan Message {
	out := list[:0]
	for _, c := range list {
		if c != ch {
			out = append(out, c)
		}
	}
	return out
}
