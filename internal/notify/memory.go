package notify

import (
	"context"
	"sync"
)

// MemoryBroker fans envelopes out to in-process subscribers. Slow subscribers
// lose envelopes rather than block publishers.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Envelope
	nextID int
	buffer int
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]chan Envelope), buffer: 256}
}

func (b *MemoryBroker) Publish(_ context.Context, channelID string, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channelID] {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channelID string) (<-chan Envelope, func(), error) {
	ch := make(chan Envelope, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[channelID] == nil {
		b.subs[channelID] = make(map[int]chan Envelope)
	}
	b.subs[channelID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channelID], id)
			if len(b.subs[channelID]) == 0 {
				delete(b.subs, channelID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}
