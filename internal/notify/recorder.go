package notify

import (
	"context"
	"sync"
)

// Recorder keeps every published envelope in order. It can wrap another
// publisher.
type Recorder struct {
	mu   sync.Mutex
	next Publisher
	sent []Recorded
}

type Recorded struct {
	ChannelID string
	Envelope
}

func NewRecorder(next Publisher) *Recorder {
	return &Recorder{next: next}
}

func (r *Recorder) Publish(ctx context.Context, channelID string, env Envelope) error {
	r.mu.Lock()
	r.sent = append(r.sent, Recorded{ChannelID: channelID, Envelope: env})
	r.mu.Unlock()
	if r.next != nil {
		return r.next.Publish(ctx, channelID, env)
	}
	return nil
}

func (r *Recorder) All() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.sent...)
}

// Types returns the envelope types sent, in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.Type)
	}
	return out
}

func (r *Recorder) Count(typ string) int {
	n := 0
	for _, t := range r.Types() {
		if t == typ {
			n++
		}
	}
	return n
}
