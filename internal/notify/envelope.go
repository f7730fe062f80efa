// Package notify delivers runner envelopes to the subscribers of a session
// channel.
package notify

import (
	"context"
	"encoding/json"
)

// Envelope types.
const (
	TypeLog     = "runner.log"
	TypePartial = "runner.partial"
	TypeResult  = "runner.result"
	TypeError   = "runner.error"
	TypeMessage = "runner.message"
	TypeTitle   = "runner.title"
)

type Envelope struct {
	Type    string         `json:"type"`
	Message map[string]any `json:"message"`
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}

// Publisher appends one envelope to a channel. Each call is atomic with
// respect to other publishers of the same channel.
type Publisher interface {
	Publish(ctx context.Context, channelID string, env Envelope) error
}

// Subscriber streams a channel's envelopes. The returned func releases the
// subscription; the stream is closed afterwards.
type Subscriber interface {
	Subscribe(ctx context.Context, channelID string) (<-chan Envelope, func(), error)
}

type Broker interface {
	Publisher
	Subscriber
}
