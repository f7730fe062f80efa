package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/store/redisstore"
)

// RedisBroker carries envelopes over Redis pub/sub so the API and worker
// processes share channels.
type RedisBroker struct {
	store *redisstore.Store
	log   zerolog.Logger
}

func NewRedisBroker(store *redisstore.Store, log zerolog.Logger) *RedisBroker {
	return &RedisBroker{store: store, log: log}
}

func topic(channelID string) string { return "channel:" + channelID }

func (b *RedisBroker) Publish(ctx context.Context, channelID string, env Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}
	return b.store.Publish(ctx, topic(channelID), body)
}

func (b *RedisBroker) Subscribe(ctx context.Context, channelID string) (<-chan Envelope, func(), error) {
	raw, cancel, err := b.store.Subscribe(ctx, topic(channelID))
	if err != nil {
		return nil, nil, err
	}
	out := make(chan Envelope, 64)
	go b.relay(ctx, channelID, raw, out)
	return out, cancel, nil
}

// relay decodes raw into out until raw closes or ctx is done. A reader that
// went away never leaves it blocked on a full out.
func (b *RedisBroker) relay(ctx context.Context, channelID string, raw <-chan []byte, out chan<- Envelope) {
	defer close(out)
	for body := range raw {
		env, err := Decode(body)
		if err != nil {
			b.log.Warn().Err(err).Str("channel_id", channelID).Msg("bad envelope")
			continue
		}
		select {
		case out <- env:
		case <-ctx.Done():
			return
		}
	}
}
