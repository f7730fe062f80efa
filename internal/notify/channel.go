package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/metrics"
)

// Channel is the notification handle of one session. Sends never fail the
// caller: transport errors are logged and counted.
type Channel struct {
	pub       Publisher
	channelID string
	sessionID string
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

func NewChannel(pub Publisher, channelID, sessionID string, log zerolog.Logger, m *metrics.Metrics) *Channel {
	return &Channel{
		pub:       pub,
		channelID: channelID,
		sessionID: sessionID,
		log:       log.With().Str("channel_id", channelID).Logger(),
		metrics:   m,
	}
}

func (c *Channel) ID() string { return c.channelID }

func (c *Channel) send(ctx context.Context, typ string, msg map[string]any) {
	c.log.Debug().Str("type", typ).Msg("notify")
	c.metrics.RecordNotification(typ)
	if err := c.pub.Publish(ctx, c.channelID, Envelope{Type: typ, Message: msg}); err != nil {
		c.metrics.RecordNotificationError()
		c.log.Warn().Err(err).Str("type", typ).Msg("notification dropped")
	}
}

// Log sends a progress line.
func (c *Channel) Log(ctx context.Context, text string) {
	c.send(ctx, TypeLog, map[string]any{"content": text, "session_id": c.sessionID})
}

// Partial sends an in-progress rendering of the response message.
func (c *Channel) Partial(ctx context.Context, data any) {
	c.send(ctx, TypePartial, map[string]any{"data": data})
}

// Result sends the final rendering of the response message.
func (c *Channel) Result(ctx context.Context, data any) {
	c.send(ctx, TypeResult, map[string]any{"data": data})
}

// Error sends an error; data is either a text or a rendered message.
func (c *Channel) Error(ctx context.Context, data any) {
	c.send(ctx, TypeError, map[string]any{"data": data, "session_id": c.sessionID})
}

// Message sends a persisted message.
func (c *Channel) Message(ctx context.Context, data any) {
	c.send(ctx, TypeMessage, map[string]any{"data": data})
}

func (c *Channel) Title(ctx context.Context, title string) {
	c.send(ctx, TypeTitle, map[string]any{"session_id": c.sessionID, "title": title})
}
