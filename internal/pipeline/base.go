package pipeline

import (
	"context"

	"github.com/suPer8Hu/pipeline-platform/internal/chat"
)

// Base provides the default behaviour of a Handler. Embed it and implement
// Title and Process.
type Base struct {
	RT *Runtime
}

func NewBase(rt *Runtime) Base { return Base{RT: rt} }

func (b Base) Descriptor() Descriptor { return b.RT.Descriptor }

func (b Base) FormatRequest(m *chat.Message) string  { return m.Text("prompt") }
func (b Base) FormatResponse(m *chat.Message) string { return m.Text("result") }
func (b Base) FormatError(m *chat.Message) string    { return m.Text("error") }

func (b Base) Preprocess(context.Context, *chat.Message, *chat.Message) error  { return nil }
func (b Base) Postprocess(context.Context, *chat.Message, *chat.Message) error { return nil }

// Log sends a progress line on the session channel.
func (b Base) Log(ctx context.Context, text string) {
	b.RT.Notify.Log(ctx, text)
}

// SendPartial streams the current rendering of resp.
func (b Base) SendPartial(ctx context.Context, resp *chat.Message) {
	b.RT.Notify.Partial(ctx, b.RT.View(resp))
}
