package pipeline

import (
	"context"

	"github.com/suPer8Hu/pipeline-platform/internal/chat"
)

// Handler executes one turn of a pipeline. An instance is built per execution
// from a Runtime and is not shared between sessions.
//
// Process mutates resp.Data and may stream partial renderings through the
// runtime's channel. A returned error fails the turn; the engine persists it
// as an error message.
type Handler interface {
	Descriptor() Descriptor
	// Title names a session after its first successful turn.
	Title(ctx context.Context, req, resp *chat.Message) (string, error)

	FormatRequest(m *chat.Message) string
	FormatResponse(m *chat.Message) string
	FormatError(m *chat.Message) string

	Preprocess(ctx context.Context, req, resp *chat.Message) error
	Process(ctx context.Context, req, resp *chat.Message) error
	Postprocess(ctx context.Context, req, resp *chat.Message) error
}

// Definition is the shared, immutable part of a pipeline: its descriptor,
// payload schema and handler constructor.
type Definition struct {
	Descriptor Descriptor
	Schema     *Schema
	New        func(rt *Runtime) Handler
}

// WithDescriptor returns a copy of d carrying desc.
func (d *Definition) WithDescriptor(desc Descriptor) *Definition {
	cp := *d
	cp.Descriptor = desc
	return &cp
}

// PayloadSchema returns the runtime payload schema, the prompt form by default.
func (d *Definition) PayloadSchema() *Schema {
	if d.Schema == nil {
		return PromptSchema()
	}
	return d.Schema
}

// Instantiate builds a handler bound to rt.
func (d *Definition) Instantiate(rt *Runtime) Handler {
	rt.Descriptor = d.Descriptor
	h := d.New(rt)
	rt.bind(h)
	return h
}
