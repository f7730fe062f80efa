package pipelines

import (
	"context"

	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
)

type echo struct {
	pipeline.Base
}

// Echo answers with the user's prompt.
func Echo() *pipeline.Definition {
	desc := pipeline.NewDescriptor("demo.echo", "Echo pipeline")
	desc.Description = "Returns the message sent by the user"
	return &pipeline.Definition{
		Descriptor: desc,
		New: func(rt *pipeline.Runtime) pipeline.Handler {
			return &echo{Base: pipeline.NewBase(rt)}
		},
	}
}

func (e *echo) Title(context.Context, *chat.Message, *chat.Message) (string, error) {
	return "Echo", nil
}

func (e *echo) Process(_ context.Context, req, resp *chat.Message) error {
	resp.SetResult(req.Text("prompt"))
	return nil
}
