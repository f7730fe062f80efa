package runner

import (
	"context"
	"errors"

	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
)

var errNoPipeline = errors.New("pipeline is no longer available")

// orphan renders messages of pipelines that no longer resolve.
type orphan struct {
	pipeline.Base
}

func (orphan) Title(context.Context, *chat.Message, *chat.Message) (string, error) {
	return "", errNoPipeline
}

func (orphan) Process(context.Context, *chat.Message, *chat.Message) error {
	return errNoPipeline
}

func fallback(alias string) *pipeline.Definition {
	return &pipeline.Definition{
		Descriptor: pipeline.NewDescriptor(alias, alias),
		New: func(rt *pipeline.Runtime) pipeline.Handler {
			return orphan{Base: pipeline.NewBase(rt)}
		},
	}
}

// SerializeMessages renders every message of a session owned by subj, oldest
// first.
func (e *Engine) SerializeMessages(ctx context.Context, subj permission.Subject, sessionID string) ([]chat.View, error) {
	session, err := e.repo.GetUserSession(ctx, subj.ID, sessionID)
	if err != nil {
		return nil, err
	}
	return e.serialize(ctx, session, subj)
}

func (e *Engine) serialize(ctx context.Context, s *chat.Session, subj permission.Subject) ([]chat.View, error) {
	msgs, err := e.repo.ListMessages(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	// one renderer per alias; rendering does not touch the channel
	renderers := make(map[string]*pipeline.Runtime)
	out := make([]chat.View, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		rt, ok := renderers[m.Pipeline]
		if !ok {
			rt = &pipeline.Runtime{Session: s, Username: subj.Username, Files: e.repo, Log: e.log}
			// a deleted pipeline must not force a rebuild on every turn
			def, err := e.registry.Cached(ctx, m.Pipeline, subj)
			if err != nil {
				def = fallback(m.Pipeline)
			}
			// binds the handler's views to rt
			_ = def.Instantiate(rt)
			renderers[m.Pipeline] = rt
		}
		out = append(out, rt.View(m))
	}
	return out, nil
}
