package pipeline

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/notify"
)

// Files gives handlers read access to session uploads.
type Files interface {
	GetFile(ctx context.Context, id string) (*chat.File, error)
	ListFavoriteFiles(ctx context.Context, sessionID string) ([]chat.File, error)
}

// Runtime is what a handler instance gets to work with during one execution.
type Runtime struct {
	Session    *chat.Session
	Username   string
	Descriptor Descriptor
	Notify     *notify.Channel
	Files      Files
	Log        zerolog.Logger

	// History returns the session's rendered messages, oldest first.
	History func(ctx context.Context) ([]chat.View, error)

	handler Handler
}

func (rt *Runtime) bind(h Handler) { rt.handler = h }

// View renders m through the bound handler.
func (rt *Runtime) View(m *chat.Message) chat.View {
	return Render(rt.handler, rt.Session, m, rt.Username)
}
