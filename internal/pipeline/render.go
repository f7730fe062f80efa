package pipeline

import (
	"time"

	"github.com/suPer8Hu/pipeline-platform/internal/chat"
)

const timeFormat = time.RFC3339

// Render produces the client view of m using h's formatters.
func Render(h Handler, s *chat.Session, m *chat.Message, username string) chat.View {
	desc := h.Descriptor()

	var content string
	switch m.Kind {
	case chat.KindRequest:
		content = h.FormatRequest(m)
	case chat.KindResponse:
		content = h.FormatResponse(m)
	case chat.KindError:
		content = h.FormatError(m)
	}

	return chat.View{
		ID:            m.ID,
		SessionID:     s.ID,
		ChannelID:     s.ChannelID(),
		CreatedOn:     m.CreatedAt.UTC().Format(timeFormat),
		Kind:          m.Kind,
		Username:      username,
		Content:       content,
		Pipeline:      m.Pipeline,
		PipelineLabel: desc.Label,
		Status:        m.Status,
		Valid:         m.Valid,
		Selected:      m.Selected,
		Renderer:      m.Renderer,
	}
}
