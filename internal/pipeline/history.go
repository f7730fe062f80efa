package pipeline

import (
	"github.com/suPer8Hu/pipeline-platform/internal/ai"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
)

// ChatHistory converts rendered session messages into model-facing turns.
// Only selected messages count; excludeID (usually the pending response) is
// skipped. An empty assistant turn is dropped together with the user turn
// right before it.
func ChatHistory(views []chat.View, excludeID string) []ai.Message {
	out := make([]ai.Message, 0, len(views))
	for _, v := range views {
		if !v.Selected || v.ID == excludeID {
			continue
		}
		switch v.Kind {
		case chat.KindRequest:
			out = append(out, ai.Message{Role: ai.RoleUser, Content: v.Content})
		case chat.KindResponse:
			if v.Content == "" {
				if n := len(out); n > 0 && out[n-1].Role == ai.RoleUser {
					out = out[:n-1]
				}
				continue
			}
			out = append(out, ai.Message{Role: ai.RoleAssistant, Content: v.Content})
		}
	}
	return out
}
