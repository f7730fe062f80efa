package ai

import (
	"context"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a chat completion backend bound to one model.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Stream runs a streaming chat when p supports it and calls onChunk with the
// accumulated text after every chunk. Providers without streaming get a single
// call with the full reply.
func Stream(ctx context.Context, p Provider, messages []Message, onChunk func(text string)) (string, error) {
	sp, ok := p.(StreamProvider)
	if !ok {
		text, err := p.Chat(ctx, messages)
		if err != nil {
			return "", err
		}
		if onChunk != nil {
			onChunk(text)
		}
		return text, nil
	}

	chunks, errs := sp.StreamChat(ctx, messages)
	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
		if onChunk != nil {
			onChunk(b.String())
		}
	}
	if err := <-errs; err != nil {
		return b.String(), err
	}
	return b.String(), nil
}
