package ai

import (
	"context"
	"strings"
)

const maxTitleLen = 250

// TitleGenerator turns a prompt into a short session title.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, prompt string) (string, error)
}

type generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMTitleGenerator asks a model for a title. Providers that expose a plain
// completion endpoint use it; others get a single user turn.
type LLMTitleGenerator struct {
	Provider Provider
}

func NewLLMTitleGenerator(p Provider) *LLMTitleGenerator {
	return &LLMTitleGenerator{Provider: p}
}

func (g *LLMTitleGenerator) GenerateTitle(ctx context.Context, prompt string) (string, error) {
	var (
		out string
		err error
	)
	if gen, ok := g.Provider.(generator); ok {
		out, err = gen.Generate(ctx, prompt)
	} else {
		out, err = g.Provider.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}})
	}
	if err != nil {
		return "", err
	}
	return CleanTitle(out), nil
}

// CleanTitle strips double quotes and surrounding space and caps the length.
func CleanTitle(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	if r := []rune(s); len(r) > maxTitleLen {
		s = string(r[:maxTitleLen])
	}
	return s
}

// StaticTitle always returns the same title. Used when no model is configured.
type StaticTitle string

func (t StaticTitle) GenerateTitle(context.Context, string) (string, error) {
	return string(t), nil
}
