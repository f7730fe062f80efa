package pipelines

import (
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/pipeline-platform/internal/ai"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
)

var languages = []any{"french", "english", "german", "spanish", "italian"}

const translatePrompt = `Please translate this text to %s. Do not add a title nor introduction nor explanations, only provide the translation. Here is the text to translate :
%s
`

const messageTitlePrompt = "Define a title for this message, only give the title without comments or explanations : user message : %s"

// TranslationFactory produces pipelines translating text to one language.
type TranslationFactory struct {
	pipeline.NoPopulate
	deps   Deps
	schema *pipeline.Schema
}

func NewTranslationFactory(d Deps) *TranslationFactory {
	d = d.withDefaults()
	return &TranslationFactory{deps: d, schema: translationSchema(d)}
}

func (f *TranslationFactory) Descriptor() pipeline.FactoryDescriptor {
	return pipeline.FactoryDescriptor{
		Alias:       "translation",
		Label:       "Translate a text",
		Description: "Translate a text using a neural network",
	}
}

func (f *TranslationFactory) Schema() *pipeline.Schema { return f.schema }

func translationSchema(d Deps) *pipeline.Schema {
	model := pipeline.Field{Name: "model", Title: "Translation Model", Type: pipeline.TypeString, Required: true}
	if d.DefaultModel != "" {
		model.Default = d.DefaultModel
	}
	return pipeline.NewSchema("Translation",
		model,
		pipeline.Field{Name: "language", Title: "Language", Type: pipeline.TypeString, Required: true, Enum: languages, Default: "english"},
	)
}

func (f *TranslationFactory) Produce(params map[string]any) (*pipeline.Definition, error) {
	model, _ := params["model"].(string)
	language, _ := params["language"].(string)
	if language == "" {
		language = "english"
	}
	p, err := f.deps.Providers.Get(context.Background(), "ollama", model)
	if err != nil {
		return nil, err
	}
	label := strings.ToUpper(language[:1]) + language[1:]

	desc := pipeline.NewDescriptor("", fmt.Sprintf("%s Translation", label))
	desc.Description = fmt.Sprintf("This pipeline will translate texts to %s", language)
	titles := f.deps.Titles
	return &pipeline.Definition{
		Descriptor: desc,
		New: func(rt *pipeline.Runtime) pipeline.Handler {
			return &translator{Base: pipeline.NewBase(rt), provider: p, language: language, label: label, titles: titles}
		},
	}, nil
}

type translator struct {
	pipeline.Base
	provider ai.Provider
	language string
	label    string
	titles   ai.TitleGenerator
}

func (t *translator) Title(ctx context.Context, req, _ *chat.Message) (string, error) {
	title, err := t.titles.GenerateTitle(ctx, fmt.Sprintf(messageTitlePrompt, req.Text("prompt")))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s translation: %s", t.label, title), nil
}

func (t *translator) Process(ctx context.Context, req, resp *chat.Message) error {
	t.Log(ctx, fmt.Sprintf("Starting translation to %s", t.language))
	prompt := fmt.Sprintf(translatePrompt, t.language, req.Text("prompt"))
	text, err := ai.Stream(ctx, t.provider, []ai.Message{{Role: ai.RoleUser, Content: prompt}}, func(acc string) {
		resp.SetResult(acc)
		t.SendPartial(ctx, resp)
	})
	if err != nil {
		return err
	}
	resp.SetResult(text)
	return nil
}
