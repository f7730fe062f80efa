package pipelines

import (
	"context"
	"errors"
	"fmt"

	"github.com/suPer8Hu/pipeline-platform/internal/ai"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
)

const chatTitlePrompt = "Define a title for our chat, only give the title without comments or explanations : user message : %s. your answer:  %s"

// ChatFactory produces conversational pipelines bound to a model and a system
// prompt.
type ChatFactory struct {
	deps   Deps
	schema *pipeline.Schema
}

func NewChatFactory(d Deps) *ChatFactory {
	d = d.withDefaults()
	return &ChatFactory{deps: d, schema: chatSchema(d)}
}

func (f *ChatFactory) Descriptor() pipeline.FactoryDescriptor {
	return pipeline.FactoryDescriptor{
		Alias:       "ollama",
		Label:       "Create a chat pipeline",
		Description: "Chat with a language model instructed by a system prompt",
	}
}

func (f *ChatFactory) Schema() *pipeline.Schema { return f.schema }

func chatSchema(d Deps) *pipeline.Schema {
	backends := make([]any, 0)
	for _, name := range d.Providers.Names() {
		backends = append(backends, name)
	}
	model := pipeline.Field{Name: "model", Title: "Model", Type: pipeline.TypeString, Required: true, Editable: true}
	if d.DefaultModel != "" {
		model.Default = d.DefaultModel
	}
	backend := pipeline.Field{Name: "backend", Title: "Backend", Type: pipeline.TypeString, Default: "ollama"}
	if len(backends) > 0 {
		backend.Enum = backends
	}
	return pipeline.NewSchema("Chat",
		model,
		pipeline.Field{Name: "system", Title: "System prompt", Type: pipeline.TypeString, Required: true, Multiline: true, Editable: true},
		backend,
	)
}

func (f *ChatFactory) provider(params map[string]any) (ai.Provider, string, error) {
	model, _ := params["model"].(string)
	backend, _ := params["backend"].(string)
	if backend == "" {
		backend = "ollama"
	}
	p, err := f.deps.Providers.Get(context.Background(), backend, model)
	return p, model, err
}

func (f *ChatFactory) Produce(params map[string]any) (*pipeline.Definition, error) {
	p, model, err := f.provider(params)
	if err != nil {
		return nil, err
	}
	system, _ := params["system"].(string)

	desc := pipeline.NewDescriptor("", fmt.Sprintf("Chat with %s", model))
	desc.Description = fmt.Sprintf("Conversation with the %s model", model)
	titles := f.deps.Titles
	return &pipeline.Definition{
		Descriptor: desc,
		New: func(rt *pipeline.Runtime) pipeline.Handler {
			return &chatHandler{Base: pipeline.NewBase(rt), provider: p, system: system, titles: titles}
		},
	}, nil
}

type modelShower interface {
	Show(ctx context.Context) (*ai.ModelInfo, error)
}

// Populate records the model details reported by the serving backend. A
// model the backend does not have leaves the pipeline not ready.
func (f *ChatFactory) Populate(ctx context.Context, _ permission.Subject, p *pipeline.DynamicPipeline) (map[string]any, map[string]any, error) {
	prov, _, err := f.provider(p.Params)
	if err != nil {
		return nil, nil, err
	}
	shower, ok := prov.(modelShower)
	if !ok {
		return nil, nil, nil
	}
	info, err := shower.Show(ctx)
	if errors.Is(err, ai.ErrModelNotFound) {
		return nil, map[string]any{"ready": false}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"details": map[string]any{
		"family":             info.Family,
		"format":             info.Format,
		"parameter_size":     info.ParameterSize,
		"quantization_level": info.Quantization,
	}}, nil, nil
}

type chatHandler struct {
	pipeline.Base
	provider ai.Provider
	system   string
	titles   ai.TitleGenerator
}

func (h *chatHandler) Title(ctx context.Context, req, resp *chat.Message) (string, error) {
	return h.titles.GenerateTitle(ctx, fmt.Sprintf(chatTitlePrompt, req.Text("prompt"), resp.Text("result")))
}

func (h *chatHandler) messages(ctx context.Context, resp *chat.Message) ([]ai.Message, error) {
	msgs := []ai.Message{{Role: ai.RoleSystem, Content: h.system}}
	if h.RT.History == nil {
		return msgs, nil
	}
	views, err := h.RT.History(ctx)
	if err != nil {
		return nil, err
	}
	return append(msgs, pipeline.ChatHistory(views, resp.ID)...), nil
}

func (h *chatHandler) Process(ctx context.Context, req, resp *chat.Message) error {
	msgs, err := h.messages(ctx, resp)
	if err != nil {
		return err
	}
	h.Log(ctx, "Extracting results")
	text, err := ai.Stream(ctx, h.provider, msgs, func(acc string) {
		resp.SetResult(acc)
		h.SendPartial(ctx, resp)
	})
	if err != nil {
		return err
	}
	resp.SetResult(text)
	return nil
}
