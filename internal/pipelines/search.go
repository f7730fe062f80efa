package pipelines

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/pipeline"
)

var searchResultTmpl = template.Must(template.New("search").Parse(`<div class="search-results">
{{- range .}}
<div class="search-result">
<a href="{{.URL}}" target="_blank">{{.Title}}</a>
{{- if .Summary}}<p>{{.Summary}}</p>{{end}}
</div>
{{- else}}
<p>No document found</p>
{{- end}}
</div>`))

// Document is one search hit as returned by the search service.
type Document struct {
	ID        any     `json:"id"`
	Title     string  `json:"title"`
	Summary   string  `json:"summary"`
	URL       string  `json:"url"`
	Namespace string  `json:"namespace"`
	Content   string  `json:"content"`
	Distance  float64 `json:"distance"`
}

// SearchFactory produces retrieval pipelines over one namespace of the
// search service.
type SearchFactory struct {
	pipeline.NoPopulate
	deps   Deps
	schema *pipeline.Schema
}

func NewSearchFactory(d Deps) *SearchFactory {
	d = d.withDefaults()
	return &SearchFactory{deps: d, schema: searchSchema()}
}

func (f *SearchFactory) Descriptor() pipeline.FactoryDescriptor {
	return pipeline.FactoryDescriptor{
		Alias:       "search",
		Label:       "Create a search pipeline",
		Description: "Allows to create pipeline that will help to search documents within a given namespace",
	}
}

func (f *SearchFactory) Schema() *pipeline.Schema { return f.schema }

func searchSchema() *pipeline.Schema {
	return pipeline.NewSchema("Search",
		pipeline.Field{Name: "namespace", Title: "Folder path", Type: pipeline.TypeString, Required: true},
	)
}

func (f *SearchFactory) Produce(params map[string]any) (*pipeline.Definition, error) {
	namespace, _ := params["namespace"].(string)
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	desc := pipeline.NewDescriptor("", fmt.Sprintf("Search %s", namespace))
	desc.Description = fmt.Sprintf("This pipeline will search documents or texts from %s namespace", namespace)
	d := f.deps
	return &pipeline.Definition{
		Descriptor: desc,
		New: func(rt *pipeline.Runtime) pipeline.Handler {
			return &searcher{Base: pipeline.NewBase(rt), namespace: namespace, deps: d}
		},
	}, nil
}

type searcher struct {
	pipeline.Base
	namespace string
	deps      Deps
}

func (s *searcher) Title(ctx context.Context, req, _ *chat.Message) (string, error) {
	title, err := s.deps.Titles.GenerateTitle(ctx, fmt.Sprintf(messageTitlePrompt, req.Text("prompt")))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s search : %s", s.namespace, title), nil
}

func (s *searcher) FormatResponse(m *chat.Message) string {
	var docs []Document
	if err := decodeField(m.Data, "documents", &docs); err != nil {
		return ""
	}
	var b bytes.Buffer
	if err := searchResultTmpl.Execute(&b, docs); err != nil {
		return ""
	}
	return b.String()
}

func (s *searcher) Preprocess(_ context.Context, _, resp *chat.Message) error {
	resp.Data = map[string]any{"documents": []Document{}}
	resp.SetRenderer(chat.RendererHTML)
	return nil
}

func (s *searcher) Process(ctx context.Context, req, resp *chat.Message) error {
	s.Log(ctx, "Using RAG")
	url, err := endpoint(s.deps.SearchURL, "/api/search/")
	if err != nil {
		return err
	}
	header := http.Header{}
	if sess := s.RT.Session; sess != nil {
		header.Set("X-User-Id", strconv.FormatUint(sess.UserID, 10))
	}
	header.Set("X-User-Name", s.RT.Username)

	var out struct {
		Results []Document `json:"results"`
	}
	payload := map[string]any{"query": req.Text("prompt"), "namespace": s.namespace}
	if err := postJSON(ctx, s.deps.HTTP, url, payload, &out, header); err != nil {
		return err
	}
	if out.Results == nil {
		out.Results = []Document{}
	}
	resp.Data = map[string]any{"documents": out.Results}
	resp.SetRenderer(chat.RendererHTML)
	return nil
}
