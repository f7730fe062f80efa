package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/chat"
	"github.com/suPer8Hu/pipeline-platform/internal/db/dbtest"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
)

type echoHandler struct {
	Base
}

func (h *echoHandler) Title(context.Context, *chat.Message, *chat.Message) (string, error) {
	return "Echo", nil
}

func (h *echoHandler) Process(_ context.Context, req, resp *chat.Message) error {
	resp.SetResult(req.Text("prompt"))
	return nil
}

func echoDefinition() *Definition {
	desc := NewDescriptor("demo.echo", "Echo pipeline")
	desc.Description = "Returns the message sent by the user"
	return &Definition{
		Descriptor: desc,
		New:        func(rt *Runtime) Handler { return &echoHandler{Base: NewBase(rt)} },
	}
}

// upperFactory produces echo pipelines labelled after their prefix.
type upperFactory struct {
	populate func(p *DynamicPipeline) (map[string]any, map[string]any, error)
}

func (upperFactory) Descriptor() FactoryDescriptor {
	return FactoryDescriptor{Alias: "prefix", Label: "Prefix"}
}

func (upperFactory) Schema() *Schema {
	return NewSchema("Prefix",
		Field{Name: "prefix", Type: TypeString, Required: true, Editable: true},
		Field{Name: "repeat", Type: TypeInteger, Default: 1},
	)
}

func (upperFactory) Produce(params map[string]any) (*Definition, error) {
	prefix, _ := params["prefix"].(string)
	if prefix == "bad" {
		return nil, errors.New("prefix not allowed")
	}
	return &Definition{
		Descriptor: NewDescriptor("", fmt.Sprintf("Prefix %s", prefix)),
		New:        func(rt *Runtime) Handler { return &echoHandler{Base: NewBase(rt)} },
	}, nil
}

func (f upperFactory) Populate(_ context.Context, _ permission.Subject, p *DynamicPipeline) (map[string]any, map[string]any, error) {
	if f.populate == nil {
		return nil, nil, nil
	}
	return f.populate(p)
}

func testLibrary(f Factory) *Library {
	lib := NewLibrary()
	lib.AddPipeline("demo.echo", echoDefinition())
	if f == nil {
		f = upperFactory{}
	}
	lib.AddFactory("prefix", f)
	return lib
}

func staticCatalog() *Catalog {
	return &Catalog{
		DefaultPipeline: "demo.echo",
		Pipelines:       []PipelineDecl{{Alias: "demo.echo", Backend: "demo.echo"}},
		Factories:       []FactoryDecl{{Alias: "prefix", Backend: "prefix"}},
		FactoryInstances: []FactoryInstanceDecl{{
			Alias:   "prefix.hello",
			Factory: "prefix",
			Params:  map[string]any{"prefix": "hello"},
		}},
	}
}

func newTestRegistry(t *testing.T, lib *Library, cat *Catalog) (*Registry, *DynamicRepo) {
	t.Helper()
	db := dbtest.Open(t, &DynamicPipeline{})
	repo := NewDynamicRepo(db)
	load := func() (*Catalog, error) { return cat, nil }
	return NewRegistry(lib, load, repo, zerolog.Nop()), repo
}

func u64(n uint64) *uint64 { return &n }

var (
	alice = permission.Subject{ID: 1, Username: "alice", Groups: []uint64{10}}
	bob   = permission.Subject{ID: 2, Username: "bob"}
	root  = permission.Subject{ID: 99, Username: "root", IsSuperuser: true}
)
