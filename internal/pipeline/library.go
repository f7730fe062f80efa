package pipeline

import (
	"fmt"
	"sort"
)

// Library holds the Go implementations the catalog can refer to.
type Library struct {
	pipelines map[string]*Definition
	factories map[string]Factory
}

func NewLibrary() *Library {
	return &Library{
		pipelines: make(map[string]*Definition),
		factories: make(map[string]Factory),
	}
}

// AddPipeline registers a static pipeline backend. Registering a key twice
// panics.
func (l *Library) AddPipeline(backend string, def *Definition) {
	if _, dup := l.pipelines[backend]; dup {
		panic(fmt.Sprintf("pipeline backend %q registered twice", backend))
	}
	l.pipelines[backend] = def
}

func (l *Library) AddFactory(backend string, f Factory) {
	if _, dup := l.factories[backend]; dup {
		panic(fmt.Sprintf("factory backend %q registered twice", backend))
	}
	l.factories[backend] = f
}

func (l *Library) Pipeline(backend string) (*Definition, bool) {
	d, ok := l.pipelines[backend]
	return d, ok
}

func (l *Library) Factory(backend string) (Factory, bool) {
	f, ok := l.factories[backend]
	return f, ok
}

// Backends lists registered pipeline and factory keys, sorted.
func (l *Library) Backends() (pipelines, factories []string) {
	for k := range l.pipelines {
		pipelines = append(pipelines, k)
	}
	for k := range l.factories {
		factories = append(factories, k)
	}
	sort.Strings(pipelines)
	sort.Strings(factories)
	return pipelines, factories
}
