package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/metrics"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
)

const invalidationTopic = "registry"

// Bus carries registry invalidations between processes.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error)
}

// snapshot is a complete, immutable registry state. Dynamic pipelines of every
// owner are kept; visibility is applied per subject on read.
type snapshot struct {
	defs            map[string]*Definition
	order           []string
	factories       map[string]*FactoryEntry
	factoryOrder    []string
	defaultPipeline string
	builtAt         time.Time
}

// Registry resolves aliases to pipeline definitions. It merges the catalog's
// static pipelines, its factory instances and the stored dynamic pipelines,
// later sources winning on alias collisions.
type Registry struct {
	lib     *Library
	load    func() (*Catalog, error)
	dynamic *DynamicRepo
	log     zerolog.Logger
	metrics *metrics.Metrics

	snap atomic.Pointer[snapshot]
	// serializes rebuilds; readers never take it
	buildMu sync.Mutex
	// gen counts invalidations. A rebuild only publishes its snapshot when
	// no invalidation happened while it was building.
	genMu sync.Mutex
	gen   uint64

	bus        Bus
	instanceID string
}

type RegistryOption func(*Registry)

func WithMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

func WithBus(b Bus) RegistryOption {
	return func(r *Registry) { r.bus = b }
}

func NewRegistry(lib *Library, load func() (*Catalog, error), dynamic *DynamicRepo, log zerolog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		lib:        lib,
		load:       load,
		dynamic:    dynamic,
		log:        log.With().Str("component", "registry").Logger(),
		instanceID: uuid.NewString(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rebuild builds a fresh snapshot and swaps it in. On error the previous
// snapshot stays in place.
func (r *Registry) Rebuild(ctx context.Context, trigger string) error {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	_, err := r.rebuild(ctx, trigger)
	return err
}

// rebuild runs with buildMu held. A build overtaken by an invalidation is
// discarded and started over, since it may have read the state from before
// the change.
func (r *Registry) rebuild(ctx context.Context, trigger string) (*snapshot, error) {
	for {
		gen := r.generation()
		s, err := r.build(ctx)
		if err != nil {
			r.metrics.RecordRebuild(trigger, 0, err)
			r.log.Error().Err(err).Str("trigger", trigger).Msg("registry rebuild failed")
			return nil, err
		}
		if r.publish(gen, s) {
			r.metrics.RecordRebuild(trigger, len(s.defs), nil)
			r.log.Debug().Str("trigger", trigger).Int("pipelines", len(s.defs)).Msg("registry rebuilt")
			return s, nil
		}
		r.log.Debug().Str("trigger", trigger).Msg("registry invalidated during rebuild, building again")
	}
}

func (r *Registry) generation() uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	return r.gen
}

func (r *Registry) publish(gen uint64, s *snapshot) bool {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	if r.gen != gen {
		return false
	}
	r.snap.Store(s)
	return true
}

func (r *Registry) drop() {
	r.genMu.Lock()
	r.gen++
	r.snap.Store(nil)
	r.genMu.Unlock()
}

func (r *Registry) build(ctx context.Context) (*snapshot, error) {
	cat, err := r.load()
	if err != nil {
		return nil, configErr("%v", err)
	}

	s := &snapshot{
		defs:            make(map[string]*Definition),
		factories:       make(map[string]*FactoryEntry),
		defaultPipeline: cat.DefaultPipeline,
		builtAt:         time.Now(),
	}
	put := func(def *Definition) {
		if _, exists := s.defs[def.Descriptor.Alias]; !exists {
			s.order = append(s.order, def.Descriptor.Alias)
		}
		s.defs[def.Descriptor.Alias] = def
	}

	for _, decl := range cat.Pipelines {
		base, ok := r.lib.Pipeline(decl.Backend)
		if !ok {
			return nil, configErr("pipeline %q: unknown backend %q", decl.Alias, decl.Backend)
		}
		desc := base.Descriptor.With(decl.Overrides)
		if decl.Alias != "" {
			desc.Alias = decl.Alias
		}
		if err := desc.validate(); err != nil {
			return nil, err
		}
		put(base.WithDescriptor(desc))
	}

	for _, decl := range cat.Factories {
		f, ok := r.lib.Factory(decl.Backend)
		if !ok {
			return nil, configErr("factory %q: unknown backend %q", decl.Alias, decl.Backend)
		}
		fd := f.Descriptor()
		if decl.Alias != "" {
			fd.Alias = decl.Alias
		}
		if decl.Label != "" {
			fd.Label = decl.Label
		}
		if decl.Description != "" {
			fd.Description = decl.Description
		}
		if fd.Alias == "" || fd.Label == "" {
			return nil, configErr("factory backend %q needs an alias and a label", decl.Backend)
		}
		if _, exists := s.factories[fd.Alias]; !exists {
			s.factoryOrder = append(s.factoryOrder, fd.Alias)
		}
		s.factories[fd.Alias] = &FactoryEntry{FactoryDescriptor: fd, Factory: f}
	}

	for _, decl := range cat.FactoryInstances {
		entry, ok := s.factories[decl.Factory]
		if !ok {
			return nil, configErr("factory instance %q: unknown factory %q", decl.Alias, decl.Factory)
		}
		params, err := entry.Factory.Schema().Clean(decl.Params)
		if err != nil {
			return nil, configErr("factory instance %q: %v", decl.Alias, err)
		}
		def, err := entry.Factory.Produce(params)
		if err != nil {
			return nil, configErr("factory instance %q: %v", decl.Alias, err)
		}
		desc := def.Descriptor.With(decl.Overrides)
		desc.Alias = decl.Alias
		desc.Factory = entry.Alias
		if err := desc.validate(); err != nil {
			return nil, err
		}
		put(def.WithDescriptor(desc))
	}

	if r.dynamic != nil {
		stored, err := r.dynamic.List(ctx)
		if err != nil {
			return nil, err
		}
		for i := range stored {
			p := &stored[i]
			entry, ok := s.factories[p.Factory]
			if !ok {
				r.log.Warn().Str("pipeline", p.Alias()).Str("factory", p.Factory).Msg("dynamic pipeline skipped: unknown factory")
				continue
			}
			def, err := entry.Factory.Produce(p.Params)
			if err != nil {
				r.log.Warn().Err(err).Str("pipeline", p.Alias()).Msg("dynamic pipeline skipped")
				continue
			}
			put(def.WithDescriptor(p.Descriptor(entry.Factory.Schema().Editable())))
		}
	}
	return s, nil
}

func (r *Registry) current(ctx context.Context, uncached bool) (*snapshot, error) {
	if !uncached {
		if s := r.snap.Load(); s != nil {
			return s, nil
		}
	}
	r.buildMu.Lock()
	defer r.buildMu.Unlock()
	// another reader may have rebuilt while we waited
	if !uncached {
		if s := r.snap.Load(); s != nil {
			return s, nil
		}
	}
	return r.rebuild(ctx, "demand")
}

// Resolve returns the definition of alias visible to subj. A miss on the
// cached snapshot is retried once on a fresh build.
func (r *Registry) Resolve(ctx context.Context, alias string, subj permission.Subject) (*Definition, error) {
	s, err := r.current(ctx, false)
	if err != nil {
		return nil, err
	}
	if def, ok := lookup(s, alias, subj); ok {
		return def, nil
	}
	s, err = r.current(ctx, true)
	if err != nil {
		return nil, err
	}
	if def, ok := lookup(s, alias, subj); ok {
		return def, nil
	}
	return nil, ErrPipelineNotFound
}

// Cached returns the definition of alias visible to subj from the current
// snapshot, without retrying a miss on a fresh build.
func (r *Registry) Cached(ctx context.Context, alias string, subj permission.Subject) (*Definition, error) {
	s, err := r.current(ctx, false)
	if err != nil {
		return nil, err
	}
	if def, ok := lookup(s, alias, subj); ok {
		return def, nil
	}
	return nil, ErrPipelineNotFound
}

func lookup(s *snapshot, alias string, subj permission.Subject) (*Definition, bool) {
	def, ok := s.defs[alias]
	if !ok || !permission.Visible(def.Descriptor.Rights, subj) {
		return nil, false
	}
	return def, true
}

// All returns the definitions visible to subj in declaration order.
func (r *Registry) All(ctx context.Context, subj permission.Subject, uncached bool) ([]*Definition, error) {
	s, err := r.current(ctx, uncached)
	if err != nil {
		return nil, err
	}
	out := make([]*Definition, 0, len(s.order))
	for _, alias := range s.order {
		if def, ok := lookup(s, alias, subj); ok {
			out = append(out, def)
		}
	}
	return out, nil
}

// ByOutput groups the visible definitions by output kind.
func (r *Registry) ByOutput(ctx context.Context, subj permission.Subject) (map[Kind][]*Definition, error) {
	defs, err := r.All(ctx, subj, false)
	if err != nil {
		return nil, err
	}
	out := make(map[Kind][]*Definition)
	for _, d := range defs {
		if d.Descriptor.Output != "" {
			out[d.Descriptor.Output] = append(out[d.Descriptor.Output], d)
		}
	}
	return out, nil
}

// Listing is the JSON record of a pipeline in listings.
type Listing struct {
	Alias       string         `json:"alias"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Schema      any            `json:"schema"`
	UISchema    map[string]any `json:"uischema"`
	Ready       bool           `json:"ready"`
	Active      bool           `json:"active"`
	Editable    bool           `json:"editable"`
	Factory     string         `json:"factory,omitempty"`
	permission.Triple
}

// Listing returns the pipelines subj may see: public ones and those it can
// read.
func (r *Registry) Listing(ctx context.Context, subj permission.Subject) ([]Listing, error) {
	defs, err := r.All(ctx, subj, false)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(defs))
	for _, def := range defs {
		d := def.Descriptor
		if !d.Rights.IsPublic() && !permission.CanRead(d.Rights, subj) {
			continue
		}
		schema := def.PayloadSchema()
		out = append(out, Listing{
			Alias:       d.Alias,
			Label:       d.Label,
			Description: d.Description,
			Type:        d.Type(),
			Schema:      schema.JSONSchema(),
			UISchema:    schema.UISchema(),
			Ready:       d.Ready,
			Active:      d.Active,
			Editable:    d.Editable,
			Factory:     d.Factory,
			Triple:      d.Rights,
		})
	}
	return out, nil
}

// DefaultPipeline is the catalog's default alias.
func (r *Registry) DefaultPipeline(ctx context.Context) (string, error) {
	s, err := r.current(ctx, false)
	if err != nil {
		return "", err
	}
	return s.defaultPipeline, nil
}

func (r *Registry) Factories(ctx context.Context) ([]*FactoryEntry, error) {
	s, err := r.current(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]*FactoryEntry, 0, len(s.factoryOrder))
	for _, alias := range s.factoryOrder {
		out = append(out, s.factories[alias])
	}
	return out, nil
}

func (r *Registry) Factory(ctx context.Context, alias string) (*FactoryEntry, error) {
	s, err := r.current(ctx, false)
	if err != nil {
		return nil, err
	}
	f, ok := s.factories[alias]
	if !ok {
		return nil, ErrUnknownFactory
	}
	return f, nil
}

// Invalidate drops the cached snapshot and tells other processes to do the
// same. The next read rebuilds.
func (r *Registry) Invalidate(ctx context.Context) {
	r.drop()
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, invalidationTopic, []byte(r.instanceID)); err != nil {
		r.log.Warn().Err(err).Msg("registry invalidation not broadcast")
	}
}

// ListenInvalidations drops the snapshot whenever another process
// invalidates. It returns once the subscription is established.
func (r *Registry) ListenInvalidations(ctx context.Context) error {
	if r.bus == nil {
		return nil
	}
	msgs, cancel, err := r.bus.Subscribe(ctx, invalidationTopic)
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for from := range msgs {
			if string(from) == r.instanceID {
				continue
			}
			r.log.Debug().Str("from", string(from)).Msg("registry invalidated remotely")
			r.drop()
		}
	}()
	return nil
}

// StartRefresh rebuilds the snapshot on the cron schedule spec until ctx is
// done.
func (r *Registry) StartRefresh(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		_ = r.Rebuild(ctx, "schedule")
	}); err != nil {
		return err
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// WatchCatalog rebuilds whenever the catalog file at path changes.
func (r *Registry) WatchCatalog(ctx context.Context, path string) error {
	return WatchCatalog(ctx, path, r.log, func() {
		if err := r.Rebuild(ctx, "catalog"); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn().Msg("keeping previous registry snapshot")
		}
	})
}
