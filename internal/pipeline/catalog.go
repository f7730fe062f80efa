package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// Catalog is the static declaration of pipelines and factories.
type Catalog struct {
	DefaultPipeline  string                `koanf:"default_pipeline"`
	Pipelines        []PipelineDecl        `koanf:"pipelines"`
	FactoryInstances []FactoryInstanceDecl `koanf:"factory_instances"`
	Factories        []FactoryDecl         `koanf:"factories"`
}

// PipelineDecl binds an alias to a library backend.
type PipelineDecl struct {
	Alias     string `koanf:"alias"`
	Backend   string `koanf:"backend"`
	Overrides `koanf:",squash"`
}

// FactoryInstanceDecl binds an alias to a factory and its parameters.
type FactoryInstanceDecl struct {
	Alias     string         `koanf:"alias"`
	Factory   string         `koanf:"factory"`
	Params    map[string]any `koanf:"params"`
	Overrides `koanf:",squash"`
}

// FactoryDecl exposes a library factory under an alias.
type FactoryDecl struct {
	Alias       string `koanf:"alias"`
	Backend     string `koanf:"backend"`
	Label       string `koanf:"label"`
	Description string `koanf:"description"`
}

// LoadCatalog reads a YAML catalog. CATALOG_* environment variables override
// top-level keys, e.g. CATALOG_DEFAULT_PIPELINE. A missing file yields an
// empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load catalog %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("CATALOG_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "CATALOG_"))
	}), nil); err != nil {
		return nil, err
	}

	var c Catalog
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &c, nil
}

// WatchCatalog calls onChange whenever the catalog file is written or
// replaced. The directory is watched so editors that rename over the file are
// picked up.
func WatchCatalog(ctx context.Context, path string, log zerolog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	log.Info().Str("path", path).Msg("watching pipeline catalog")

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					log.Info().Str("path", event.Name).Msg("catalog changed")
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("catalog watch error")
			}
		}
	}()
	return nil
}
