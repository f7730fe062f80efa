package pipeline

import (
	"fmt"

	"github.com/suPer8Hu/pipeline-platform/internal/permission"
)

// Descriptor is the immutable metadata of a pipeline. Every handler instance
// receives a copy at construction.
type Descriptor struct {
	Alias         string
	Label         string
	Description   string
	Input         Kind
	Output        Kind
	GenerateMedia bool
	Active        bool
	Ready         bool
	Editable      bool
	// Factory is the key of the producing factory; empty for static pipelines.
	Factory string
	Rights  permission.Triple
}

// NewDescriptor returns a descriptor with the usual defaults: text in, text
// out, active and ready, public with no rights granted.
func NewDescriptor(alias, label string) Descriptor {
	return Descriptor{
		Alias:  alias,
		Label:  label,
		Input:  KindText,
		Output: KindText,
		Active: true,
		Ready:  true,
	}
}

// Type is the "input -> output" summary shown in listings.
func (d Descriptor) Type() string {
	return fmt.Sprintf("%s -> %s", d.Input, d.Output)
}

func (d Descriptor) validate() error {
	if d.Alias == "" {
		return configErr("pipeline with label %q has no alias", d.Label)
	}
	if d.Label == "" {
		return configErr("pipeline %q has no label", d.Alias)
	}
	return nil
}

// Overrides are declaration-level replacements for descriptor defaults.
// Strings replace only when non-empty; booleans replace whenever set, so an
// explicit false is honoured.
type Overrides struct {
	Label         string `koanf:"label"`
	Description   string `koanf:"description"`
	Input         Kind   `koanf:"input"`
	Output        Kind   `koanf:"output"`
	GenerateMedia *bool  `koanf:"generate_media"`
	Active        *bool  `koanf:"active"`
	Ready         *bool  `koanf:"ready"`
}

func (d Descriptor) With(o Overrides) Descriptor {
	if o.Label != "" {
		d.Label = o.Label
	}
	if o.Description != "" {
		d.Description = o.Description
	}
	if o.Input != "" {
		d.Input = o.Input
	}
	if o.Output != "" {
		d.Output = o.Output
	}
	if o.GenerateMedia != nil {
		d.GenerateMedia = *o.GenerateMedia
	}
	if o.Active != nil {
		d.Active = *o.Active
	}
	if o.Ready != nil {
		d.Ready = *o.Ready
	}
	return d
}
