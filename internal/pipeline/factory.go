package pipeline

import (
	"context"

	"github.com/suPer8Hu/pipeline-platform/internal/permission"
)

type FactoryDescriptor struct {
	Alias       string `json:"alias"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Factory produces pipeline definitions from a parameter map.
type Factory interface {
	Descriptor() FactoryDescriptor
	// Schema is the creation form of the factory's parameters.
	Schema() *Schema
	// Produce returns a definition bound to params. The registry stamps alias
	// and the remaining descriptor fields afterwards.
	Produce(params map[string]any) (*Definition, error)
	// Populate runs once when a dynamic pipeline is created. extraParams are
	// merged into the stored parameters and attrs are applied to the pipeline.
	Populate(ctx context.Context, subj permission.Subject, p *DynamicPipeline) (extraParams, attrs map[string]any, err error)
}

// NoPopulate is the default Populate.
type NoPopulate struct{}

func (NoPopulate) Populate(context.Context, permission.Subject, *DynamicPipeline) (map[string]any, map[string]any, error) {
	return nil, nil, nil
}

// FactoryEntry is a factory as declared in the catalog.
type FactoryEntry struct {
	FactoryDescriptor
	Factory Factory
}

// CommonSchema is the creation form shared by every factory.
func CommonSchema() *Schema {
	kinds := make([]any, 0, len(allKinds))
	for _, k := range allKinds {
		kinds = append(kinds, string(k))
	}
	return NewSchema("Pipeline",
		Field{Name: "label", Title: "Label", Type: TypeString, Required: true, MinLength: intPtr(1)},
		Field{Name: "description", Title: "Description", Type: TypeString, Multiline: true},
		Field{Name: "auto_generate_description", Title: "Generate the description", Type: TypeBoolean, Default: false},
		Field{Name: "generate_media", Title: "Generates media", Type: TypeBoolean, Default: false},
		Field{Name: "input", Title: "Input", Type: TypeString, Enum: kinds, Default: string(KindText)},
		Field{Name: "output", Title: "Output", Type: TypeString, Enum: kinds, Default: string(KindText)},
		Field{Name: "public", Title: "Public", Type: TypeBoolean, Default: false},
	)
}
