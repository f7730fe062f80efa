package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/pipeline-platform/internal/ai"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
	"gorm.io/gorm"
)

// Manager runs the lifecycle of dynamic pipelines.
type Manager struct {
	repo     *DynamicRepo
	registry *Registry
	describe ai.TitleGenerator
	log      zerolog.Logger
}

func NewManager(repo *DynamicRepo, registry *Registry, describe ai.TitleGenerator, log zerolog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		registry: registry,
		describe: describe,
		log:      log.With().Str("component", "pipelines").Logger(),
	}
}

// CommonInput is the shared part of the creation form.
type CommonInput struct {
	Label                   string `json:"label"`
	Description             string `json:"description"`
	AutoGenerateDescription bool   `json:"auto_generate_description"`
	GenerateMedia           bool   `json:"generate_media"`
	Input                   Kind   `json:"input"`
	Output                  Kind   `json:"output"`
	Public                  bool   `json:"public"`
}

type CreateInput struct {
	Factory string         `json:"factory_name"`
	Params  map[string]any `json:"factory"`
	Common  CommonInput    `json:"common"`
}

// Create stores a new dynamic pipeline owned by subj. A public pipeline has
// no owner and is readable by everyone; only superusers may create one.
func (m *Manager) Create(ctx context.Context, subj permission.Subject, in CreateInput) (*DynamicPipeline, error) {
	entry, err := m.registry.Factory(ctx, in.Factory)
	if err != nil {
		return nil, err
	}
	if in.Common.Public && !subj.IsSuperuser {
		return nil, ErrPermissionDenied
	}

	var verrs []FieldError
	if strings.TrimSpace(in.Common.Label) == "" {
		verrs = append(verrs, FieldError{Field: "label", Message: "field required"})
	}
	input, output := in.Common.Input, in.Common.Output
	if input == "" {
		input = KindText
	}
	if output == "" {
		output = KindText
	}
	if !input.Valid() {
		verrs = append(verrs, FieldError{Field: "input", Message: fmt.Sprintf("unknown kind %q", input)})
	}
	if !output.Valid() {
		verrs = append(verrs, FieldError{Field: "output", Message: fmt.Sprintf("unknown kind %q", output)})
	}
	params, err := entry.Factory.Schema().Clean(in.Params)
	if err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		verrs = append(verrs, ve.Errors...)
	}
	if len(verrs) > 0 {
		return nil, &ValidationError{Errors: verrs}
	}
	if _, err := entry.Factory.Produce(params); err != nil {
		return nil, &ValidationError{Errors: []FieldError{{Field: "factory", Message: err.Error()}}}
	}

	p := &DynamicPipeline{
		Label:         strings.TrimSpace(in.Common.Label),
		Description:   in.Common.Description,
		GenerateMedia: in.Common.GenerateMedia,
		Input:         input,
		Output:        output,
		Factory:       entry.Alias,
		Params:        params,
		Active:        true,
		Ready:         true,
	}
	if in.Common.Public {
		p.SetTriple(permission.Triple{OtherRights: permission.Rights{CanRead: true}})
	} else {
		owner := subj.ID
		p.SetTriple(permission.Triple{User: &owner, UserRights: permission.All()})
	}

	if in.Common.AutoGenerateDescription {
		p.Description = m.generateDescription(ctx, p)
	}

	if err := m.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	extra, attrs, err := entry.Factory.Populate(ctx, subj, p)
	if err != nil {
		// the pipeline exists; it stays usable with its base parameters
		m.log.Warn().Err(err).Str("pipeline", p.Alias()).Msg("populate failed")
	}
	if len(extra) > 0 || len(attrs) > 0 {
		for k, v := range extra {
			p.Params[k] = v
		}
		if err := p.ApplyAttrs(attrs); err != nil {
			m.log.Warn().Err(err).Str("pipeline", p.Alias()).Msg("populate returned bad attributes")
		}
		if err := m.repo.Save(ctx, p); err != nil {
			return nil, err
		}
	}

	m.registry.Invalidate(ctx)
	m.log.Info().Str("pipeline", p.Alias()).Str("factory", p.Factory).Uint64("user_id", subj.ID).Msg("dynamic pipeline created")
	return p, nil
}

func (m *Manager) generateDescription(ctx context.Context, p *DynamicPipeline) string {
	if m.describe == nil {
		return p.Description
	}
	model, _ := p.Params["model"].(string)
	prompt := fmt.Sprintf("Generate a short description based on the label : %q and the model name: %q. "+
		"Also takes into consideration input type: %q and the output type: %q. "+
		"Only give the description without comments or explanations.", p.Label, model, p.Input, p.Output)
	desc, err := m.describe.GenerateTitle(ctx, prompt)
	if err != nil {
		m.log.Warn().Err(err).Msg("description generation failed")
		return p.Description
	}
	return desc
}

func (m *Manager) load(ctx context.Context, alias string, op permission.Op, subj permission.Subject) (*DynamicPipeline, error) {
	p, err := m.repo.GetByAlias(ctx, alias)
	if err != nil {
		return nil, err
	}
	t := p.Triple()
	if permission.Can(op, t, subj) {
		return p, nil
	}
	if op == permission.Read && t.IsPublic() {
		return p, nil
	}
	// hide pipelines the subject cannot even see
	if !permission.Visible(t, subj) {
		return nil, ErrPipelineNotFound
	}
	return nil, ErrPermissionDenied
}

func (m *Manager) Get(ctx context.Context, subj permission.Subject, alias string) (*DynamicPipeline, error) {
	return m.load(ctx, alias, permission.Read, subj)
}

// Patch is a change of descriptor attributes ("attr") or of parameters
// ("params").
type Patch struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (m *Manager) Patch(ctx context.Context, subj permission.Subject, alias string, patch Patch) (*DynamicPipeline, error) {
	p, err := m.load(ctx, alias, permission.Update, subj)
	if err != nil {
		return nil, err
	}

	switch patch.Type {
	case "attr":
		if err := p.ApplyAttrs(patch.Data); err != nil {
			return nil, err
		}
	case "params":
		entry, err := m.registry.Factory(ctx, p.Factory)
		if err != nil {
			return nil, err
		}
		cleaned, err := entry.Factory.Schema().CleanPartial(patch.Data)
		if err != nil {
			return nil, err
		}
		merged := make(map[string]any, len(p.Params)+len(cleaned))
		for k, v := range p.Params {
			merged[k] = v
		}
		for k, v := range cleaned {
			merged[k] = v
		}
		if _, err := entry.Factory.Produce(merged); err != nil {
			return nil, &ValidationError{Errors: []FieldError{{Field: "params", Message: err.Error()}}}
		}
		p.Params = merged
	default:
		return nil, &ValidationError{Errors: []FieldError{{Field: "type", Message: `must be "attr" or "params"`}}}
	}

	if err := m.repo.Save(ctx, p); err != nil {
		return nil, err
	}
	m.registry.Invalidate(ctx)
	return p, nil
}

// AccessChange replaces the owner and rights of one pipeline.
type AccessChange struct {
	Alias       string            `json:"alias"`
	UserID      *uint64           `json:"user_id"`
	GroupID     *uint64           `json:"group_id"`
	UserRights  permission.Rights `json:"user_rights"`
	GroupRights permission.Rights `json:"group_rights"`
	OtherRights permission.Rights `json:"other_rights"`
}

// PatchAccess applies every change or none: update rights are checked on all
// items before anything is written.
func (m *Manager) PatchAccess(ctx context.Context, subj permission.Subject, changes []AccessChange) error {
	loaded := make([]*DynamicPipeline, 0, len(changes))
	for _, c := range changes {
		p, err := m.load(ctx, c.Alias, permission.Update, subj)
		if err != nil {
			return fmt.Errorf("%s: %w", c.Alias, err)
		}
		// making a pipeline public is reserved to superusers, as on creation
		if c.UserID == nil && c.GroupID == nil && !subj.IsSuperuser {
			return fmt.Errorf("%s: %w", c.Alias, ErrPermissionDenied)
		}
		loaded = append(loaded, p)
	}

	err := m.repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, c := range changes {
			p := loaded[i]
			p.SetTriple(permission.Triple{
				User:        c.UserID,
				Group:       c.GroupID,
				UserRights:  c.UserRights,
				GroupRights: c.GroupRights,
				OtherRights: c.OtherRights,
			})
			if err := tx.Save(p).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.registry.Invalidate(ctx)
	return nil
}

func (m *Manager) Delete(ctx context.Context, subj permission.Subject, alias string) error {
	p, err := m.load(ctx, alias, permission.Delete, subj)
	if err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, p.ID); err != nil {
		return err
	}
	m.registry.Invalidate(ctx)
	m.log.Info().Str("pipeline", alias).Uint64("user_id", subj.ID).Msg("dynamic pipeline deleted")
	return nil
}
