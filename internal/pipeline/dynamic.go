package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/pipeline-platform/internal/permission"
	"gorm.io/datatypes"
)

const dynamicPrefix = "dynamic."

// DynamicPipeline is a user-created pipeline: a factory key, a parameter map
// and a descriptor with its rights triple.
type DynamicPipeline struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	Label         string `gorm:"type:varchar(255);not null"`
	Description   string `gorm:"type:text"`
	GenerateMedia bool   `gorm:"not null"`
	Input         Kind   `gorm:"type:varchar(32);not null"`
	Output        Kind   `gorm:"type:varchar(32);not null"`
	Factory       string `gorm:"type:varchar(255);not null;index"`
	Params        datatypes.JSONMap
	Active        bool `gorm:"not null"`
	Ready         bool `gorm:"not null"`

	UserID  *uint64 `gorm:"index"`
	GroupID *uint64 `gorm:"index"`

	UserCanRead    bool `gorm:"not null"`
	UserCanWrite   bool `gorm:"not null"`
	UserCanUpdate  bool `gorm:"not null"`
	UserCanDelete  bool `gorm:"not null"`
	GroupCanRead   bool `gorm:"not null"`
	GroupCanWrite  bool `gorm:"not null"`
	GroupCanUpdate bool `gorm:"not null"`
	GroupCanDelete bool `gorm:"not null"`
	OtherCanRead   bool `gorm:"not null"`
	OtherCanWrite  bool `gorm:"not null"`
	OtherCanUpdate bool `gorm:"not null"`
	OtherCanDelete bool `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DynamicPipeline) TableName() string { return "dynamic_pipelines" }

// AliasFor derives the registry alias of a dynamic pipeline id.
func AliasFor(id string) string {
	return dynamicPrefix + strings.ReplaceAll(id, "-", "_")
}

// IDFromAlias inverts AliasFor. ok is false for non-dynamic aliases.
func IDFromAlias(alias string) (id string, ok bool) {
	if !strings.HasPrefix(alias, dynamicPrefix) {
		return "", false
	}
	return strings.ReplaceAll(strings.TrimPrefix(alias, dynamicPrefix), "_", "-"), true
}

func IsDynamicAlias(alias string) bool {
	return strings.HasPrefix(alias, dynamicPrefix)
}

func (p *DynamicPipeline) Alias() string { return AliasFor(p.ID) }

func (p *DynamicPipeline) Triple() permission.Triple {
	return permission.Triple{
		User:        p.UserID,
		Group:       p.GroupID,
		UserRights:  permission.Rights{CanRead: p.UserCanRead, CanWrite: p.UserCanWrite, CanUpdate: p.UserCanUpdate, CanDelete: p.UserCanDelete},
		GroupRights: permission.Rights{CanRead: p.GroupCanRead, CanWrite: p.GroupCanWrite, CanUpdate: p.GroupCanUpdate, CanDelete: p.GroupCanDelete},
		OtherRights: permission.Rights{CanRead: p.OtherCanRead, CanWrite: p.OtherCanWrite, CanUpdate: p.OtherCanUpdate, CanDelete: p.OtherCanDelete},
	}
}

func (p *DynamicPipeline) SetTriple(t permission.Triple) {
	p.UserID, p.GroupID = t.User, t.Group
	p.UserCanRead, p.UserCanWrite, p.UserCanUpdate, p.UserCanDelete = t.UserRights.CanRead, t.UserRights.CanWrite, t.UserRights.CanUpdate, t.UserRights.CanDelete
	p.GroupCanRead, p.GroupCanWrite, p.GroupCanUpdate, p.GroupCanDelete = t.GroupRights.CanRead, t.GroupRights.CanWrite, t.GroupRights.CanUpdate, t.GroupRights.CanDelete
	p.OtherCanRead, p.OtherCanWrite, p.OtherCanUpdate, p.OtherCanDelete = t.OtherRights.CanRead, t.OtherRights.CanWrite, t.OtherRights.CanUpdate, t.OtherRights.CanDelete
}

// Descriptor copies every stored field onto a descriptor.
func (p *DynamicPipeline) Descriptor(editable bool) Descriptor {
	return Descriptor{
		Alias:         p.Alias(),
		Label:         p.Label,
		Description:   p.Description,
		Input:         p.Input,
		Output:        p.Output,
		GenerateMedia: p.GenerateMedia,
		Active:        p.Active,
		Ready:         p.Ready,
		Editable:      editable,
		Factory:       p.Factory,
		Rights:        p.Triple(),
	}
}

// ApplyAttrs sets descriptor attributes from a loosely typed map, as sent by
// clients and returned by Factory.Populate.
func (p *DynamicPipeline) ApplyAttrs(attrs map[string]any) error {
	var errs []FieldError
	for key, value := range attrs {
		var err error
		switch key {
		case "label":
			err = setString(&p.Label, value, true)
		case "description":
			err = setString(&p.Description, value, false)
		case "input", "output":
			var s string
			if err = setString(&s, value, true); err == nil {
				if !Kind(s).Valid() {
					err = fmt.Errorf("unknown kind %q", s)
				} else if key == "input" {
					p.Input = Kind(s)
				} else {
					p.Output = Kind(s)
				}
			}
		case "generate_media":
			err = setBool(&p.GenerateMedia, value)
		case "active":
			err = setBool(&p.Active, value)
		case "ready":
			err = setBool(&p.Ready, value)
		default:
			err = fmt.Errorf("attribute cannot be changed")
		}
		if err != nil {
			errs = append(errs, FieldError{Field: key, Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func setString(dst *string, v any, required bool) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected a string")
	}
	if required && strings.TrimSpace(s) == "" {
		return fmt.Errorf("must not be empty")
	}
	*dst = s
	return nil
}

func setBool(dst *bool, v any) error {
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("expected a boolean")
	}
	*dst = b
	return nil
}

// Record is the JSON form of a dynamic pipeline.
type Record struct {
	ID          string         `json:"id"`
	Alias       string         `json:"alias"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Factory     string         `json:"factory"`
	Params      map[string]any `json:"params"`
	Input       Kind           `json:"input"`
	Output      Kind           `json:"output"`
	Ready       bool           `json:"ready"`
	Active      bool           `json:"active"`
	permission.Triple
}

func (p *DynamicPipeline) Record() Record {
	return Record{
		ID:          p.ID,
		Alias:       p.Alias(),
		Label:       p.Label,
		Description: p.Description,
		Factory:     p.Factory,
		Params:      p.Params,
		Input:       p.Input,
		Output:      p.Output,
		Ready:       p.Ready,
		Active:      p.Active,
		Triple:      p.Triple(),
	}
}
