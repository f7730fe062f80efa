package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DynamicRepo struct {
	db *gorm.DB
}

func NewDynamicRepo(db *gorm.DB) *DynamicRepo {
	return &DynamicRepo{db: db}
}

func (r *DynamicRepo) Create(ctx context.Context, p *DynamicPipeline) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *DynamicRepo) Save(ctx context.Context, p *DynamicPipeline) error {
	return r.db.WithContext(ctx).Save(p).Error
}

func (r *DynamicRepo) Get(ctx context.Context, id string) (*DynamicPipeline, error) {
	var p DynamicPipeline
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPipelineNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *DynamicRepo) GetByAlias(ctx context.Context, alias string) (*DynamicPipeline, error) {
	id, ok := IDFromAlias(alias)
	if !ok {
		return nil, ErrPipelineNotFound
	}
	return r.Get(ctx, id)
}

// List returns every dynamic pipeline, oldest first.
func (r *DynamicRepo) List(ctx context.Context) ([]DynamicPipeline, error) {
	var out []DynamicPipeline
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (r *DynamicRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&DynamicPipeline{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPipelineNotFound
	}
	return nil
}
