package auth

import (
	"context"
	"errors"

	"github.com/suPer8Hu/pipeline-platform/internal/models"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("auth: user not found")

// Subjects loads permission subjects from the user tables.
type Subjects struct {
	db *gorm.DB
}

func NewSubjects(db *gorm.DB) *Subjects {
	return &Subjects{db: db}
}

func (s *Subjects) Load(ctx context.Context, userID uint64) (permission.Subject, error) {
	var u models.User
	err := s.db.WithContext(ctx).Preload("Groups").First(&u, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return permission.Subject{}, ErrUserNotFound
		}
		return permission.Subject{}, err
	}
	return SubjectOf(&u), nil
}

func SubjectOf(u *models.User) permission.Subject {
	groups := make([]uint64, 0, len(u.Groups))
	for _, g := range u.Groups {
		groups = append(groups, g.ID)
	}
	return permission.Subject{
		ID:          u.ID,
		Username:    u.Username,
		IsSuperuser: u.IsSuperuser,
		Groups:      groups,
	}
}
