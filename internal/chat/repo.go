package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrSessionNotFound = errors.New("chat: session not found")
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrFileNotFound    = errors.New("chat: file not found")
	ErrJobNotFound     = errors.New("chat: job not found")
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// Sessions

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = NewID()
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrSessionNotFound)
	}
	return &s, nil
}

// GetUserSession returns the session only when userID owns it; other owners
// are reported as not found to hide existence.
func (r *Repo) GetUserSession(ctx context.Context, userID uint64, id string) (*Session, error) {
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ListSessions returns a user's sessions newest first.
func (r *Repo) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	var out []Session
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *Repo) UpdateSessionTitle(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		Update("title", title).Error
}

// DeleteSession removes the session with its messages, files and jobs, and
// returns the deleted files so the caller can remove their content.
func (r *Repo) DeleteSession(ctx context.Context, id string) ([]File, error) {
	var files []File
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Find(&files).Error; err != nil {
			return err
		}
		for _, model := range []any{&File{}, &Message{}, &Job{}} {
			if err := tx.Where("session_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&Session{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Messages

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// SaveMessage persists every field of an existing message.
func (r *Repo) SaveMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *Repo) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrMessageNotFound)
	}
	return &m, nil
}

// ListMessages returns a session's messages oldest first.
func (r *Repo) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&msgs).Error
	return msgs, err
}

// HasMessages reports whether the session holds messages from any of aliases.
func (r *Repo) HasMessages(ctx context.Context, sessionID string, aliases []string) (bool, error) {
	if len(aliases) == 0 {
		return false, nil
	}
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("session_id = ? AND pipeline IN ?", sessionID, aliases).
		Count(&n).Error
	return n > 0, err
}

// UpdateMessageFlag sets the selected or valid flag of a session's message.
func (r *Repo) UpdateMessageFlag(ctx context.Context, sessionID, messageID, flag string, value bool) error {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND session_id = ?", messageID, sessionID).
		Update(flag, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Files

func (r *Repo) CreateFile(ctx context.Context, f *File) error {
	if f.ID == "" {
		f.ID = NewID()
	}
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *Repo) GetFile(ctx context.Context, id string) (*File, error) {
	var f File
	if err := r.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrFileNotFound)
	}
	return &f, nil
}

func (r *Repo) FindFileByName(ctx context.Context, sessionID, name string) (*File, error) {
	var f File
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND name = ?", sessionID, name).
		First(&f).Error
	if err != nil {
		return nil, notFound(err, ErrFileNotFound)
	}
	return &f, nil
}

func (r *Repo) ListFiles(ctx context.Context, sessionID string) ([]File, error) {
	var out []File
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *Repo) ListFavoriteFiles(ctx context.Context, sessionID string) ([]File, error) {
	var out []File
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND favorite = ?", sessionID, true).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *Repo) SetFileFavorite(ctx context.Context, id string, favorite bool) error {
	return r.db.WithContext(ctx).Model(&File{}).
		Where("id = ?", id).
		Update("favorite", favorite).Error
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrJobNotFound)
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID uint64, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, notFound(err, ErrJobNotFound)
	}
	return &job, nil
}
