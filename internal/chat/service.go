package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Service owns session, file and message-flag operations. Turn execution lives
// in the runner package.
type Service struct {
	repo      *Repo
	uploadDir string
	log       zerolog.Logger
}

func NewService(repo *Repo, uploadDir string, log zerolog.Logger) *Service {
	if uploadDir == "" {
		uploadDir = "media/uploaded"
	}
	return &Service{repo: repo, uploadDir: uploadDir, log: log.With().Str("component", "chat").Logger()}
}

func (s *Service) Repo() *Repo { return s.repo }

func (s *Service) CreateSession(ctx context.Context, userID uint64) (*Session, error) {
	session := &Session{
		ID:     NewID(),
		UserID: userID,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	return s.repo.ListSessions(ctx, userID)
}

func (s *Service) GetSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	return s.repo.GetUserSession(ctx, userID, sessionID)
}

func (s *Service) RenameSession(ctx context.Context, userID uint64, sessionID, title string) error {
	if _, err := s.repo.GetUserSession(ctx, userID, sessionID); err != nil {
		return err
	}
	return s.repo.UpdateSessionTitle(ctx, sessionID, strings.TrimSpace(title))
}

// DeleteSession removes a session and the uploaded content of its files.
func (s *Service) DeleteSession(ctx context.Context, userID uint64, sessionID string) error {
	if _, err := s.repo.GetUserSession(ctx, userID, sessionID); err != nil {
		return err
	}
	files, err := s.repo.DeleteSession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.removeFiles(files)
	return nil
}

func (s *Service) DeleteAllSessions(ctx context.Context, userID uint64) error {
	sessions, err := s.repo.ListSessions(ctx, userID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		files, err := s.repo.DeleteSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		s.removeFiles(files)
	}
	return nil
}

func (s *Service) removeFiles(files []File) {
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("file_id", f.ID).Msg("remove session file")
		}
	}
}

// SetMessageFlag toggles "selected" or "valid" on a message of the user's session.
func (s *Service) SetMessageFlag(ctx context.Context, userID uint64, sessionID, messageID, flag string, value bool) error {
	switch flag {
	case "selected", "valid":
	default:
		return fmt.Errorf("chat: unknown message flag %q", flag)
	}
	if _, err := s.repo.GetUserSession(ctx, userID, sessionID); err != nil {
		return err
	}
	return s.repo.UpdateMessageFlag(ctx, sessionID, messageID, flag, value)
}

// AddFile stores an upload under the session's folder. A file with the same
// name already attached to the session is kept as is.
func (s *Service) AddFile(ctx context.Context, userID uint64, sessionID, name string, content io.Reader) (*File, error) {
	if _, err := s.repo.GetUserSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	name = filepath.Base(name)
	if existing, err := s.repo.FindFileByName(ctx, sessionID, name); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrFileNotFound) {
		return nil, err
	}

	id := NewID()
	dir := filepath.Join(s.uploadDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, id+strings.ToLower(filepath.Ext(name)))
	out, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, content); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	f := &File{ID: id, SessionID: sessionID, Name: name, Path: path}
	if err := s.repo.CreateFile(ctx, f); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return f, nil
}

func (s *Service) ListFiles(ctx context.Context, userID uint64, sessionID string) ([]File, error) {
	if _, err := s.repo.GetUserSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListFiles(ctx, sessionID)
}

func (s *Service) SetFileFavorite(ctx context.Context, userID uint64, fileID string, favorite bool) error {
	f, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if _, err := s.repo.GetUserSession(ctx, userID, f.SessionID); err != nil {
		return ErrFileNotFound
	}
	return s.repo.SetFileFavorite(ctx, fileID, favorite)
}

// GetJob returns a job owned by userID.
func (s *Service) GetJob(ctx context.Context, userID uint64, jobID string) (*Job, error) {
	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, ErrJobNotFound
	}
	return j, nil
}
