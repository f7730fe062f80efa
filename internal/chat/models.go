package chat

import (
	"time"

	"gorm.io/datatypes"
)

// Message kinds. A message keeps its kind for life, except that a failed
// response is switched to KindError.
const (
	KindRequest  = "request"
	KindResponse = "response"
	KindError    = "error"
)

// Response status values.
const (
	StatusStarted = "started"
	StatusEnded   = "ended"
)

const (
	RendererMarkdown = "markdown"
	RendererHTML     = "html"
)

type Session struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	Title     *string   `gorm:"type:varchar(255)" json:"title"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// ChannelID is the transport address of the session's notification channel.
func (s *Session) ChannelID() string { return ChannelIDFor(s.ID) }

// TitleOrEmpty returns the session title, "" when unset.
func (s *Session) TitleOrEmpty() string {
	if s.Title == nil {
		return ""
	}
	return *s.Title
}

type Message struct {
	ID        string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID string            `gorm:"type:varchar(36);not null;index:idx_chat_msg_session_created,priority:1" json:"session_id"`
	Pipeline  string            `gorm:"type:varchar(255);not null;index" json:"pipeline"`
	Data      datatypes.JSONMap `json:"data"`
	CreatedAt time.Time         `gorm:"index:idx_chat_msg_session_created,priority:2" json:"created_at"`
	Status    string            `gorm:"type:varchar(16)" json:"status"`
	Valid     *bool             `json:"valid"`
	Selected  bool              `gorm:"not null" json:"selected"`
	Kind      string            `gorm:"type:varchar(16);not null" json:"kind"`
	Renderer  string            `gorm:"type:varchar(32);not null;default:markdown" json:"renderer"`
}

func (Message) TableName() string { return "chat_messages" }

// SetResult stores content under the conventional "result" key.
func (m *Message) SetResult(content any) {
	m.Set("result", content)
}

func (m *Message) Set(key string, value any) {
	if m.Data == nil {
		m.Data = datatypes.JSONMap{}
	}
	m.Data[key] = value
}

// Text returns Data[key] when it is a string, "" otherwise.
func (m *Message) Text(key string) string {
	if m.Data == nil {
		return ""
	}
	s, _ := m.Data[key].(string)
	return s
}

func (m *Message) SetRenderer(renderer string) { m.Renderer = renderer }

type File struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID  string    `gorm:"type:varchar(36);not null;index" json:"session_id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	Path       string    `gorm:"type:varchar(512);not null" json:"-"`
	Favorite   bool      `gorm:"not null;default:false" json:"favorite"`
	Vectorized bool      `gorm:"not null;default:false" json:"vectorized"`
	CreatedAt  time.Time `json:"created_at"`
}

func (File) TableName() string { return "chat_session_files" }

// View is the rendered form of a message sent to clients and used for history.
type View struct {
	ID            string `json:"id"`
	SessionID     string `json:"session_id"`
	ChannelID     string `json:"channel_id"`
	CreatedOn     string `json:"created_on"`
	Kind          string `json:"kind"`
	Username      string `json:"username"`
	Content       string `json:"content"`
	Pipeline      string `json:"pipeline"`
	PipelineLabel string `json:"pipeline_label"`
	Status        string `json:"status"`
	Valid         *bool  `json:"valid"`
	Selected      bool   `json:"selected"`
	Renderer      string `json:"renderer"`
}

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{&Session{}, &Message{}, &File{}, &Job{}}
}
