package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Draft statuses.
const (
	DraftCompleted = "completed"
	DraftFailed    = "failed"
)

// Info doc statuses.
const (
	InfoPending   = "pending"
	InfoPublished = "published"
	InfoFailed    = "failed"
)

// Draft is one recorded drafting call.
type Draft struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Prompt        string    `json:"prompt"`
	LoadedYears   string    `json:"loaded_years"`   // comma-separated
	AttachedYears string    `json:"attached_years"` // comma-separated
	Query         string    `json:"query"`
	Explanation   string    `json:"explanation"`
	Model         string    `json:"model"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
}

// InfoDoc is a locally held reference document and its publication state.
type InfoDoc struct {
	ID         string    `json:"id"`
	Year       int       `json:"year"`
	Filename   string    `json:"filename"`
	MIMEType   string    `json:"mime_type"`
	Content    []byte    `json:"-"`
	Preview    string    `json:"preview"`
	Pages      int       `json:"pages,omitempty"`
	SourceURL  string    `json:"source_url,omitempty"`
	RemoteName string    `json:"remote_name,omitempty"`
	RemoteURI  string    `json:"remote_uri,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
