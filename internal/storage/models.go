package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Scope types understood by the sync worker.
const (
	ScopeAll     = "all"
	ScopeSession = "session"
)

// NewEvent is one parsed conversation line awaiting insertion.
// GitRemoteURL and GitCommitHash are stored as NULL when empty.
type NewEvent struct {
	FileName      string
	LineNumber    int
	EventData     string
	GitRemoteURL  string
	GitCommitHash string
}

// ConversationEvent is a stored event row. The Event* fields are read back
// from the generated columns and are never written directly.
type ConversationEvent struct {
	ID             int64     `json:"id"`
	FileName       string    `json:"file_name"`
	LineNumber     int       `json:"line_number"`
	EventData      string    `json:"event_data"`
	UserName       string    `json:"user_name"`
	InsertedAt     time.Time `json:"inserted_at"`
	EventType      string    `json:"event_type,omitempty"`
	EventMessage   string    `json:"event_message,omitempty"`
	EventSessionID string    `json:"event_session_id,omitempty"`
	GitRemoteURL   string    `json:"git_remote_url,omitempty"`
	GitCommitHash  string    `json:"git_commit_hash,omitempty"`
	SyncedAt       time.Time `json:"synced_at,omitzero"` // zero when not yet synced
}

// SearchResult is a full-text match joined back to its event row.
// Rank is the FTS5 bm25 score; lower is more relevant.
type SearchResult struct {
	Event ConversationEvent `json:"event"`
	Rank  float64           `json:"rank"`
}

// SyncScope is a standing rule selecting which events the sync worker uploads.
type SyncScope struct {
	ID           string    `json:"id"`
	ScopeType    string    `json:"scope_type"` // "all" or "session"
	SessionID    string    `json:"session_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	LastSyncedAt time.Time `json:"last_synced_at,omitzero"` // zero until the scope first makes progress
}

// Statistics summarizes the store for operators and external tooling.
type Statistics struct {
	TotalEvents   int `json:"total_events"`
	TotalSessions int `json:"total_sessions"`
	UnsyncedCount int `json:"unsynced_count"`
}
