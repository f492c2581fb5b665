package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free file backend (snapshot + journal)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// HistoryRecord is the persisted summary of one pipeline run.
// Binary payloads are referenced by blob key, never inlined.
// Keep it compact and schema-stable.
type HistoryRecord struct {
	ID          string
	At          time.Time
	Language    string
	Kind        string
	Theme       string
	Subthemes   []string
	Title       string
	Description string
	Hashtags    []string
	Chapters    []string
	Tags        []string
	Script      string
	AudioKey    string
	ImageKey    string
}
