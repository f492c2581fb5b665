package pipeline

import (
	"time"

	"oratio/internal/schedule"
	"oratio/internal/storage"
)

// Post is the structured social-post record accompanying a script.
// Chapters and Tags are only populated for long-form jobs.
type Post struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
	Chapters    []string `json:"chapters,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Artifact is the output of one pipeline run. Binary payloads live in
// blob storage under AudioKey/ImageKey; the artifact only references
// them.
type Artifact struct {
	ID        string
	CreatedAt time.Time
	Language  schedule.Language
	Kind      schedule.Kind
	Theme     string
	Subthemes []string
	Script    string
	Post      Post
	AudioKey  string
	ImageKey  string
}

func (a *Artifact) historyRecord() storage.HistoryRecord {
	return storage.HistoryRecord{
		ID:          a.ID,
		At:          a.CreatedAt,
		Language:    string(a.Language),
		Kind:        string(a.Kind),
		Theme:       a.Theme,
		Subthemes:   a.Subthemes,
		Title:       a.Post.Title,
		Description: a.Post.Description,
		Hashtags:    a.Post.Hashtags,
		Chapters:    a.Post.Chapters,
		Tags:        a.Post.Tags,
		Script:      a.Script,
		AudioKey:    a.AudioKey,
		ImageKey:    a.ImageKey,
	}
}
