package models

import (
	"fmt"
	"time"
)

// Event is an incoming chat event as seen by the admission pipeline
type Event struct {
	ChatID     int64
	ChatName   string
	UserID     int64
	UserHandle string
	FirstName  string
	LastName   string
	Text       string
	Timestamp  time.Time
}

// FloodSettings are the per-chat flood thresholds. More than Count events
// from one user within Wait suppresses that user for Ignore.
type FloodSettings struct {
	Count  int           `json:"count"`
	Wait   time.Duration `json:"wait"`
	Ignore time.Duration `json:"ignore"`
}

// Validate checks that the thresholds are usable
func (f FloodSettings) Validate() error {
	if f.Count < 1 {
		return fmt.Errorf("flood count must be at least 1, got %d", f.Count)
	}
	if f.Wait <= 0 {
		return fmt.Errorf("flood wait must be positive, got %s", f.Wait)
	}
	if f.Ignore <= 0 {
		return fmt.Errorf("flood ignore time must be positive, got %s", f.Ignore)
	}
	return nil
}

// ChatSettings represents per-chat settings
type ChatSettings struct {
	ChatID   int64          `json:"chat_id"`
	Language string         `json:"language,omitempty"`
	Flood    *FloodSettings `json:"flood,omitempty"`
	Greeting Greeting       `json:"greeting"`
}

// Greeting holds the formatting-language sources sent when members join or
// leave. Empty sources fall back to the localized defaults.
type Greeting struct {
	Enabled bool   `json:"enabled"`
	Welcome string `json:"welcome,omitempty"`
	Goodbye string `json:"goodbye,omitempty"`
}

// Note is a named formatting-language document stored for a chat
type Note struct {
	ChatID    int64     `json:"chat_id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	CreatedBy int64     `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteButton is the payload behind a note button's callback id
type NoteButton struct {
	ChatID  int64  `json:"chat_id"`
	NoteKey string `json:"note_key"`
}
