package tracker

import "time"

// Character is the current state of one tracked character. Name is the
// business key and is matched case-sensitively.
type Character struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Level     int       `json:"level"`
	Vocation  string    `json:"vocation"`
	World     string    `json:"world"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry is an immutable snapshot appended on every successful scrape.
// Deaths is nil when the profile page carried no death list.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	CharacterID int64     `json:"character_id"`
	Level       int       `json:"level"`
	Experience  float64   `json:"experience"`
	Deaths      *int      `json:"deaths"`
	CapturedAt  time.Time `json:"captured_at"`
}

// CharacterState pairs a character with its most recent snapshot, if any.
type CharacterState struct {
	Character
	Latest *HistoryEntry `json:"latest,omitempty"`
}

// Profile holds the typed fields decoded from a profile page.
type Profile struct {
	Level      int
	Vocation   string
	World      string
	Experience float64
	Deaths     *int
}

// SnapshotEvent is published after a snapshot has been committed.
type SnapshotEvent struct {
	CharacterID int64     `json:"character_id"`
	Name        string    `json:"name"`
	Level       int       `json:"level"`
	Vocation    string    `json:"vocation"`
	World       string    `json:"world"`
	Experience  float64   `json:"experience"`
	Deaths      *int      `json:"deaths"`
	CapturedAt  time.Time `json:"captured_at"`
	Created     bool      `json:"created"`
}
