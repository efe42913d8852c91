package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("not found")

// ScoreRow is one persisted preference score.
type ScoreRow struct {
	Category  string
	Keyword   string
	Score     float64
	UpdatedAt time.Time
}

// PopupAudit records how a feedback popup ended.
type PopupAudit struct {
	SessionID  string
	Kind       string
	OutputID   string
	Outcome    string // "submitted", "skipped", "timeout", "cancelled", "superseded", "closed"
	ReasonCode string
	Intensity  int
	EventID    string
	Timestamp  time.Time
}

// FeedbackQuery defines filters for listing feedback events.
type FeedbackQuery struct {
	Kind       string
	PlatformID string
	OutputID   string
	Source     string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Stats holds aggregate statistics about the Refyn database.
type Stats struct {
	TotalFeedback     int64
	TotalKeywords     int64
	LikedKeywords     int64
	AvoidedKeywords   int64
	TotalPopups       int64
	OldestFeedback    time.Time
	NewestFeedback    time.Time
	SchemaVersion     int
	DatabaseSizeBytes int64
	ByKind            []KindCount
	TopPlatforms      []PlatformCount
}

// KindCount pairs a feedback kind with its event count.
type KindCount struct {
	Kind  string
	Count int64
}

// PlatformCount pairs a platform with its event count.
type PlatformCount struct {
	PlatformID string
	Count      int64
}
