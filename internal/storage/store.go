package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/runnerr0/refyn/internal/feedback"
)

// Store mirrors the engine's feedback events and score deltas for
// durability. The engine's in-memory model stays authoritative during a
// session; the store is read back at startup.
type Store interface {
	RecordFeedback(ctx context.Context, ev feedback.Event) error
	RecordDelta(ctx context.Context, category, keyword string, delta float64, at time.Time) error
	RecordAudit(ctx context.Context, a PopupAudit) error
	LoadScores(ctx context.Context) ([]ScoreRow, error)
	GetFeedback(ctx context.Context, id string) (*feedback.Event, error)
	RecentFeedback(ctx context.Context, q FeedbackQuery) ([]feedback.Event, error)
	PruneFeedback(ctx context.Context, olderThan time.Time) (int64, error)
	PurgeAll(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements
	insertFeedback *sql.Stmt
	upsertScore    *sql.Stmt
	insertAudit    *sql.Stmt
	getFeedback    *sql.Stmt
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertFeedback, err = s.db.Prepare(`
		INSERT OR IGNORE INTO feedback_events
			(id, ts, output_id, prompt_text, platform_id, kind, strength, reason_code, custom_text, intensity, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	// Scores only ever accumulate.
	s.upsertScore, err = s.db.Prepare(`
		INSERT INTO preference_scores (category, keyword, score, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(category, keyword) DO UPDATE SET
			score      = score + excluded.score,
			updated_at = MAX(updated_at, excluded.updated_at)
	`)
	if err != nil {
		return err
	}

	s.insertAudit, err = s.db.Prepare(`
		INSERT INTO popup_audit (session_id, ts, kind, output_id, outcome, reason_code, intensity, event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.getFeedback, err = s.db.Prepare(`
		SELECT id, ts, output_id, prompt_text, platform_id, kind, strength, reason_code, custom_text, intensity, source
		FROM feedback_events WHERE id = ?
	`)
	if err != nil {
		return err
	}

	return nil
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999-07:00",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// RecordFeedback inserts a finalized feedback event. Re-recording the same
// event id is a no-op.
func (s *SQLiteStore) RecordFeedback(ctx context.Context, ev feedback.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("feedback event has no id")
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid feedback event: %w", err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	_, err := s.insertFeedback.ExecContext(ctx,
		ev.ID, formatTimestamp(ev.Timestamp), ev.OutputID, ev.PromptText, ev.PlatformID,
		string(ev.Kind), string(ev.Strength), ev.ReasonCode, ev.CustomText, ev.Intensity, string(ev.Source),
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// RecordDelta adds delta to the stored score of (category, keyword).
func (s *SQLiteStore) RecordDelta(ctx context.Context, category, keyword string, delta float64, at time.Time) error {
	if category == "" || keyword == "" {
		return fmt.Errorf("score delta needs a category and keyword")
	}
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.upsertScore.ExecContext(ctx, category, keyword, delta, formatTimestamp(at)); err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

// RecordAudit inserts a popup audit record.
func (s *SQLiteStore) RecordAudit(ctx context.Context, a PopupAudit) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	var eventID sql.NullString
	if a.EventID != "" {
		eventID = sql.NullString{String: a.EventID, Valid: true}
	}
	_, err := s.insertAudit.ExecContext(ctx,
		a.SessionID, formatTimestamp(a.Timestamp), a.Kind, a.OutputID, a.Outcome, a.ReasonCode, a.Intensity, eventID,
	)
	if err != nil {
		return fmt.Errorf("insert popup audit: %w", err)
	}
	return nil
}

// LoadScores returns every stored score ordered by category and keyword.
func (s *SQLiteStore) LoadScores(ctx context.Context) ([]ScoreRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT category, keyword, score, updated_at FROM preference_scores ORDER BY category, keyword",
	)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	out := []ScoreRow{}
	for rows.Next() {
		var r ScoreRow
		var tsStr string
		if err := rows.Scan(&r.Category, &r.Keyword, &r.Score, &tsStr); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		r.UpdatedAt, _ = parseTimestamp(tsStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetFeedback retrieves a single feedback event by id.
func (s *SQLiteStore) GetFeedback(ctx context.Context, id string) (*feedback.Event, error) {
	ev, err := scanFeedback(s.getFeedback.QueryRowContext(ctx, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("feedback %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	return ev, nil
}

// RecentFeedback lists feedback events, newest first, with optional filters.
func (s *SQLiteStore) RecentFeedback(ctx context.Context, q FeedbackQuery) ([]feedback.Event, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	var clauses []string
	var args []interface{}

	if q.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.PlatformID != "" {
		clauses = append(clauses, "platform_id = ?")
		args = append(args, q.PlatformID)
	}
	if q.OutputID != "" {
		clauses = append(clauses, "output_id = ?")
		args = append(args, q.OutputID)
	}
	if q.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, q.Source)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, formatTimestamp(q.Since))
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "ts <= ?")
		args = append(args, formatTimestamp(q.Until))
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	query := `
		SELECT id, ts, output_id, prompt_text, platform_id, kind, strength, reason_code, custom_text, intensity, source
		FROM feedback_events` + where + " ORDER BY ts DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	events := []feedback.Event{}
	for rows.Next() {
		ev, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeedback(row rowScanner) (*feedback.Event, error) {
	var ev feedback.Event
	var tsStr, kind, strength, source string
	if err := row.Scan(
		&ev.ID, &tsStr, &ev.OutputID, &ev.PromptText, &ev.PlatformID,
		&kind, &strength, &ev.ReasonCode, &ev.CustomText, &ev.Intensity, &source,
	); err != nil {
		return nil, err
	}
	ev.Timestamp, _ = parseTimestamp(tsStr)
	ev.Kind = feedback.Kind(kind)
	ev.Strength = feedback.Strength(strength)
	ev.Source = feedback.Source(source)
	return &ev, nil
}

// PruneFeedback deletes feedback events and popup audit records with
// timestamps before olderThan. Scores are kept: they are the accumulated
// result, not the history.
func (s *SQLiteStore) PruneFeedback(ctx context.Context, olderThan time.Time) (int64, error) {
	ts := formatTimestamp(olderThan)

	if _, err := s.db.ExecContext(ctx, "DELETE FROM popup_audit WHERE ts < ?", ts); err != nil {
		return 0, fmt.Errorf("prune popup audit: %w", err)
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM feedback_events WHERE ts < ?", ts)
	if err != nil {
		return 0, fmt.Errorf("prune feedback: %w", err)
	}
	return res.RowsAffected()
}

// CountFeedbackBefore returns how many feedback events PruneFeedback would
// delete for the same cutoff.
func (s *SQLiteStore) CountFeedbackBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback_events WHERE ts < ?", formatTimestamp(olderThan)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	return n, nil
}

// PurgeAll deletes all feedback, scores and audit records.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	stmts := []string{
		"DELETE FROM popup_audit",
		"DELETE FROM preference_scores",
		"DELETE FROM feedback_events",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("purge (%s): %w", stmt, err)
		}
	}
	return nil
}

// GetStats returns aggregate statistics about the database.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feedback_events").Scan(&stats.TotalFeedback)
	if err != nil {
		return nil, fmt.Errorf("count feedback: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN score > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN score < 0 THEN 1 ELSE 0 END), 0)
		FROM preference_scores
	`).Scan(&stats.TotalKeywords, &stats.LikedKeywords, &stats.AvoidedKeywords)
	if err != nil {
		return nil, fmt.Errorf("count scores: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM popup_audit").Scan(&stats.TotalPopups)
	if err != nil {
		return nil, fmt.Errorf("count popups: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&stats.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}

	// Oldest and newest (handle empty DB)
	if stats.TotalFeedback > 0 {
		var oldestStr, newestStr string
		err = s.db.QueryRowContext(ctx, "SELECT MIN(ts), MAX(ts) FROM feedback_events").Scan(&oldestStr, &newestStr)
		if err != nil {
			return nil, fmt.Errorf("feedback time range: %w", err)
		}
		stats.OldestFeedback, _ = parseTimestamp(oldestStr)
		stats.NewestFeedback, _ = parseTimestamp(newestStr)
	}

	kindRows, err := s.db.QueryContext(ctx,
		"SELECT kind, COUNT(*) AS cnt FROM feedback_events GROUP BY kind ORDER BY cnt DESC, kind",
	)
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	for kindRows.Next() {
		var kc KindCount
		if err := kindRows.Scan(&kc.Kind, &kc.Count); err != nil {
			kindRows.Close()
			return nil, err
		}
		stats.ByKind = append(stats.ByKind, kc)
	}
	// Released before the next query so a single-connection pool can serve it.
	kindRows.Close()
	if err := kindRows.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT platform_id, COUNT(*) AS cnt FROM feedback_events GROUP BY platform_id ORDER BY cnt DESC, platform_id LIMIT 10",
	)
	if err != nil {
		return nil, fmt.Errorf("top platforms: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pc PlatformCount
		if err := rows.Scan(&pc.PlatformID, &pc.Count); err != nil {
			return nil, err
		}
		stats.TopPlatforms = append(stats.TopPlatforms, pc)
	}

	return stats, rows.Err()
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.insertFeedback, s.upsertScore, s.insertAudit, s.getFeedback,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
