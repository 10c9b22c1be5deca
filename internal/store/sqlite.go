package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/serenoapp/sereno/internal/domain"
	"github.com/serenoapp/sereno/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	emotionMu sync.Mutex // Serializes emotion snapshot rewrites to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		age INTEGER,
		is_moderator INTEGER NOT NULL DEFAULT 0,
		streak_days INTEGER NOT NULL DEFAULT 0,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		last_session_date TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		session_date TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user_day ON messages(user_id, session_date);

	CREATE TABLE IF NOT EXISTS suggestions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		text TEXT NOT NULL,
		category TEXT NOT NULL,
		is_completed INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER,
		notes TEXT NOT NULL DEFAULT '',
		confirmed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_suggestions_user ON suggestions(user_id);

	CREATE TABLE IF NOT EXISTS emotions (
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		percentage REAL NOT NULL,
		recorded_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, name)
	);

	CREATE TABLE IF NOT EXISTS achievements (
		user_id TEXT NOT NULL,
		code TEXT NOT NULL,
		unlocked_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, code)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetProfile retrieves a user profile by user ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	query := `
		SELECT user_id, name, age, is_moderator, streak_days, total_sessions,
		       last_session_date, created_at, updated_at
		FROM profiles WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var p domain.UserProfile
	var age sql.NullInt64
	var lastSessionDate sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&p.UserID, &p.Name, &age, &p.IsModerator,
		&p.StreakDays, &p.TotalSessions, &lastSessionDate,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	p.Age = int(age.Int64)
	p.LastSessionDate = lastSessionDate.String
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)

	return &p, nil
}

// UpsertProfile creates or updates a user profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *domain.UserProfile) error {
	query := `
	INSERT INTO profiles (user_id, name, age, is_moderator, streak_days, total_sessions, last_session_date, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		name = excluded.name,
		age = excluded.age,
		streak_days = excluded.streak_days,
		total_sessions = excluded.total_sessions,
		last_session_date = COALESCE(excluded.last_session_date, profiles.last_session_date),
		updated_at = excluded.updated_at`

	var age interface{}
	if p.Age > 0 {
		age = p.Age
	}
	var lastSessionDate interface{}
	if p.LastSessionDate != "" {
		lastSessionDate = p.LastSessionDate
	}

	_, err := s.db.ExecContext(ctx, query,
		p.UserID, p.Name, age, p.IsModerator,
		p.StreakDays, p.TotalSessions, lastSessionDate,
		p.CreatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// InsertMessage appends a chat message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m *domain.Message) error {
	query := `
	INSERT INTO messages (id, user_id, role, content, session_date, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.UserID, string(m.Role), m.Content, m.SessionDate, m.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MessagesForDay returns a user's messages for one calendar day in creation order.
func (s *SQLiteStore) MessagesForDay(ctx context.Context, userID, sessionDate string) ([]*domain.Message, error) {
	query := `
		SELECT id, user_id, role, content, session_date, created_at
		FROM messages WHERE user_id = ? AND session_date = ?
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, sessionDate)
	if err != nil {
		return nil, fmt.Errorf("query messages for day: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []*domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		var createdAt int64

		if err := rows.Scan(&m.ID, &m.UserID, &role, &m.Content, &m.SessionDate, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		m.Role = domain.Role(role)
		m.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return msgs, nil
}

// UserMessageCount returns the lifetime count of user-authored messages.
func (s *SQLiteStore) UserMessageCount(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE user_id = ? AND role = ?`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, string(domain.RoleUser)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count user messages: %w", err)
	}
	return count, nil
}

// InsertSuggestion stores a generated suggestion.
func (s *SQLiteStore) InsertSuggestion(ctx context.Context, sg *domain.Suggestion) error {
	query := `
	INSERT INTO suggestions (id, user_id, text, category, is_completed, completed_at, notes, confirmed, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var completedAt interface{}
	if sg.CompletedAt != nil {
		completedAt = sg.CompletedAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, query,
		sg.ID, sg.UserID, sg.Text, sg.Category,
		sg.IsCompleted, completedAt, sg.Notes, sg.Confirmed,
		sg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert suggestion: %w", err)
	}
	return nil
}

// GetSuggestion retrieves one suggestion scoped to a user.
func (s *SQLiteStore) GetSuggestion(ctx context.Context, userID, id string) (*domain.Suggestion, error) {
	query := `
		SELECT id, user_id, text, category, is_completed, completed_at, notes, confirmed, created_at
		FROM suggestions WHERE user_id = ? AND id = ?`

	row := s.db.QueryRowContext(ctx, query, userID, id)
	sg, err := scanSuggestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan suggestion row: %w", err)
	}
	return sg, nil
}

// ListSuggestions returns a user's suggestions, newest first.
func (s *SQLiteStore) ListSuggestions(ctx context.Context, userID string) ([]*domain.Suggestion, error) {
	query := `
		SELECT id, user_id, text, category, is_completed, completed_at, notes, confirmed, created_at
		FROM suggestions WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query suggestions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close suggestion rows", "error", closeErr)
		}
	}()

	var out []*domain.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion row: %w", err)
		}
		out = append(out, sg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestion rows: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSuggestion(row rowScanner) (*domain.Suggestion, error) {
	var sg domain.Suggestion
	var completedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&sg.ID, &sg.UserID, &sg.Text, &sg.Category,
		&sg.IsCompleted, &completedAt, &sg.Notes, &sg.Confirmed,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		sg.CompletedAt = &ts
	}
	sg.CreatedAt = time.Unix(createdAt, 0)
	return &sg, nil
}

// UpdateSuggestion persists completion state, notes and the derived confirmed flag.
func (s *SQLiteStore) UpdateSuggestion(ctx context.Context, sg *domain.Suggestion) error {
	query := `
	UPDATE suggestions
	SET is_completed = ?, completed_at = ?, notes = ?, confirmed = ?
	WHERE user_id = ? AND id = ?`

	var completedAt interface{}
	if sg.CompletedAt != nil {
		completedAt = sg.CompletedAt.Unix()
	}

	result, err := s.db.ExecContext(ctx, query,
		sg.IsCompleted, completedAt, sg.Notes, sg.Confirmed,
		sg.UserID, sg.ID,
	)
	if err != nil {
		return fmt.Errorf("update suggestion: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("suggestion not found")
	}
	return nil
}

// CountConfirmedSuggestions returns how many suggestions the user completed with a note.
func (s *SQLiteStore) CountConfirmedSuggestions(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM suggestions WHERE user_id = ? AND confirmed = 1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count confirmed suggestions: %w", err)
	}
	return count, nil
}

// ReplaceEmotions overwrites the user's emotion breakdown snapshot.
func (s *SQLiteStore) ReplaceEmotions(ctx context.Context, userID string, scores []domain.EmotionScore) error {
	s.emotionMu.Lock()
	defer s.emotionMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin emotion replace: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM emotions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear emotions: %w", err)
	}

	now := time.Now().Unix()
	for _, score := range scores {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO emotions (user_id, name, percentage, recorded_at) VALUES (?, ?, ?, ?)`,
			userID, score.Name, score.Percentage, now,
		); err != nil {
			return fmt.Errorf("insert emotion %q: %w", score.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit emotion replace: %w", err)
	}
	return nil
}

// ListEmotions returns the user's current emotion breakdown, highest first.
func (s *SQLiteStore) ListEmotions(ctx context.Context, userID string) ([]domain.EmotionScore, error) {
	query := `SELECT name, percentage FROM emotions WHERE user_id = ? ORDER BY percentage DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query emotions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close emotion rows", "error", closeErr)
		}
	}()

	var out []domain.EmotionScore
	for rows.Next() {
		var score domain.EmotionScore
		if err := rows.Scan(&score.Name, &score.Percentage); err != nil {
			return nil, fmt.Errorf("scan emotion row: %w", err)
		}
		out = append(out, score)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emotion rows: %w", err)
	}

	return out, nil
}

// UnlockAchievement records a milestone. Unlocking twice is a no-op.
func (s *SQLiteStore) UnlockAchievement(ctx context.Context, a *domain.Achievement) error {
	query := `
	INSERT INTO achievements (user_id, code, unlocked_at) VALUES (?, ?, ?)
	ON CONFLICT(user_id, code) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query, a.UserID, a.Code, a.UnlockedAt.Unix())
	if err != nil {
		return fmt.Errorf("unlock achievement: %w", err)
	}
	return nil
}

// ListAchievements returns a user's unlocked milestones, oldest first.
func (s *SQLiteStore) ListAchievements(ctx context.Context, userID string) ([]*domain.Achievement, error) {
	query := `SELECT user_id, code, unlocked_at FROM achievements WHERE user_id = ? ORDER BY unlocked_at ASC, code ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query achievements: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close achievement rows", "error", closeErr)
		}
	}()

	var out []*domain.Achievement
	for rows.Next() {
		var a domain.Achievement
		var unlockedAt int64
		if err := rows.Scan(&a.UserID, &a.Code, &unlockedAt); err != nil {
			return nil, fmt.Errorf("scan achievement row: %w", err)
		}
		a.UnlockedAt = time.Unix(unlockedAt, 0)
		out = append(out, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate achievement rows: %w", err)
	}

	return out, nil
}

// ResetUserData deletes the user's messages, suggestions and emotion rows.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) ResetUserData(ctx context.Context, userID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.resetUserDataOnce(ctx, userID)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("ResetUserData failed with SQLITE_BUSY, retrying",
				"user_id", userID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("failed to reset data for %s after %d attempts: %w", userID, i+1, err)
	}

	return nil
}

func (s *SQLiteStore) resetUserDataOnce(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, table := range []string{"messages", "suggestions", "emotions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}
