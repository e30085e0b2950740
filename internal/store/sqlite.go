package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/promptd/promptd/internal/domain"
	"github.com/promptd/promptd/internal/shared"
)

const (
	keySuffixLen      = 4
	createKeyAttempts = 5

	appendRetries   = 3
	appendBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	// writeMu serializes conversation writes so concurrent invocations
	// cannot interleave appends or trip SQLITE_BUSY.
	writeMu sync.Mutex
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

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
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
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		model TEXT NOT NULL,
		preferred_credential TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		media_json TEXT,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		total_tokens INTEGER,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, seq)
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

// Create starts a new conversation, deriving the record key from the
// initial prompt. The key's uniqueness suffix comes from the conversation's
// own UUID, so the suffix also resolves the id.
func (s *SQLiteStore) Create(ctx context.Context, initialPrompt, model string) (*domain.Conversation, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	slug := slugify(initialPrompt)
	now := time.Now()

	var lastErr error
	for i := 0; i < createKeyAttempts; i++ {
		id := uuid.NewString()
		key := slug + "-" + id[:keySuffixLen]

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO conversations (id, key, model, preferred_credential, created_at, updated_at)
			 VALUES (?, ?, ?, '', ?, ?)`,
			id, key, model, now.Unix(), now.Unix(),
		)
		if err == nil {
			return &domain.Conversation{
				ID:        id,
				Key:       key,
				Model:     model,
				CreatedAt: time.Unix(now.Unix(), 0),
				UpdatedAt: time.Unix(now.Unix(), 0),
			}, nil
		}
		lastErr = err
		if !strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("insert conversation: %w", err)
		}
		// Key collision on the 4-char suffix: retry with a fresh UUID.
	}
	return nil, fmt.Errorf("insert conversation after %d key attempts: %w", createKeyAttempts, lastErr)
}

// Append adds one turn to the end of a conversation.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, turn domain.Turn) error {
	return s.appendTurns(ctx, conversationID, []domain.Turn{turn}, nil)
}

// AppendExchange adds a user/assistant pair atomically and records the
// preferred-credential fingerprint.
func (s *SQLiteStore) AppendExchange(ctx context.Context, conversationID string, userTurn, assistantTurn domain.Turn, preferredCredential string) error {
	return s.appendTurns(ctx, conversationID, []domain.Turn{userTurn, assistantTurn}, &preferredCredential)
}

// appendTurns writes the given turns in one transaction, retrying with
// exponential backoff when SQLite reports a concurrency conflict.
func (s *SQLiteStore) appendTurns(ctx context.Context, conversationID string, turns []domain.Turn, preferredCredential *string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lastErr error
	for i := 0; i < appendRetries; i++ {
		err := s.appendTurnsOnce(ctx, conversationID, turns, preferredCredential)
		if err == nil {
			return nil
		}
		lastErr = err
		if !shared.IsSQLiteConflictError(err) {
			return err
		}
		delay := appendBaseDelay * time.Duration(1<<i)
		slog.Debug("append hit SQLITE_BUSY, retrying",
			"conversation_id", conversationID,
			"attempt", i+1,
			"delay", delay,
		)
		time.Sleep(delay)
	}
	return fmt.Errorf("append turns after %d attempts: %w", appendRetries, lastErr)
}

func (s *SQLiteStore) appendTurnsOnce(ctx context.Context, conversationID string, turns []domain.Turn, preferredCredential *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
			slog.Warn("failed to roll back append transaction", "error", rollbackErr)
		}
	}()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	var nextSeq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE conversation_id = ?`,
		conversationID,
	).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("next turn seq: %w", err)
	}

	for _, turn := range turns {
		mediaJSON, promptTokens, completionTokens, totalTokens := turnColumns(turn)
		createdAt := turn.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO turns (conversation_id, seq, role, content, media_json, prompt_tokens, completion_tokens, total_tokens, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			conversationID, nextSeq, turn.Role, turn.Content,
			mediaJSON, promptTokens, completionTokens, totalTokens,
			createdAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		nextSeq++
	}

	if preferredCredential != nil && *preferredCredential != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET preferred_credential = ?, updated_at = ? WHERE id = ?`,
			*preferredCredential, time.Now().Unix(), conversationID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			time.Now().Unix(), conversationID,
		)
	}
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func turnColumns(turn domain.Turn) (mediaJSON interface{}, promptTokens, completionTokens, totalTokens interface{}) {
	if len(turn.Media) > 0 {
		if data, err := json.Marshal(turn.Media); err == nil {
			mediaJSON = string(data)
		}
	}
	if turn.Usage != nil {
		promptTokens = turn.Usage.PromptTokens
		completionTokens = turn.Usage.CompletionTokens
		totalTokens = turn.Usage.TotalTokens
	}
	return mediaJSON, promptTokens, completionTokens, totalTokens
}

// Load resolves a selector to a conversation.
func (s *SQLiteStore) Load(ctx context.Context, selector string) (*domain.Conversation, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, ErrNotFound
	}

	if n, err := strconv.Atoi(selector); err == nil {
		return s.loadByRecencyIndex(ctx, n)
	}

	// Exact id or key first.
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE id = ? OR key = ?`,
		selector, selector,
	).Scan(&id)
	if err == nil {
		return s.loadByID(ctx, id)
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("resolve selector: %w", err)
	}

	// Suffix of id or key.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE id LIKE '%' || ? OR key LIKE '%' || ? LIMIT 2`,
		selector, selector,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve selector suffix: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close selector rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var candidate string
		if err := rows.Scan(&candidate); err != nil {
			return nil, fmt.Errorf("scan selector row: %w", err)
		}
		ids = append(ids, candidate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selector rows: %w", err)
	}

	switch len(ids) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return s.loadByID(ctx, ids[0])
	default:
		return nil, fmt.Errorf("selector %q: %w", selector, ErrAmbiguousSelector)
	}
}

func (s *SQLiteStore) loadByRecencyIndex(ctx context.Context, n int) (*domain.Conversation, error) {
	if n < 1 {
		return nil, ErrNotFound
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations ORDER BY updated_at DESC, created_at DESC, id LIMIT 1 OFFSET ?`,
		n-1,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve recency index: %w", err)
	}
	return s.loadByID(ctx, id)
}

func (s *SQLiteStore) loadByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, model, preferred_credential, created_at, updated_at FROM conversations WHERE id = ?`,
		id,
	).Scan(&conv.ID, &conv.Key, &conv.Model, &conv.PreferredCredential, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, media_json, prompt_tokens, completion_tokens, total_tokens, created_at
		 FROM turns WHERE conversation_id = ? ORDER BY seq`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var turn domain.Turn
		var mediaJSON sql.NullString
		var promptTokens, completionTokens, totalTokens sql.NullInt64
		var turnCreatedAt int64
		if err := rows.Scan(&turn.Role, &turn.Content, &mediaJSON, &promptTokens, &completionTokens, &totalTokens, &turnCreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if mediaJSON.Valid && mediaJSON.String != "" {
			if err := json.Unmarshal([]byte(mediaJSON.String), &turn.Media); err != nil {
				slog.Warn("failed to decode turn media", "conversation_id", id, "error", err)
			}
		}
		if totalTokens.Valid || promptTokens.Valid || completionTokens.Valid {
			turn.Usage = &domain.Usage{
				PromptTokens:     promptTokens.Int64,
				CompletionTokens: completionTokens.Int64,
				TotalTokens:      totalTokens.Int64,
			}
		}
		turn.CreatedAt = time.Unix(turnCreatedAt, 0)
		conv.Turns = append(conv.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	return &conv, nil
}

// List returns conversation summaries, most-recent-first.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.key, c.model, c.created_at, c.updated_at,
		        COUNT(t.seq),
		        COALESCE(SUM(t.prompt_tokens), 0),
		        COALESCE(SUM(t.completion_tokens), 0),
		        COALESCE(SUM(t.total_tokens), 0)
		 FROM conversations c
		 LEFT JOIN turns t ON t.conversation_id = c.id
		 GROUP BY c.id
		 ORDER BY c.updated_at DESC, c.created_at DESC, c.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close list rows", "error", closeErr)
		}
	}()

	var summaries []domain.ConversationSummary
	for rows.Next() {
		var s domain.ConversationSummary
		var createdAt, updatedAt int64
		if err := rows.Scan(&s.ID, &s.Key, &s.Model, &createdAt, &updatedAt,
			&s.TurnCount, &s.Usage.PromptTokens, &s.Usage.CompletionTokens, &s.Usage.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		s.UpdatedAt = time.Unix(updatedAt, 0)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return summaries, nil
}
