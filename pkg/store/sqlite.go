package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable record of users, sessions and messages.
type SQLiteStore struct {
	db *sql.DB
}

// Message is a persisted turn.
type Message struct {
	ID        string
	SessionID string
	UserID    string
	Seq       int
	Role      session.Role
	Content   string
	CreatedAt time.Time
}

type UserStats struct {
	UserID       string
	TrustScore   int
	HasTrust     bool
	Interactions int
	Sessions     int
	Messages     int
	LastActiveAt time.Time
}

// recentHistoryLimit bounds how many messages are rehydrated on reattach.
const recentHistoryLimit = 200

// NewSQLiteStore creates/opens the database at path. ":memory:" is accepted
// for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection avoids writer lock contention between goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			trust_score INTEGER,
			interactions INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS interactions (
			user_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY(user_id, turn_id)
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			last_activity_ms INTEGER NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			archived_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_user_activity_idx ON sessions(user_id, last_activity_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_session_idx ON messages(session_id, created_at_ms, seq);`,
		`CREATE INDEX IF NOT EXISTS messages_user_idx ON messages(user_id, created_at_ms DESC);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(message_id UNINDEXED, content, tokenize='unicode61 remove_diacritics 2');`,
		`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(message_id, content) VALUES (new.id, new.content);
		END;`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

// AppendMessage persists one turn. Re-appending a turn id is a no-op, so a
// retried background job never duplicates history.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID, userID string, turn session.Turn, seq int) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("append message: empty session id")
	}
	if strings.TrimSpace(string(turn.Role)) == "" {
		return fmt.Errorf("append message: empty role")
	}
	if turn.ID == "" {
		turn.ID = "turn-" + uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	created := turn.Timestamp.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append message begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ensured, err := tx.ExecContext(ctx, `
INSERT INTO sessions(id, user_id, created_at_ms, last_activity_ms, message_count, archived_at_ms)
VALUES(?, ?, ?, ?, 0, 0)
ON CONFLICT(id) DO UPDATE SET
	last_activity_ms = MAX(sessions.last_activity_ms, excluded.last_activity_ms),
	archived_at_ms = 0
WHERE sessions.user_id = excluded.user_id`, sessionID, userID, created, created)
	if err != nil {
		return fmt.Errorf("append message ensure session: %w", err)
	}
	if n, err := ensured.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("append message: %w: %s", session.ErrSessionOwner, sessionID)
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO messages(id, session_id, user_id, seq, role, content, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`, turn.ID, sessionID, userID, seq, string(turn.Role), turn.Content, created)
	if err != nil {
		return fmt.Errorf("append message insert: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET message_count = message_count + 1 WHERE id = ?`, sessionID); err != nil {
			return fmt.Errorf("append message update session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append message commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserTrust(ctx context.Context, userID string) (int, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT trust_score FROM users WHERE user_id = ?`, userID)
	var score sql.NullInt64
	if err := row.Scan(&score); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get user trust: %w", err)
	}
	if !score.Valid {
		return 0, false, nil
	}
	return int(score.Int64), true, nil
}

// SetUserTrust stores score unless a higher score is already persisted, and
// returns the resulting value.
func (s *SQLiteStore) SetUserTrust(ctx context.Context, userID string, score int) (int, error) {
	score = session.ClampTrust(score)
	row := s.db.QueryRowContext(ctx, `
INSERT INTO users(user_id, trust_score, interactions, updated_at_ms)
VALUES(?, ?, 0, ?)
ON CONFLICT(user_id) DO UPDATE SET
	trust_score = MAX(COALESCE(users.trust_score, 0), excluded.trust_score),
	updated_at_ms = excluded.updated_at_ms
RETURNING trust_score`, userID, score, nowMS())
	var stored int
	if err := row.Scan(&stored); err != nil {
		return 0, fmt.Errorf("set user trust: %w", err)
	}
	return stored, nil
}

// Interaction is the outcome of counting one processed turn.
type Interaction struct {
	Count int
	Trust int
	// Fresh is false when the turn had already been counted.
	Fresh bool
}

// RecordInteraction counts turnID once for the user. On the first count the
// user's trust is advanced with next(current, count), never below current;
// seed stands in for a user with no persisted trust. Counting and the trust
// update commit together, so a retried job neither double counts nor loses
// an increment.
func (s *SQLiteStore) RecordInteraction(ctx context.Context, userID, turnID string, seed int, next func(current, interactions int) int) (Interaction, error) {
	if strings.TrimSpace(turnID) == "" {
		return Interaction{}, fmt.Errorf("record interaction: empty turn id")
	}
	now := nowMS()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Interaction{}, fmt.Errorf("record interaction begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO interactions(user_id, turn_id, created_at_ms)
VALUES(?, ?, ?)
ON CONFLICT(user_id, turn_id) DO NOTHING`, userID, turnID, now)
	if err != nil {
		return Interaction{}, fmt.Errorf("record interaction insert: %w", err)
	}
	inserted, _ := res.RowsAffected()
	out := Interaction{Fresh: inserted > 0}
	if out.Fresh {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO users(user_id, trust_score, interactions, updated_at_ms)
VALUES(?, NULL, 1, ?)
ON CONFLICT(user_id) DO UPDATE SET
	interactions = users.interactions + 1,
	updated_at_ms = excluded.updated_at_ms`, userID, now); err != nil {
			return Interaction{}, fmt.Errorf("record interaction bump: %w", err)
		}
	}

	var trust sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT trust_score, interactions FROM users WHERE user_id = ?`, userID).Scan(&trust, &out.Count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, fmt.Errorf("record interaction read: %w", err)
	}
	out.Trust = session.ClampTrust(seed)
	if trust.Valid {
		out.Trust = int(trust.Int64)
	}

	if out.Fresh && next != nil {
		out.Trust = max(out.Trust, session.ClampTrust(next(out.Trust, out.Count)))
		if _, err := tx.ExecContext(ctx, `UPDATE users SET trust_score = ?, updated_at_ms = ? WHERE user_id = ?`, out.Trust, now, userID); err != nil {
			return Interaction{}, fmt.Errorf("record interaction trust: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Interaction{}, fmt.Errorf("record interaction commit: %w", err)
	}
	return out, nil
}

// GetRecentSession returns the user's most recently active session with
// activity at or after since, including its newest messages.
func (s *SQLiteStore) GetRecentSession(ctx context.Context, userID string, since time.Time) (*session.RecentSession, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, created_at_ms, last_activity_ms
FROM sessions
WHERE user_id = ? AND last_activity_ms >= ?
ORDER BY last_activity_ms DESC
LIMIT 1`, userID, since.UnixMilli())
	var (
		out                  session.RecentSession
		createdMS, activeMS int64
	)
	if err := row.Scan(&out.ID, &out.UserID, &createdMS, &activeMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get recent session: %w", err)
	}
	out.CreatedAt = time.UnixMilli(createdMS)
	out.LastActivityAt = time.UnixMilli(activeMS)

	msgs, err := s.ListMessages(ctx, out.ID, recentHistoryLimit)
	if err != nil {
		return nil, err
	}
	out.History = make([]session.Turn, 0, len(msgs))
	for _, m := range msgs {
		out.History = append(out.History, session.Turn{ID: m.ID, Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt})
		out.NextSeq = max(out.NextSeq, m.Seq+1)
	}
	return &out, nil
}

// ListMessages returns up to limit of the session's newest messages, oldest
// first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, user_id, seq, role, content, created_at_ms
FROM messages
WHERE session_id = ?
ORDER BY created_at_ms DESC, seq DESC
LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) ArchiveSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET archived_at_ms = ? WHERE id = ? AND archived_at_ms = 0`, nowMS(), sessionID)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return nil
}

// SessionOwner returns the user a session id was first persisted for.
func (s *SQLiteStore) SessionOwner(ctx context.Context, sessionID string) (string, bool, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM sessions WHERE id = ?`, sessionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session owner: %w", err)
	}
	return owner, true, nil
}

// SearchMessages finds the user's messages matching query, best match first.
// Full-text search is tried first; substring matching covers text the FTS
// tokenizer cannot split, such as CJK.
func (s *SQLiteStore) SearchMessages(ctx context.Context, userID, query string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	out, err := s.searchFTS(ctx, userID, terms, limit)
	if err != nil || len(out) == 0 {
		return s.searchLike(ctx, userID, terms, limit)
	}
	return out, nil
}

func (s *SQLiteStore) searchFTS(ctx context.Context, userID string, terms []string, limit int) ([]Message, error) {
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT m.id, m.session_id, m.user_id, m.seq, m.role, m.content, m.created_at_ms
FROM messages_fts f
JOIN messages m ON m.id = f.message_id
WHERE messages_fts MATCH ?
AND m.user_id = ?
AND m.role = 'user'
ORDER BY bm25(messages_fts), m.created_at_ms DESC
LIMIT ?`, strings.Join(quoted, " OR "), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages fts: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) searchLike(ctx context.Context, userID string, terms []string, limit int) ([]Message, error) {
	clauses := make([]string, 0, len(terms))
	args := []any{userID}
	for _, term := range terms {
		clauses = append(clauses, `m.content LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(term)+"%")
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
SELECT m.id, m.session_id, m.user_id, m.seq, m.role, m.content, m.created_at_ms
FROM messages m
WHERE m.user_id = ?
AND m.role = 'user'
AND (`+strings.Join(clauses, " OR ")+`)
ORDER BY m.created_at_ms DESC
LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	out := []Message{}
	for rows.Next() {
		var (
			m         Message
			role      string
			createdMS int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Seq, &role, &m.Content, &createdMS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = session.Role(role)
		m.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UserStats(ctx context.Context, userID string) (UserStats, error) {
	out := UserStats{UserID: userID}
	var trust sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT trust_score, interactions FROM users WHERE user_id = ?`, userID).Scan(&trust, &out.Interactions)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	if trust.Valid {
		out.TrustScore, out.HasTrust = int(trust.Int64), true
	}

	var lastMS int64
	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(message_count), 0), COALESCE(MAX(last_activity_ms), 0)
FROM sessions WHERE user_id = ?`, userID).Scan(&out.Sessions, &out.Messages, &lastMS)
	if err != nil {
		return UserStats{}, fmt.Errorf("user stats sessions: %w", err)
	}
	if lastMS > 0 {
		out.LastActiveAt = time.UnixMilli(lastMS)
	}
	return out, nil
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "to": {}, "of": {}, "i": {}, "you": {},
	"me": {}, "my": {}, "did": {}, "do": {}, "what": {}, "about": {}, "remember": {}, "said": {},
	"say": {}, "tell": {}, "told": {}, "last": {}, "time": {}, "that": {}, "it": {}, "is": {}, "was": {},
}

// searchTerms keeps the distinctive words of a free-text query.
func searchTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	expanded := make([]string, 0, len(fields))
	for _, f := range fields {
		expanded = append(expanded, splitCJK(f)...)
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(expanded))
	for _, f := range expanded {
		if _, stop := stopWords[f]; stop {
			continue
		}
		if len([]rune(f)) < 2 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

var cjkStopWords = map[string]struct{}{
	"记得": {}, "上次": {}, "之前": {}, "我说": {}, "说过": {}, "什么": {}, "你还": {}, "还记": {},
}

// splitCJK breaks runs of CJK characters into overlapping bigrams so they
// can be matched as substrings.
func splitCJK(field string) []string {
	runes := []rune(field)
	hasCJK := false
	for _, r := range runes {
		if unicode.Is(unicode.Han, r) {
			hasCJK = true
			break
		}
	}
	if !hasCJK || len(runes) <= 2 {
		return []string{field}
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		gram := string(runes[i : i+2])
		if _, stop := cjkStopWords[gram]; stop {
			continue
		}
		out = append(out, gram)
	}
	return out
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
