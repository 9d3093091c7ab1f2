// Package usertoken provides SQLite-backed storage and validation for
// client-issued proxy tokens: expiry, per-token IP-binding limits, and
// curfew windows (spec.md §4.7). Grounded on
// original_source/src-tauri/src/modules/user_token_db.rs.
//
// Uses modernc.org/sqlite, the same pure-Go, no-CGO driver the teacher
// already pulls in for internal/auth's Antigravity database reads.
package usertoken

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/poemonsense/antigravity-proxy-go/internal/utils"

	_ "modernc.org/sqlite"
)

// Token is a client-issued proxy credential.
type Token struct {
	ID              string
	Value           string
	Username        string
	Description     string
	Enabled         bool
	ExpiresType     string // "day", "week", "month", "never"
	ExpiresAt       *int64
	MaxIPs          int
	CurfewStart     string // "HH:MM", empty if unset
	CurfewEnd       string
	CreatedAt       int64
	UpdatedAt       int64
	LastUsedAt      *int64
	TotalRequests   int64
	TotalTokensUsed int64
}

// IPBinding records one IP address a token has been used from.
type IPBinding struct {
	ID           string
	TokenID      string
	IPAddress    string
	FirstSeenAt  int64
	LastSeenAt   int64
	RequestCount int64
	UserAgent    string
}

// Store wraps the user-token SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates (or migrates) the database at path and returns a Store.
func Open(path string) (*Store, error) {
	if err := utils.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open user token database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid "database is locked"

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_tokens (
			id TEXT PRIMARY KEY,
			token TEXT UNIQUE NOT NULL,
			username TEXT NOT NULL,
			description TEXT,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			expires_type TEXT NOT NULL,
			expires_at INTEGER,
			max_ips INTEGER NOT NULL DEFAULT 0,
			curfew_start TEXT,
			curfew_end TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_used_at INTEGER,
			total_requests INTEGER NOT NULL DEFAULT 0,
			total_tokens_used INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS token_ip_bindings (
			id TEXT PRIMARY KEY,
			token_id TEXT NOT NULL,
			ip_address TEXT NOT NULL,
			first_seen_at INTEGER NOT NULL,
			last_seen_at INTEGER NOT NULL,
			request_count INTEGER NOT NULL DEFAULT 0,
			user_agent TEXT,
			FOREIGN KEY(token_id) REFERENCES user_tokens(id) ON DELETE CASCADE,
			UNIQUE(token_id, ip_address)
		)`,
		`CREATE TABLE IF NOT EXISTS token_usage_logs (
			id TEXT PRIMARY KEY,
			token_id TEXT NOT NULL,
			ip_address TEXT,
			model TEXT,
			input_tokens INTEGER,
			output_tokens INTEGER,
			request_time INTEGER NOT NULL,
			status INTEGER,
			FOREIGN KEY(token_id) REFERENCES user_tokens(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_token_usage_logs_token_id ON token_usage_logs(token_id)`,
		`CREATE INDEX IF NOT EXISTS idx_token_usage_logs_request_time ON token_usage_logs(request_time)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize user token database: %w", err)
		}
	}
	return nil
}

// CreateOptions configures a new token at creation time.
type CreateOptions struct {
	Username    string
	Description string
	ExpiresType string
	MaxIPs      int
	CurfewStart string
	CurfewEnd   string
}

// Create issues a new token for the given options.
func (s *Store) Create(opts CreateOptions) (*Token, error) {
	now := time.Now().Unix()
	t := &Token{
		ID:          uuid.NewString(),
		Value:       "sk-" + uuid.NewString(),
		Username:    opts.Username,
		Description: opts.Description,
		Enabled:     true,
		ExpiresType: opts.ExpiresType,
		ExpiresAt:   expiryFor(opts.ExpiresType, now),
		MaxIPs:      opts.MaxIPs,
		CurfewStart: opts.CurfewStart,
		CurfewEnd:   opts.CurfewEnd,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(
		`INSERT INTO user_tokens (
			id, token, username, description, enabled, expires_type, expires_at, max_ips,
			curfew_start, curfew_end, created_at, updated_at, total_requests, total_tokens_used
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		t.ID, t.Value, t.Username, t.Description, t.Enabled, t.ExpiresType, t.ExpiresAt, t.MaxIPs,
		nullableString(t.CurfewStart), nullableString(t.CurfewEnd), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user token: %w", err)
	}
	return t, nil
}

// expiryFor computes the absolute expiry unix timestamp for a relative
// expires_type, or nil for "never"/unrecognized values.
func expiryFor(expiresType string, from int64) *int64 {
	var d time.Duration
	switch expiresType {
	case "day":
		d = 24 * time.Hour
	case "week":
		d = 7 * 24 * time.Hour
	case "month":
		d = 30 * 24 * time.Hour
	default:
		return nil
	}
	at := time.Unix(from, 0).Add(d).Unix()
	return &at
}

// List returns every token, most recently created first.
func (s *Store) List() ([]*Token, error) {
	rows, err := s.db.Query(`SELECT
		id, token, username, description, enabled, expires_type, expires_at, max_ips,
		curfew_start, curfew_end, created_at, updated_at, last_used_at, total_requests, total_tokens_used
		FROM user_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to parse token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// GetByID returns the token with the given id, or nil if none exists.
func (s *Store) GetByID(id string) (*Token, error) {
	return s.getOneWhere("id = ?", id)
}

// GetByValue returns the token with the given token string, or nil if none exists.
func (s *Store) GetByValue(value string) (*Token, error) {
	return s.getOneWhere("token = ?", value)
}

func (s *Store) getOneWhere(where, arg string) (*Token, error) {
	row := s.db.QueryRow(`SELECT
		id, token, username, description, enabled, expires_type, expires_at, max_ips,
		curfew_start, curfew_end, created_at, updated_at, last_used_at, total_requests, total_tokens_used
		FROM user_tokens WHERE `+where, arg)

	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	return t, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(r scanner) (*Token, error) {
	var t Token
	var description, curfewStart, curfewEnd sql.NullString
	var expiresAt, lastUsedAt sql.NullInt64

	err := r.Scan(
		&t.ID, &t.Value, &t.Username, &description, &t.Enabled, &t.ExpiresType, &expiresAt, &t.MaxIPs,
		&curfewStart, &curfewEnd, &t.CreatedAt, &t.UpdatedAt, &lastUsedAt, &t.TotalRequests, &t.TotalTokensUsed,
	)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.CurfewStart = curfewStart.String
	t.CurfewEnd = curfewEnd.String
	if expiresAt.Valid {
		v := expiresAt.Int64
		t.ExpiresAt = &v
	}
	if lastUsedAt.Valid {
		v := lastUsedAt.Int64
		t.LastUsedAt = &v
	}
	return &t, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Delete removes a token and its bindings/logs (cascading).
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM user_tokens WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user token: %w", err)
	}
	return nil
}

// SetEnabled toggles a token's enabled flag.
func (s *Store) SetEnabled(id string, enabled bool) error {
	_, err := s.db.Exec(`UPDATE user_tokens SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update user token: %w", err)
	}
	return nil
}

// Renew resets a token's expiry from now according to expiresType and
// re-enables it.
func (s *Store) Renew(id, expiresType string) error {
	now := time.Now().Unix()
	expiresAt := expiryFor(expiresType, now)
	_, err := s.db.Exec(
		`UPDATE user_tokens SET expires_type = ?, expires_at = ?, updated_at = ?, enabled = 1 WHERE id = ?`,
		expiresType, expiresAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to renew token: %w", err)
	}
	return nil
}

// IPBindings returns every IP bound to tokenID, most recently seen first.
func (s *Store) IPBindings(tokenID string) ([]*IPBinding, error) {
	rows, err := s.db.Query(`SELECT id, token_id, ip_address, first_seen_at, last_seen_at, request_count, user_agent
		FROM token_ip_bindings WHERE token_id = ? ORDER BY last_seen_at DESC`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to query token IPs: %w", err)
	}
	defer rows.Close()

	var bindings []*IPBinding
	for rows.Next() {
		var b IPBinding
		var userAgent sql.NullString
		if err := rows.Scan(&b.ID, &b.TokenID, &b.IPAddress, &b.FirstSeenAt, &b.LastSeenAt, &b.RequestCount, &userAgent); err != nil {
			return nil, fmt.Errorf("failed to parse binding row: %w", err)
		}
		b.UserAgent = userAgent.String
		bindings = append(bindings, &b)
	}
	return bindings, rows.Err()
}

// RecordUsage updates the token's running totals, upserts its IP binding,
// and appends a usage log row, all in one transaction.
func (s *Store) RecordUsage(tokenID, ip, model string, inputTokens, outputTokens int, status int, userAgent string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	if _, err := tx.Exec(
		`UPDATE user_tokens SET last_used_at = ?, total_requests = total_requests + 1, total_tokens_used = total_tokens_used + ? WHERE id = ?`,
		now, inputTokens+outputTokens, tokenID,
	); err != nil {
		return fmt.Errorf("failed to update user_tokens stats: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM token_ip_bindings WHERE token_id = ? AND ip_address = ?)`,
		tokenID, ip,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check ip binding: %w", err)
	}

	if exists {
		if _, err := tx.Exec(
			`UPDATE token_ip_bindings SET last_seen_at = ?, request_count = request_count + 1, user_agent = COALESCE(?, user_agent)
			 WHERE token_id = ? AND ip_address = ?`,
			now, nullableString(userAgent), tokenID, ip,
		); err != nil {
			return fmt.Errorf("failed to update ip binding: %w", err)
		}
	} else {
		if _, err := tx.Exec(
			`INSERT INTO token_ip_bindings (id, token_id, ip_address, first_seen_at, last_seen_at, request_count, user_agent)
			 VALUES (?, ?, ?, ?, ?, 1, ?)`,
			uuid.NewString(), tokenID, ip, now, now, nullableString(userAgent),
		); err != nil {
			return fmt.Errorf("failed to insert ip binding: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO token_usage_logs (id, token_id, ip_address, model, input_tokens, output_tokens, request_time, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), tokenID, ip, model, inputTokens, outputTokens, now, status,
	); err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UsernameForIP returns the username most recently associated with ip, if any.
func (s *Store) UsernameForIP(ip string) (string, error) {
	var username string
	err := s.db.QueryRow(
		`SELECT t.username FROM token_ip_bindings b JOIN user_tokens t ON b.token_id = t.id
		 WHERE b.ip_address = ? ORDER BY b.last_seen_at DESC LIMIT 1`, ip,
	).Scan(&username)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query username by ip: %w", err)
	}
	return username, nil
}
