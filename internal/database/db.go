package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"golang.org/x/oauth2"
	_ "modernc.org/sqlite"

	"github.com/digitaldrywood/fitweight/internal/google"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type DB struct {
	conn *sql.DB
}

func New(dataDir string) (*DB, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "fitweight.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if err := goose.Up(db.conn, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Tokens returns a token store scoped to user.
func (db *DB) Tokens(user string) *TokenStore {
	return &TokenStore{conn: db.conn, user: user}
}

// TokenStore keeps at most one token per (user, service).
type TokenStore struct {
	conn *sql.DB
	user string
}

var _ google.TokenStore = (*TokenStore)(nil)

func (s *TokenStore) Load(ctx context.Context, service string) (*oauth2.Token, error) {
	var (
		tok      oauth2.Token
		expiryMs int64
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, token_type, expiry_ms
		FROM oauth_tokens WHERE user_email = ? AND service = ?
	`, s.user, service).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiryMs)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, google.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if expiryMs != 0 {
		tok.Expiry = time.UnixMilli(expiryMs)
	}
	return &tok, nil
}

func (s *TokenStore) Save(ctx context.Context, service string, token *oauth2.Token) error {
	var expiryMs int64
	if !token.Expiry.IsZero() {
		expiryMs = token.Expiry.UnixMilli()
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO oauth_tokens (user_email, service, access_token, refresh_token, token_type, expiry_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_email, service) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry_ms = excluded.expiry_ms,
			updated_at = CURRENT_TIMESTAMP
	`, s.user, service, token.AccessToken, token.RefreshToken, token.TokenType, expiryMs)

	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// DeleteAll removes every token of the store's user.
func (s *TokenStore) DeleteAll(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE user_email = ?`, s.user); err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	return nil
}
