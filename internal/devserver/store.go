package devserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/thanyathonk/read-pdf-anything/internal/models"
)

var (
	// ErrEmailTaken reports a registration against an existing address.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials reports a failed password check.
	ErrInvalidCredentials = errors.New("incorrect email or password")
	// ErrInvalidToken reports an unknown or expired bearer token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("not found")
)

// pdfRecord is one stored document. OwnerID is empty for guest uploads.
type pdfRecord struct {
	ID         string
	OwnerID    string
	Filename   string
	Size       int64
	ChunkCount int
	UploadedAt int64
}

func (r pdfRecord) info() models.Document {
	return models.Document{
		ID:         r.ID,
		Name:       r.Filename,
		SizeBytes:  r.Size,
		ChunkCount: r.ChunkCount,
		UploadedAt: r.UploadedAt,
	}
}

// Store persists the development server's accounts, sessions, documents and
// transcripts in SQLite.
type Store struct {
	db       *sql.DB
	tokenTTL time.Duration
}

// OpenStore connects to the SQLite database at dsn and ensures the schema.
// Use ":memory:" for a throwaway instance.
func OpenStore(dsn string, tokenTTL time.Duration) (*Store, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, tokenTTL: tokenTTL}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			avatar TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_tokens (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
		`CREATE TABLE IF NOT EXISTS pdfs (
			id TEXT PRIMARY KEY,
			owner_id TEXT,
			filename TEXT NOT NULL,
			size INTEGER NOT NULL,
			chunk_count INTEGER NOT NULL,
			uploaded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pdfs_owner ON pdfs(owner_id)`,
		`CREATE TABLE IF NOT EXISTS chat_history (
			user_id TEXT PRIMARY KEY,
			messages TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateUser registers a password account.
func (s *Store) CreateUser(ctx context.Context, email, name, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	user := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		Provider:  models.ProviderLocal,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, avatar, provider, password_hash, created_at)
		 VALUES (?, ?, ?, '', ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.Provider, hashPassword(password), user.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

// Authenticate checks a password account's credentials.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, avatar, provider, password_hash, created_at
		 FROM users WHERE email = ?`, email,
	)
	var user models.User
	var hash string
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Avatar, &user.Provider, &hash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if hash != hashPassword(password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// EnsureGoogleUser finds or creates the account for a Google sign-in.
func (s *Store) EnsureGoogleUser(ctx context.Context, email, name, avatar string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if user, err := s.UserByEmail(ctx, email); err == nil {
		return user, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	user := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		Avatar:    avatar,
		Provider:  models.ProviderGoogle,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, avatar, provider, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, '', ?)`,
		user.ID, user.Email, user.Name, user.Avatar, user.Provider, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create google user: %w", err)
	}
	return &user, nil
}

// UserByEmail returns the account registered under email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, avatar, provider, created_at FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	)
	return scanUser(row)
}

// UserByID returns the account behind id.
func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, avatar, provider, created_at FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Avatar, &user.Provider, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// IssueToken mints a random bearer token for the user and persists it.
func (s *Store) IssueToken(ctx context.Context, userID string) (string, error) {
	now := time.Now().UTC()
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(s.tokenTTL),
	)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies the token exists and has not expired, returning
// the user id.
func (s *Store) ValidateToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	var userID string
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM user_tokens WHERE token = ?`, token,
	).Scan(&userID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	if time.Now().UTC().After(expires) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, token)
		return "", ErrInvalidToken
	}
	return userID, nil
}

// RevokeToken deletes a single token.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// InsertPDF stores a processed document. ownerID is empty for guest uploads.
func (s *Store) InsertPDF(ctx context.Context, rec pdfRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pdfs (id, owner_id, filename, size, chunk_count, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, nullable(rec.OwnerID), rec.Filename, rec.Size, rec.ChunkCount, rec.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pdf: %w", err)
	}
	return nil
}

// ListPDFs returns the caller's documents, oldest first. An empty ownerID
// selects the guest pool.
func (s *Store) ListPDFs(ctx context.Context, ownerID string) ([]pdfRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(owner_id, ''), filename, size, chunk_count, uploaded_at
		 FROM pdfs WHERE owner_id IS ? ORDER BY uploaded_at ASC`,
		nullable(ownerID),
	)
	if err != nil {
		return nil, fmt.Errorf("list pdfs: %w", err)
	}
	defer rows.Close()

	var recs []pdfRecord
	for rows.Next() {
		var rec pdfRecord
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Filename, &rec.Size, &rec.ChunkCount, &rec.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan pdf: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PDFByID returns one document visible to ownerID.
func (s *Store) PDFByID(ctx context.Context, ownerID, id string) (*pdfRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(owner_id, ''), filename, size, chunk_count, uploaded_at
		 FROM pdfs WHERE id = ? AND owner_id IS ?`,
		id, nullable(ownerID),
	)
	var rec pdfRecord
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Filename, &rec.Size, &rec.ChunkCount, &rec.UploadedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query pdf: %w", err)
	}
	return &rec, nil
}

// RenamePDF updates the filename of a document visible to ownerID.
func (s *Store) RenamePDF(ctx context.Context, ownerID, id, filename string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pdfs SET filename = ? WHERE id = ? AND owner_id IS ?`,
		filename, id, nullable(ownerID),
	)
	if err != nil {
		return fmt.Errorf("rename pdf: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePDF removes a document visible to ownerID.
func (s *Store) DeletePDF(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pdfs WHERE id = ? AND owner_id IS ?`,
		id, nullable(ownerID),
	)
	if err != nil {
		return fmt.Errorf("delete pdf: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimGuestPDFs assigns ownerless documents to userID, returning how many
// changed hands.
func (s *Store) ClaimGuestPDFs(ctx context.Context, userID string, ids []string) (int, error) {
	claimed := 0
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx,
			`UPDATE pdfs SET owner_id = ? WHERE id = ? AND owner_id IS NULL`,
			userID, id,
		)
		if err != nil {
			return claimed, fmt.Errorf("claim pdf %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			claimed++
		}
	}
	return claimed, nil
}

// ChatHistory returns the account's saved transcript.
func (s *Store) ChatHistory(ctx context.Context, userID string) ([]models.ChatMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM chat_history WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []models.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	var messages []models.ChatMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("decode chat history: %w", err)
	}
	return messages, nil
}

// SaveChatHistory replaces the account's transcript.
func (s *Store) SaveChatHistory(ctx context.Context, userID string, messages []models.ChatMessage) error {
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_history (user_id, messages, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`,
		userID, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save chat history: %w", err)
	}
	return nil
}

// AppendChatHistory adds messages to the end of the account's transcript,
// returning how many were added.
func (s *Store) AppendChatHistory(ctx context.Context, userID string, messages []models.ChatMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	existing, err := s.ChatHistory(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.SaveChatHistory(ctx, userID, append(existing, messages...)); err != nil {
		return 0, err
	}
	return len(messages), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func hashPassword(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
