// Package apikeys issues and verifies client API keys. Only the sha256 of a
// key is stored; the raw key is shown once at creation.
package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	keyPrefix = "sk-live-"
	// displayLen is how much of the raw key is kept for display.
	displayLen = 12
)

// Key is a stored API key without its secret.
type Key struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

type keyNotFoundError struct{ id string }

func (e keyNotFoundError) Error() string { return "api key not found: " + e.id }

// IsKeyNotFound reports whether err names an unknown or revoked key id.
func IsKeyNotFound(err error) bool {
	var e keyNotFoundError
	return errors.As(err, &e)
}

type unauthorizedError struct{ msg string }

func (e unauthorizedError) Error() string { return e.msg }

// IsUnauthorized reports whether err is a rejected API key.
func IsUnauthorized(err error) bool {
	var e unauthorizedError
	return errors.As(err, &e)
}

// Service manages keys in the api_keys table.
type Service struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// New returns a Service over a migrated database.
func New(db *sql.DB, log zerolog.Logger) *Service {
	return &Service{db: db, log: log, now: time.Now}
}

// generate returns a raw key with its display prefix and stored hash.
func generate() (raw, prefix, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	raw = keyPrefix + base64.RawURLEncoding.EncodeToString(b)
	return raw, raw[:displayLen], hashKey(raw), nil
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Create issues a new key. The raw key is returned once and never stored.
func (s *Service) Create(ctx context.Context, name string) (string, Key, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Key{}, errors.New("api key name is required")
	}
	raw, prefix, hash, err := generate()
	if err != nil {
		return "", Key{}, fmt.Errorf("generate key: %w", err)
	}
	k := Key{ID: uuid.NewString(), Name: name, Prefix: prefix, Active: true, CreatedAt: s.now().UTC()}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO api_keys(id, name, key_prefix, key_hash, is_active, created_at)
VALUES(?, ?, ?, ?, 1, ?);
`, k.ID, k.Name, k.Prefix, hash, k.CreatedAt)
	if err != nil {
		return "", Key{}, fmt.Errorf("store key: %w", err)
	}
	s.log.Info().Str("key_id", k.ID).Str("name", k.Name).Str("prefix", k.Prefix).Msg("api key created")
	return raw, k, nil
}

// List returns active keys, oldest first.
func (s *Service) List(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, key_prefix, is_active, created_at, last_used_at
FROM api_keys WHERE is_active = 1 ORDER BY created_at, id;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Key{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(r scanner) (Key, error) {
	var (
		k      Key
		active int
		last   sql.NullTime
	)
	if err := r.Scan(&k.ID, &k.Name, &k.Prefix, &active, &k.CreatedAt, &last); err != nil {
		return Key{}, err
	}
	k.Active = active == 1
	if last.Valid {
		t := last.Time
		k.LastUsedAt = &t
	}
	return k, nil
}

// Revoke deactivates a key. Revoking an unknown or already revoked key
// fails with an error satisfying IsKeyNotFound.
func (s *Service) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET is_active = 0 WHERE id = ? AND is_active = 1;`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return keyNotFoundError{id: id}
	}
	s.log.Info().Str("key_id", id).Msg("api key revoked")
	return nil
}

// Verify checks raw against the active keys.
func (s *Service) Verify(ctx context.Context, raw string) (Key, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Key{}, unauthorizedError{msg: "missing api key"}
	}
	want := hashKey(raw)
	var stored string
	row := s.db.QueryRowContext(ctx, `
SELECT key_hash, id, name, key_prefix, is_active, created_at, last_used_at
FROM api_keys WHERE key_hash = ? AND is_active = 1;
`, want)
	var (
		k      Key
		active int
		last   sql.NullTime
	)
	err := row.Scan(&stored, &k.ID, &k.Name, &k.Prefix, &active, &k.CreatedAt, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, unauthorizedError{msg: "invalid api key"}
	}
	if err != nil {
		return Key{}, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(want)) != 1 {
		return Key{}, unauthorizedError{msg: "invalid api key"}
	}
	k.Active = active == 1
	if last.Valid {
		t := last.Time
		k.LastUsedAt = &t
	}

	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?;`, now, k.ID); err != nil {
		s.log.Warn().Err(err).Str("key_id", k.ID).Msg("record key use failed")
	}
	return k, nil
}
