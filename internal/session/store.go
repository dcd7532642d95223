package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Storage keys of the persisted credentials.
const (
	TokenKey = "@surveysGeo_token"
	UserKey  = "@surveysGeo_user"
)

const nonceSize = 24

var errUnsealable = errors.New("stored value cannot be opened with the configured key")

// Store keeps string values in the local kv_store table. With a key, values
// are sealed with secretbox and prefixed with their random nonce.
type Store struct {
	db  *sql.DB
	key *[32]byte
}

func NewStore(db *sql.DB, key *[32]byte) *Store {
	return &Store{db: db, key: key}
}

func (s *Store) Sealed() bool { return s.key != nil }

// Get returns the value under key. ok is false if it is absent.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	var raw []byte
	var sealed int
	err = s.db.QueryRowContext(ctx,
		`SELECT value, sealed FROM kv_store WHERE key = ?`, key,
	).Scan(&raw, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}

	if sealed == 0 {
		return string(raw), true, nil
	}
	plain, err := s.open(raw)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return string(plain), true, nil
}

// SetAll writes every pair in one transaction.
func (s *Store) SetAll(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	sealed := 0
	if s.Sealed() {
		sealed = 1
	}
	for k, v := range values {
		raw, err := s.seal([]byte(v))
		if err != nil {
			return fmt.Errorf("sealing %s: %w", k, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO kv_store (key, value, sealed, updated_at)
			VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
			ON CONFLICT (key) DO UPDATE SET
				value = excluded.value,
				sealed = excluded.sealed,
				updated_at = excluded.updated_at
		`, k, raw, sealed)
		if err != nil {
			return fmt.Errorf("writing %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// DeleteAll removes the keys in one transaction.
func (s *Store) DeleteAll(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, k); err != nil {
			return fmt.Errorf("deleting %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *Store) seal(plain []byte) ([]byte, error) {
	if s.key == nil {
		return plain, nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, s.key), nil
}

func (s *Store) open(raw []byte) ([]byte, error) {
	if s.key == nil || len(raw) < nonceSize+secretbox.Overhead {
		return nil, errUnsealable
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, s.key)
	if !ok {
		return nil, errUnsealable
	}
	return plain, nil
}
