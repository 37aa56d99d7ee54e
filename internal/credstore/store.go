// Package credstore persists the bearer token and user profile across
// process restarts, the durable equivalent of the browser's local storage.
package credstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/medsurplus/vendorchat/internal/model/auth"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

const (
	keyToken   = "token"
	keyProfile = "profile"
)

// Store is a small SQLite-backed key-value store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init credential store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession persists the token and profile, replacing any prior session.
func (s *Store) SaveSession(sess auth.Session) error {
	profile, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert := `
        INSERT INTO credentials (key, value, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`

	if _, err := tx.Exec(upsert, keyToken, sess.Token); err != nil {
		return err
	}
	if _, err := tx.Exec(upsert, keyProfile, string(profile)); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadSession returns the stored session, if any.
func (s *Store) LoadSession() (auth.Session, bool, error) {
	token, ok, err := s.get(keyToken)
	if err != nil || !ok {
		return auth.Session{}, false, err
	}

	profile, ok, err := s.get(keyProfile)
	if err != nil || !ok {
		return auth.Session{}, false, err
	}

	var user auth.User
	if err := json.Unmarshal([]byte(profile), &user); err != nil {
		return auth.Session{}, false, fmt.Errorf("decode profile: %w", err)
	}

	return auth.Session{Token: token, User: user}, true, nil
}

// Clear removes any stored session. Idempotent: clearing an empty store is
// not an error.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE key IN (?, ?)`, keyToken, keyProfile)
	return err
}

func (s *Store) get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM credentials WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
