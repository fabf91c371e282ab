// Package session keeps the first-party bearer token and its expiry in the
// key-value store. It is unrelated to registry Basic auth.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chis/regview/internal/storage"
)

// Storage keys.
const (
	TokenKey  = "token"
	ExpiryKey = "tokenExpirationTime"
)

// ErrSessionExpired is returned after an expired session has been cleared.
var ErrSessionExpired = errors.New("session expired")

// IsExpired reports whether a stored token has passed its expiry. A missing
// token or a zero expiry never expires.
func IsExpired(token string, expiry, now time.Time) bool {
	return token != "" && !expiry.IsZero() && now.After(expiry)
}

// Store reads and writes the session in a key-value store.
type Store struct {
	kv storage.Storage
}

// NewStore returns a Store backed by kv.
func NewStore(kv storage.Storage) *Store {
	return &Store{kv: kv}
}

// Save stores token with its expiry. A zero expiry means no expiry.
func (s *Store) Save(ctx context.Context, token string, expiry time.Time) error {
	if token == "" {
		return errors.New("token is required")
	}
	if err := s.kv.Set(ctx, TokenKey, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if expiry.IsZero() {
		return s.kv.Delete(ctx, ExpiryKey)
	}
	if err := s.kv.Set(ctx, ExpiryKey, strconv.FormatInt(expiry.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("failed to save token expiry: %w", err)
	}
	return nil
}

// Load returns the stored token and expiry. Both are zero when no session
// exists; an unparsable expiry is treated as none.
func (s *Store) Load(ctx context.Context) (string, time.Time, error) {
	token, found, err := s.kv.Get(ctx, TokenKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to load token: %w", err)
	}
	if !found {
		return "", time.Time{}, nil
	}

	raw, found, err := s.kv.Get(ctx, ExpiryKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to load token expiry: %w", err)
	}
	var expiry time.Time
	if found {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			expiry = time.UnixMilli(ms)
		}
	}
	return token, expiry, nil
}

// Bearer returns the token to send with first-party requests, or "" when no
// session exists. An expired session is cleared and reported as
// ErrSessionExpired.
func (s *Store) Bearer(ctx context.Context, now time.Time) (string, error) {
	token, expiry, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	if IsExpired(token, expiry, now) {
		if err := s.Clear(ctx); err != nil {
			return "", err
		}
		return "", ErrSessionExpired
	}
	return token, nil
}

// Clear removes the token and its expiry.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, TokenKey); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	if err := s.kv.Delete(ctx, ExpiryKey); err != nil {
		return fmt.Errorf("failed to clear token expiry: %w", err)
	}
	return nil
}
