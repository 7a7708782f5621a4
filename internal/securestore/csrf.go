package securestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// csrfKey is the store key holding the current CSRF token.
const csrfKey = "console.csrf"

// csrfRandomBytes is the entropy per token before hex encoding.
const csrfRandomBytes = 16

// CSRFToken returns the current CSRF token, generating and persisting one if
// none exists. The same token is reused across restarts until RotateCSRF is
// called, matching the double-submit pattern on the admin API.
func (s *Store) CSRFToken(ctx context.Context) string {
	if token, ok := s.Read(ctx, csrfKey); ok && token != "" {
		return token
	}
	return s.RotateCSRF(ctx)
}

// RotateCSRF replaces the CSRF token with a fresh one and persists it.
// The new token is returned even when persistence degrades, so requests in
// the current process keep working against a store outage.
func (s *Store) RotateCSRF(ctx context.Context) string {
	token := generateCSRFToken()
	s.Persist(ctx, csrfKey, token)
	return token
}

// generateCSRFToken builds a token from random hex plus a millisecond
// timestamp suffix. The suffix makes tokens trivially orderable when
// debugging rotation issues.
func generateCSRFToken() string {
	buf := make([]byte, csrfRandomBytes)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%d", hex.EncodeToString(buf), time.Now().UnixMilli())
}
