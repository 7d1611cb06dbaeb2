// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package oauth implements the marketplace OAuth client: PKCE login
// handshakes, authorization-code exchange and refresh-token rotation.
package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/pdiddy/review-engine/pkg/types"
)

// DefaultHandshakeTTL bounds how long an issued state stays redeemable.
const DefaultHandshakeTTL = 600 * time.Second

// maxVerifierLen is the RFC 7636 upper bound on code_verifier length.
const maxVerifierLen = 128

var (
	// ErrInvalidHandshake is returned when a callback state is unknown,
	// already consumed or expired.
	ErrInvalidHandshake = errors.New("invalid or expired state")

	// ErrNotConfigured is returned when required OAuth settings are absent.
	ErrNotConfigured = errors.New("oauth client not configured")
)

type handshake struct {
	verifier  string
	createdAt time.Time
}

// HandshakeStore maps login state tokens to PKCE verifiers. Entries are
// single use and expire after the TTL.
type HandshakeStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]handshake
	now     func() time.Time
}

// NewHandshakeStore creates a store. A non-positive ttl selects
// DefaultHandshakeTTL.
func NewHandshakeStore(ttl time.Duration) *HandshakeStore {
	if ttl <= 0 {
		ttl = DefaultHandshakeTTL
	}
	return &HandshakeStore{
		ttl:     ttl,
		entries: make(map[string]handshake),
		now:     time.Now,
	}
}

// Issue stores verifier under a fresh random state and returns the state.
func (s *HandshakeStore) Issue(verifier string) (string, error) {
	state, err := randomToken(16)
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.entries[state] = handshake{verifier: verifier, createdAt: now}
	return state, nil
}

// Consume removes the entry for state and returns its verifier. It
// reports false when the state was never issued, was already consumed or
// is older than the TTL. The entry is deleted in every case.
func (s *HandshakeStore) Consume(state string) (string, bool) {
	now := s.now()

	s.mu.Lock()
	h, ok := s.entries[state]
	delete(s.entries, state)
	s.mu.Unlock()

	if !ok || now.Sub(h.createdAt) > s.ttl {
		return "", false
	}
	return h.verifier, true
}

// Len reports the number of pending handshakes, expired ones included.
func (s *HandshakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired entries.
func (s *HandshakeStore) Sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
}

func (s *HandshakeStore) sweepLocked(now time.Time) {
	for k, h := range s.entries {
		if now.Sub(h.createdAt) > s.ttl {
			delete(s.entries, k)
		}
	}
}

// Login is the result of starting an authorization flow.
type Login struct {
	AuthURL string `json:"auth_url" yaml:"auth_url"`
	State   string `json:"state" yaml:"state"`
}

// Begin creates a PKCE verifier, stores it under a new state and returns
// the authorization URL the user should visit.
func (s *HandshakeStore) Begin(cfg types.OAuthConfig) (Login, error) {
	if cfg.ClientID == "" || cfg.RedirectURI == "" {
		return Login{}, fmt.Errorf("%w: client id and redirect uri must be set", ErrNotConfigured)
	}
	verifier, err := NewVerifier()
	if err != nil {
		return Login{}, err
	}
	state, err := s.Issue(verifier)
	if err != nil {
		return Login{}, err
	}
	return Login{AuthURL: AuthURL(cfg, state, verifier), State: state}, nil
}

// NewVerifier returns a URL-safe PKCE code_verifier built from 64 random
// bytes, capped at 128 characters. oauth2.GenerateVerifier draws only 32.
func NewVerifier() (string, error) {
	v, err := randomToken(64)
	if err != nil {
		return "", fmt.Errorf("generating verifier: %w", err)
	}
	if len(v) > maxVerifierLen {
		v = v[:maxVerifierLen]
	}
	return v, nil
}

// Challenge derives the S256 code_challenge for verifier.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// AuthURL builds the authorization endpoint URL for a PKCE login with an
// S256 challenge derived from verifier.
func AuthURL(cfg types.OAuthConfig, state, verifier string) string {
	return Config(cfg).AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
