// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/review-engine/pkg/types"
)

func newClockedStore(ttl time.Duration) (*HandshakeStore, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewHandshakeStore(ttl)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestConsume_SingleUse(t *testing.T) {
	s, _ := newClockedStore(0)
	state, err := s.Issue("verifier-1")
	require.NoError(t, err)

	v, ok := s.Consume(state)
	assert.True(t, ok)
	assert.Equal(t, "verifier-1", v)

	v, ok = s.Consume(state)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestConsume_ExpiredIsAbsentAndRemoved(t *testing.T) {
	s, now := newClockedStore(10 * time.Minute)
	state, err := s.Issue("verifier-1")
	require.NoError(t, err)

	*now = now.Add(10*time.Minute + time.Second)
	_, ok := s.Consume(state)
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestConsume_AtTTLBoundaryIsValid(t *testing.T) {
	s, now := newClockedStore(time.Minute)
	state, err := s.Issue("v")
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	v, ok := s.Consume(state)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestConsume_Unknown(t *testing.T) {
	s, _ := newClockedStore(0)
	_, ok := s.Consume("never-issued")
	assert.False(t, ok)
}

func TestIssue_UniqueStates(t *testing.T) {
	s, _ := newClockedStore(0)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		state, err := s.Issue("v")
		require.NoError(t, err)
		assert.False(t, seen[state])
		assert.GreaterOrEqual(t, len(state), 22)
		seen[state] = true
	}
	assert.Equal(t, 100, s.Len())
}

func TestIssue_SweepsExpired(t *testing.T) {
	s, now := newClockedStore(time.Minute)
	_, err := s.Issue("old")
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	_, err = s.Issue("new")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestSweep(t *testing.T) {
	s, now := newClockedStore(time.Minute)
	_, err := s.Issue("a")
	require.NoError(t, err)
	*now = now.Add(2 * time.Minute)
	s.Sweep()
	assert.Zero(t, s.Len())
}

func TestNewHandshakeStore_DefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultHandshakeTTL, NewHandshakeStore(0).ttl)
	assert.Equal(t, 600*time.Second, DefaultHandshakeTTL)
}

func TestNewVerifier(t *testing.T) {
	v, err := NewVerifier()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(v), 43)
	assert.LessOrEqual(t, len(v), 128)
	assert.NotContains(t, v, "=")
	assert.NotContains(t, v, "+")
	assert.NotContains(t, v, "/")
}

func TestChallenge(t *testing.T) {
	// RFC 7636 appendix B example.
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		Challenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))

	sum := sha256.Sum256([]byte("abc"))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), Challenge("abc"))
}

func TestBegin(t *testing.T) {
	s, _ := newClockedStore(0)
	cfg := types.OAuthConfig{
		ClientID:    "app-123",
		RedirectURI: "https://example.com/cb",
		AuthURL:     DefaultAuthURL,
	}
	login, err := s.Begin(cfg)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(login.AuthURL, DefaultAuthURL+"?"))

	u, err := url.Parse(login.AuthURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "app-123", q.Get("client_id"))
	assert.Equal(t, "https://example.com/cb", q.Get("redirect_uri"))
	assert.Equal(t, login.State, q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))

	verifier, ok := s.Consume(login.State)
	require.True(t, ok)
	assert.Equal(t, Challenge(verifier), q.Get("code_challenge"))
}

func TestBegin_NotConfigured(t *testing.T) {
	s, _ := newClockedStore(0)
	_, err := s.Begin(types.OAuthConfig{ClientID: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Zero(t, s.Len())
}

func TestAuthURL_CarriesChallengeForVerifier(t *testing.T) {
	cfg := types.OAuthConfig{ClientID: "app-123", RedirectURI: "https://example.com/cb"}
	u, err := url.Parse(AuthURL(cfg, "st", "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
	require.NoError(t, err)
	assert.Equal(t, "auth.mercadolibre.com", u.Host)
	q := u.Query()
	assert.Equal(t, "st", q.Get("state"))
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Empty(t, q.Get("code_verifier"))
}
