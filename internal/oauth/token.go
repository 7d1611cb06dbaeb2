// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/pdiddy/review-engine/internal/logging"
	"github.com/pdiddy/review-engine/pkg/types"
)

// DefaultTokenURL is the marketplace OAuth token endpoint.
const DefaultTokenURL = "https://api.mercadolibre.com/oauth/token"

// DefaultAuthURL is the marketplace authorization endpoint.
const DefaultAuthURL = "https://auth.mercadolibre.com/authorization"

const tokenTimeout = 15 * time.Second

// ErrRefreshUnavailable is returned when the refresh credentials are
// incomplete. No network call is made in that case.
var ErrRefreshUnavailable = errors.New("token refresh unavailable")

// Token is the token endpoint response.
type Token struct {
	AccessToken  string `json:"access_token" yaml:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty" yaml:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty" yaml:"scope,omitempty"`
	UserID       int64  `json:"user_id,omitempty" yaml:"user_id,omitempty"`
}

// TokenError carries a non-2xx token endpoint response.
type TokenError struct {
	StatusCode int
	Body       map[string]any
}

func (e *TokenError) Error() string {
	if msg, ok := e.Body["error"].(string); ok && msg != "" {
		return fmt.Sprintf("token endpoint returned HTTP %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("token endpoint returned HTTP %d", e.StatusCode)
}

// Config returns the oauth2 client configuration for cfg. The marketplace
// expects the client secret in the form body.
func Config(cfg types.OAuthConfig) *oauth2.Config {
	authURL, tokenURL := cfg.AuthURL, cfg.TokenURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Refresher owns the live access/refresh credential pair. One mutex
// covers the whole read-check-refresh-write sequence, so concurrent
// callers wait for an in-flight refresh instead of racing it.
type Refresher struct {
	mu           sync.Mutex
	client       *http.Client
	conf         *oauth2.Config
	accessToken  string
	refreshToken string
	onRotate     func(Token)
	log          *slog.Logger
}

// NewRefresher seeds a Refresher from cfg. A nil client gets a 15s
// timeout client.
func NewRefresher(client *http.Client, cfg types.OAuthConfig, log *slog.Logger) *Refresher {
	if client == nil {
		client = &http.Client{Timeout: tokenTimeout}
	}
	return &Refresher{
		client:       client,
		conf:         Config(cfg),
		accessToken:  cfg.AccessToken,
		refreshToken: cfg.RefreshToken,
		log:          logging.OrDiscard(log),
	}
}

// OnRotate registers fn to receive every credential pair the Refresher
// installs, after a refresh or a code exchange. RefreshToken always holds
// the refresh credential now in use. fn runs with the credential lock
// held and must not call back into the Refresher.
func (r *Refresher) OnRotate(fn func(Token)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRotate = fn
}

// AccessToken returns the current access credential, possibly empty.
func (r *Refresher) AccessToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accessToken
}

// Tokens returns the current access and refresh credentials.
func (r *Refresher) Tokens() (access, refresh string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accessToken, r.refreshToken
}

// Refresh exchanges the refresh credential for a new access credential and
// reports whether it succeeded.
func (r *Refresher) Refresh(ctx context.Context) bool {
	return r.RefreshErr(ctx) == nil
}

// RefreshErr is Refresh with the failure reason.
func (r *Refresher) RefreshErr(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx, "")
}

// RefreshWith refreshes using refreshToken instead of the stored one. An
// empty refreshToken behaves like RefreshErr. On success the supplied
// credential replaces the stored pair like any other rotation.
func (r *Refresher) RefreshWith(ctx context.Context, refreshToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx, strings.TrimSpace(refreshToken))
}

// RefreshIfStale refreshes only when the live access credential still
// equals stale. A caller that waited on another goroutine's refresh sees
// a different token and reuses it without a second network call.
func (r *Refresher) RefreshIfStale(ctx context.Context, stale string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.accessToken != "" && r.accessToken != stale {
		return true
	}
	return r.refreshLocked(ctx, "") == nil
}

func (r *Refresher) refreshLocked(ctx context.Context, override string) error {
	refresh := r.refreshToken
	if override != "" {
		refresh = override
	}

	var missing []string
	if r.conf.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if r.conf.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if refresh == "" {
		missing = append(missing, "refresh_token")
	}
	if len(missing) > 0 {
		r.log.Warn("token refresh skipped", "missing", strings.Join(missing, ","))
		return fmt.Errorf("%w: missing %s", ErrRefreshUnavailable, strings.Join(missing, ", "))
	}

	src := r.conf.TokenSource(r.clientContext(ctx), &oauth2.Token{RefreshToken: refresh})
	ot, err := src.Token()
	if err != nil {
		err = tokenError(err)
		r.log.Warn("token refresh failed", "error", err)
		return err
	}
	tok := fromOAuth2(ot)
	rotated := tok.RefreshToken != "" && tok.RefreshToken != refresh
	r.storeLocked(tok, refresh)
	r.log.Info("access token refreshed", "rotated_refresh", rotated)
	return nil
}

// ExchangeCode redeems an authorization code with its PKCE verifier and
// installs the resulting credentials.
func (r *Refresher) ExchangeCode(ctx context.Context, code, verifier string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conf.ClientID == "" || r.conf.ClientSecret == "" || r.conf.RedirectURL == "" {
		return nil, fmt.Errorf("%w: client id, client secret and redirect uri must be set", ErrNotConfigured)
	}

	ot, err := r.conf.Exchange(r.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, tokenError(err)
	}
	tok := fromOAuth2(ot)
	r.storeLocked(tok, r.refreshToken)
	return tok, nil
}

// Complete finishes a PKCE login: it consumes state from store and
// exchanges code using the stored verifier.
func (r *Refresher) Complete(ctx context.Context, store *HandshakeStore, state, code string) (*Token, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: state is required", ErrInvalidHandshake)
	}
	verifier, ok := store.Consume(state)
	if !ok {
		return nil, ErrInvalidHandshake
	}
	return r.ExchangeCode(ctx, code, verifier)
}

// storeLocked installs tok. A response without a refresh credential keeps
// previous.
func (r *Refresher) storeLocked(tok *Token, previous string) {
	if tok.RefreshToken == "" {
		tok.RefreshToken = previous
	}
	r.accessToken = tok.AccessToken
	r.refreshToken = tok.RefreshToken
	if r.onRotate != nil {
		r.onRotate(*tok)
	}
}

func (r *Refresher) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, r.client)
}

// tokenError converts an oauth2 endpoint failure into a TokenError that
// keeps the upstream status and body.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return fmt.Errorf("token request: %w", err)
	}
	te := &TokenError{StatusCode: re.Response.StatusCode}
	if json.Unmarshal(re.Body, &te.Body) != nil || te.Body == nil {
		te.Body = map[string]any{"error": strings.TrimSpace(string(re.Body))}
	}
	return te
}

func fromOAuth2(ot *oauth2.Token) *Token {
	tok := &Token{
		AccessToken:  ot.AccessToken,
		RefreshToken: ot.RefreshToken,
		TokenType:    ot.TokenType,
		ExpiresIn:    int(extraInt(ot, "expires_in")),
		UserID:       extraInt(ot, "user_id"),
	}
	if s, ok := ot.Extra("scope").(string); ok {
		tok.Scope = s
	}
	return tok
}

// extraInt reads a numeric field of the raw token response, which arrives
// as a JSON number or, from form-encoded responses, a string.
func extraInt(ot *oauth2.Token, key string) int64 {
	switch v := ot.Extra(key).(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}
