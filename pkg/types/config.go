// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the per-request timeout applied to each attempt.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// MaxRetries is the number of additional attempts after a transport
	// failure (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryServerErrors makes 5xx responses retryable through the same
	// backoff loop used for transport failures.
	RetryServerErrors bool `json:"retry_server_errors" yaml:"retry_server_errors"`
}

// OAuthConfig holds marketplace OAuth application settings. Secret values
// are never logged.
type OAuthConfig struct {
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string `json:"-" yaml:"-"`
	RedirectURI  string `json:"redirect_uri,omitempty" yaml:"redirect_uri,omitempty"`

	// AccessToken and RefreshToken seed the live credential pair.
	AccessToken  string `json:"-" yaml:"-"`
	RefreshToken string `json:"-" yaml:"-"`

	// AuthURL is the authorization endpoint used to build login URLs.
	AuthURL string `json:"auth_url" yaml:"auth_url"`

	// TokenURL is the OAuth token endpoint.
	TokenURL string `json:"token_url" yaml:"token_url"`

	// HandshakeTTL bounds how long a PKCE state stays redeemable (default 600s).
	HandshakeTTL time.Duration `json:"handshake_ttl" yaml:"handshake_ttl"`
}

// AcquisitionConfig holds settings for the acquisition stage.
type AcquisitionConfig struct {
	HTTPConfig `yaml:",inline"`

	// APIBase is the marketplace API root (e.g. "https://api.mercadolibre.com").
	APIBase string `json:"api_base" yaml:"api_base"`

	// Strict disables name enrichment of API results from the item page.
	Strict bool `json:"strict" yaml:"strict"`

	// ReviewLimit is the default number of reviews requested (default 50).
	ReviewLimit int `json:"review_limit" yaml:"review_limit"`

	// CourtesyMin and CourtesyMax bound the random pause between API calls
	// in batch runs (default 1s-2s).
	CourtesyMin time.Duration `json:"courtesy_min" yaml:"courtesy_min"`
	CourtesyMax time.Duration `json:"courtesy_max" yaml:"courtesy_max"`

	// ScrapeRate caps page fetches per second across scrape tiers (default 1).
	ScrapeRate float64 `json:"scrape_rate" yaml:"scrape_rate"`

	// ChainBudget caps the whole fallback chain when non-zero. Without it
	// the worst case is the sum of per-tier timeout*(1+MaxRetries).
	ChainBudget time.Duration `json:"chain_budget" yaml:"chain_budget"`
}

// SentimentConfig holds settings for the analysis stage.
type SentimentConfig struct {
	// KeywordLimit is the maximum number of keywords returned (default 15).
	KeywordLimit int `json:"keyword_limit" yaml:"keyword_limit"`
}

// RateLimitConfig holds settings for the write-endpoint rate limiter.
type RateLimitConfig struct {
	// Limit is the number of calls admitted per window (default 10).
	Limit int `json:"limit" yaml:"limit"`

	// Window is the trailing window length (default 60s).
	Window time.Duration `json:"window" yaml:"window"`

	// Ceiling bounds the timestamps kept per key (default 1000).
	Ceiling int `json:"ceiling" yaml:"ceiling"`
}

// StoreConfig holds settings for the SQLite persistence collaborator.
type StoreConfig struct {
	// DataDir contains the database file.
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// ServerConfig holds settings for the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`

	// APIKey gates write endpoints when set.
	APIKey string `json:"-" yaml:"-"`

	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// CORSOrigins lists the browser origins allowed to call the API. "*"
	// allows any origin; empty disables CORS headers.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// CORSOriginPattern is a regular expression matched against origins
	// not listed in CORSOrigins, such as preview deployments.
	CORSOriginPattern string `json:"cors_origin_pattern,omitempty" yaml:"cors_origin_pattern,omitempty"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Acquisition AcquisitionConfig `json:"acquisition" yaml:"acquisition"`
	OAuth       OAuthConfig       `json:"oauth" yaml:"oauth"`
	Sentiment   SentimentConfig   `json:"sentiment" yaml:"sentiment"`
	Store       StoreConfig       `json:"store" yaml:"store"`
	Server      ServerConfig      `json:"server" yaml:"server"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"`
}
