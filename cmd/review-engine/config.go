// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pdiddy/review-engine/internal/acquire"
	"github.com/pdiddy/review-engine/internal/httputil"
	"github.com/pdiddy/review-engine/internal/logging"
	"github.com/pdiddy/review-engine/internal/oauth"
	"github.com/pdiddy/review-engine/internal/pipeline"
	"github.com/pdiddy/review-engine/internal/secrets"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// envReplacer maps nested keys such as oauth.client_id onto
// REVIEW_ENGINE_OAUTH_CLIENT_ID.
var envReplacer = strings.NewReplacer(".", "_")

func init() {
	viper.SetDefault("secrets_dir", ".secrets")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("store.data_dir", "data")
	viper.SetDefault("acquisition.api_base", acquire.DefaultAPIBase)
	viper.SetDefault("acquisition.timeout", "15s")
	viper.SetDefault("acquisition.max_retries", 2)
	viper.SetDefault("acquisition.review_limit", acquire.DefaultReviewLimit)
	viper.SetDefault("acquisition.courtesy_min", acquire.DefaultCourtesyMin)
	viper.SetDefault("acquisition.courtesy_max", acquire.DefaultCourtesyMax)
	viper.SetDefault("acquisition.scrape_rate", acquire.DefaultScrapeRate)
	viper.SetDefault("oauth.auth_url", oauth.DefaultAuthURL)
	viper.SetDefault("oauth.token_url", oauth.DefaultTokenURL)
	viper.SetDefault("oauth.handshake_ttl", oauth.DefaultHandshakeTTL)
	viper.SetDefault("sentiment.keyword_limit", 15)
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.rate_limit.limit", 10)
	viper.SetDefault("server.rate_limit.window", "60s")
}

// loadConfig assembles the pipeline config from viper (flags, environment,
// config file, defaults) and fills missing credentials from the secrets
// directory.
func loadConfig() types.PipelineConfig {
	cfg := types.PipelineConfig{
		Acquisition: types.AcquisitionConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:           viper.GetDuration("acquisition.timeout"),
				UserAgent:         viper.GetString("acquisition.user_agent"),
				MaxRetries:        viper.GetInt("acquisition.max_retries"),
				RetryServerErrors: viper.GetBool("acquisition.retry_server_errors"),
			},
			APIBase:     viper.GetString("acquisition.api_base"),
			Strict:      viper.GetBool("acquisition.strict"),
			ReviewLimit: viper.GetInt("acquisition.review_limit"),
			CourtesyMin: viper.GetDuration("acquisition.courtesy_min"),
			CourtesyMax: viper.GetDuration("acquisition.courtesy_max"),
			ScrapeRate:  viper.GetFloat64("acquisition.scrape_rate"),
			ChainBudget: viper.GetDuration("acquisition.chain_budget"),
		},
		OAuth: types.OAuthConfig{
			ClientID:     viper.GetString("oauth.client_id"),
			ClientSecret: viper.GetString("oauth.client_secret"),
			RedirectURI:  viper.GetString("oauth.redirect_uri"),
			AccessToken:  viper.GetString("oauth.access_token"),
			RefreshToken: viper.GetString("oauth.refresh_token"),
			AuthURL:      viper.GetString("oauth.auth_url"),
			TokenURL:     viper.GetString("oauth.token_url"),
			HandshakeTTL: viper.GetDuration("oauth.handshake_ttl"),
		},
		Sentiment: types.SentimentConfig{
			KeywordLimit: viper.GetInt("sentiment.keyword_limit"),
		},
		Store: types.StoreConfig{
			DataDir: viper.GetString("store.data_dir"),
		},
		Server: types.ServerConfig{
			Addr:   viper.GetString("server.addr"),
			APIKey: viper.GetString("server.api_key"),
			RateLimit: types.RateLimitConfig{
				Limit:   viper.GetInt("server.rate_limit.limit"),
				Window:  viper.GetDuration("server.rate_limit.window"),
				Ceiling: viper.GetInt("server.rate_limit.ceiling"),
			},
			CORSOrigins:       splitList(viper.GetStringSlice("server.cors_origins")),
			CORSOriginPattern: viper.GetString("server.cors_origin_pattern"),
		},
		LogLevel:  viper.GetString("log_level"),
		LogFormat: viper.GetString("log_format"),
	}
	secrets.Apply(&cfg, loadedSecrets)
	return cfg
}

// splitList flattens comma separated entries, so an environment value
// like "https://a.example,https://b.example" yields two items.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// app holds the collaborators shared by the subcommands.
type app struct {
	cfg    types.PipelineConfig
	log    *slog.Logger
	tokens *oauth.Refresher
	acq    *acquire.Orchestrator
}

func newApp(cmd *cobra.Command) *app {
	cfg := loadConfig()
	applyAcquireFlags(cmd, &cfg.Acquisition)
	log := logging.NewWithFormat(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	hc := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	tokens := oauth.NewRefresher(nil, cfg.OAuth, log)
	if noSave, _ := cmd.Flags().GetBool("no-save"); !noSave {
		tokens.OnRotate(persistRotation(viper.GetString("secrets_dir"), log))
	}
	client := httputil.NewClient(hc, cfg.Acquisition.APIBase, tokens, cfg.Acquisition.UserAgent, log)

	return &app{
		cfg:    cfg,
		log:    log,
		tokens: tokens,
		acq:    acquire.New(client, tokens, cfg.Acquisition, log),
	}
}

func (a *app) openStore() (*store.Store, error) {
	return store.Open(a.cfg.Store)
}

func (a *app) pipeline(st *store.Store) *pipeline.Pipeline {
	return pipeline.New(a.acq, st, a.cfg.Sentiment, a.log)
}

// addAcquireFlags registers the acquisition overrides shared by the
// lookup commands.
func addAcquireFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 0, "per-attempt HTTP timeout (default 15s)")
	cmd.Flags().Int("retries", 0, "retries after a transport failure; negative disables")
	cmd.Flags().Bool("strict", false, "never replace a placeholder API name with the page title")
	cmd.Flags().Duration("budget", 0, "cap on the whole fallback chain per lookup")
}

// applyAcquireFlags copies the flags the user set onto cfg.
func applyAcquireFlags(cmd *cobra.Command, cfg *types.AcquisitionConfig) {
	f := cmd.Flags()
	if f.Changed("timeout") {
		cfg.Timeout, _ = f.GetDuration("timeout")
	}
	if f.Changed("retries") {
		cfg.MaxRetries, _ = f.GetInt("retries")
	}
	if f.Changed("strict") {
		cfg.Strict, _ = f.GetBool("strict")
	}
	if f.Changed("budget") {
		cfg.ChainBudget, _ = f.GetDuration("budget")
	}
}

// persistRotation returns a rotation hook that writes each installed
// credential pair to dir, so a refresh during analyze or serve survives
// the process.
func persistRotation(dir string, log *slog.Logger) func(oauth.Token) {
	return func(tok oauth.Token) {
		for key, value := range map[string]string{
			secrets.AccessToken:  tok.AccessToken,
			secrets.RefreshToken: tok.RefreshToken,
		} {
			if value == "" {
				continue
			}
			if err := secrets.Save(dir, key, value); err != nil {
				log.Warn("saving rotated credential failed", "key", key, "error", err)
			}
		}
	}
}
