// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/review-engine/internal/logging"
	"github.com/pdiddy/review-engine/internal/oauth"
	"github.com/pdiddy/review-engine/internal/secrets"
	"github.com/pdiddy/review-engine/pkg/types"
)

func TestParseRedirect(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCode  string
		wantState string
		errMsg    string
	}{
		{"bare code", "  TG-abc123 \n", "TG-abc123", "fallback", ""},
		{"redirect url", "https://example.com/cb?code=TG-1&state=s1", "TG-1", "s1", ""},
		{"redirect without state", "https://example.com/cb?code=TG-2", "TG-2", "fallback", ""},
		{"denied", "https://example.com/cb?error=access_denied", "", "", "access_denied"},
		{"no code", "https://example.com/cb?state=s1", "", "", "no code"},
		{"empty", "\n", "", "", "no authorization code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, state, err := parseRedirect(tt.input, "fallback")
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantState, state)
		})
	}
}

func TestParseURLList(t *testing.T) {
	in := `
# wishlist
https://articulo.mercadolibre.com.ar/MLA-1-a

  https://www.mercadolibre.com.mx/p/MLM2
`
	got, err := parseURLList(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://articulo.mercadolibre.com.ar/MLA-1-a",
		"https://www.mercadolibre.com.mx/p/MLM2",
	}, got)
}

func TestWriteOutput(t *testing.T) {
	v := map[string]any{"name": "Zapatillas", "review_count": 3}

	var y bytes.Buffer
	require.NoError(t, writeOutput(&y, v, false))
	assert.Equal(t, "name: Zapatillas\nreview_count: 3\n", y.String())

	var j bytes.Buffer
	require.NoError(t, writeOutput(&j, v, true))
	assert.JSONEq(t, `{"name":"Zapatillas","review_count":3}`, j.String())
}

func TestApplyAcquireFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	addAcquireFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--retries=-1", "--budget=20s"}))

	cfg := types.AcquisitionConfig{Strict: true}
	cfg.Timeout = 15 * time.Second
	applyAcquireFlags(cmd, &cfg)

	assert.Equal(t, -1, cfg.MaxRetries)
	assert.Equal(t, 20*time.Second, cfg.ChainBudget)
	assert.Equal(t, 15*time.Second, cfg.Timeout, "unset flags leave config alone")
	assert.True(t, cfg.Strict)
}

func TestPersistRotation_SavesEachRotatedPair(t *testing.T) {
	refreshes := 0
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		refreshes++
		w.Header().Set("Content-Type", "application/json")
		if refreshes == 1 {
			w.Write([]byte(`{"access_token":"a1","refresh_token":"r1"}`))
			return
		}
		w.Write([]byte(`{"access_token":"a2","refresh_token":"r2"}`))
	}))
	defer tokenSrv.Close()

	dir := filepath.Join(t.TempDir(), "secrets")
	tokens := oauth.NewRefresher(nil, types.OAuthConfig{
		ClientID: "cid", ClientSecret: "cs", RefreshToken: "r0", TokenURL: tokenSrv.URL,
	}, nil)
	tokens.OnRotate(persistRotation(dir, logging.Discard()))

	require.NoError(t, tokens.RefreshErr(context.Background()))
	saved, err := secrets.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "a1", saved[secrets.AccessToken])
	assert.Equal(t, "r1", saved[secrets.RefreshToken])

	// The second refresh spends r1; the file must hold r2 afterwards.
	require.NoError(t, tokens.RefreshErr(context.Background()))
	saved, err = secrets.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "a2", saved[secrets.AccessToken])
	assert.Equal(t, "r2", saved[secrets.RefreshToken])
}

func TestSplitList(t *testing.T) {
	assert.Equal(t,
		[]string{"https://a.example", "https://b.example", "*"},
		splitList([]string{"https://a.example, https://b.example", " ", "*"}))
	assert.Nil(t, splitList(nil))
}
