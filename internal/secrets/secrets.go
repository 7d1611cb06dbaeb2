// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Supported key files: meli-client-id, meli-client-secret, meli-redirect-uri,
// meli-access-token, meli-refresh-token, internal-api-key.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/review-engine/pkg/types"
)

// Key file names.
const (
	ClientID     = "meli-client-id"
	ClientSecret = "meli-client-secret"
	RedirectURI  = "meli-redirect-uri"
	AccessToken  = "meli-access-token"
	RefreshToken = "meli-refresh-token"
	APIKey       = "internal-api-key"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Save writes value to the key file in dir, creating dir when needed. The
// file is readable by the owner only.
func Save(dir, key, value string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating secrets directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, key)
	if err := os.WriteFile(path, []byte(value+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing secret %s: %w", key, err)
	}
	return nil
}

// Apply fills credential fields of cfg that are still empty from secrets.
// Values already set by flags, environment or config file win.
func Apply(cfg *types.PipelineConfig, secrets map[string]string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = secrets[key]
		}
	}
	fill(&cfg.OAuth.ClientID, ClientID)
	fill(&cfg.OAuth.ClientSecret, ClientSecret)
	fill(&cfg.OAuth.RedirectURI, RedirectURI)
	fill(&cfg.OAuth.AccessToken, AccessToken)
	fill(&cfg.OAuth.RefreshToken, RefreshToken)
	fill(&cfg.Server.APIKey, APIKey)
}
