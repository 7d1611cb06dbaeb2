// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/oauth"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize the application with MercadoLibre (OAuth PKCE)",
	Long: `Login prints an authorization URL, waits for the redirect URL (or
just the code) to be pasted on stdin, and exchanges it for credentials.
The credentials are written to the secrets directory unless --no-save.

With --no-wait the URL, state and PKCE verifier are printed and the
command exits; finish with "callback --code <code> --verifier <verifier>".`,
	RunE: runLogin,
}

var callbackCmd = &cobra.Command{
	Use:   "callback",
	Short: "Exchange an authorization code and PKCE verifier for credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _ := cmd.Flags().GetString("code")
		verifier, _ := cmd.Flags().GetString("verifier")
		if code == "" || verifier == "" {
			return fmt.Errorf("--code and --verifier are required")
		}
		a := newApp(cmd)
		tok, err := a.tokens.ExchangeCode(cmd.Context(), code, verifier)
		if err != nil {
			return err
		}
		return finishAuth(cmd, a, tok)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for a new access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cmd)
		if err := a.tokens.RefreshErr(cmd.Context()); err != nil {
			return err
		}
		return finishAuth(cmd, a, nil)
	},
}

func init() {
	loginCmd.Flags().Bool("no-wait", false, "print the URL and verifier instead of waiting for the code")
	callbackCmd.Flags().String("code", "", "authorization code from the redirect")
	callbackCmd.Flags().String("verifier", "", "PKCE verifier printed by login --no-wait")

	for _, c := range []*cobra.Command{loginCmd, callbackCmd, refreshCmd} {
		c.Flags().Bool("no-save", false, "do not write credentials to the secrets directory")
		rootCmd.AddCommand(c)
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	a := newApp(cmd)
	cfg := a.cfg.OAuth
	store := oauth.NewHandshakeStore(cfg.HandshakeTTL)

	if noWait, _ := cmd.Flags().GetBool("no-wait"); noWait {
		if cfg.ClientID == "" || cfg.RedirectURI == "" {
			return fmt.Errorf("%w: client id and redirect uri must be set", oauth.ErrNotConfigured)
		}
		verifier, err := oauth.NewVerifier()
		if err != nil {
			return err
		}
		state, err := store.Issue(verifier)
		if err != nil {
			return err
		}
		return printOutput(cmd, map[string]string{
			"auth_url": oauth.AuthURL(cfg, state, verifier),
			"state":    state,
			"verifier": verifier,
		})
	}

	login, err := store.Begin(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Open this URL in a browser and approve access:\n\n  %s\n\n", login.AuthURL)
	fmt.Fprint(os.Stderr, "Paste the redirect URL or the code: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && strings.TrimSpace(line) == "" {
		return fmt.Errorf("reading authorization code: %w", err)
	}
	code, state, err := parseRedirect(line, login.State)
	if err != nil {
		return err
	}

	tok, err := a.tokens.Complete(cmd.Context(), store, state, code)
	if err != nil {
		return err
	}
	return finishAuth(cmd, a, tok)
}

// parseRedirect extracts code and state from a pasted redirect URL. A bare
// code is paired with fallbackState.
func parseRedirect(input, fallbackState string) (code, state string, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", "", fmt.Errorf("no authorization code given")
	}
	if !strings.Contains(input, "?") {
		return input, fallbackState, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", "", fmt.Errorf("parsing redirect URL: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", "", fmt.Errorf("authorization denied: %s %s", e, q.Get("error_description"))
	}
	code = q.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("redirect URL has no code parameter")
	}
	state = q.Get("state")
	if state == "" {
		state = fallbackState
	}
	return code, state, nil
}

// finishAuth prints a summary that never includes the credentials. The
// rotation hook installed by newApp has already saved them.
func finishAuth(cmd *cobra.Command, a *app, tok *oauth.Token) error {
	out := map[string]any{"status": "authorized"}
	if tok == nil {
		out["status"] = "refreshed"
	} else {
		out["token_type"] = tok.TokenType
		out["expires_in"] = tok.ExpiresIn
		out["user_id"] = tok.UserID
		out["scope"] = tok.Scope
	}
	return printOutput(cmd, out)
}
