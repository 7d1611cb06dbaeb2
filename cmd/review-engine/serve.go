// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/metrics"
	"github.com/pdiddy/review-engine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis and OAuth endpoints over HTTP",
	Long: `Serve exposes the analyze workflow, stored results and the OAuth
login flow as a JSON API. Write endpoints require the internal API key
when one is configured and are rate limited per client. Prometheus
metrics are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cmd)
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			a.cfg.Server.Addr = addr
		}
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if a.cfg.Server.APIKey == "" {
			a.log.Warn("no internal API key configured; write endpoints are open")
		}
		m := metrics.New()
		a.acq.WithMetrics(m)
		p := a.pipeline(st).WithMetrics(m)
		srv := server.New(a.cfg, p, st, a.tokens, a.log).WithMetrics(m)
		return srv.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	addAcquireFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}
