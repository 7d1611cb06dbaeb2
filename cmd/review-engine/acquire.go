// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/review-engine/internal/acquire"
	"github.com/pdiddy/review-engine/pkg/types"
)

var productCmd = &cobra.Command{
	Use:   "product <url>",
	Short: "Fetch listing metadata for a product URL",
	Long: `Product resolves the item ID in a MercadoLibre URL and fetches the
listing through the API, the canonical listing page, or the URL itself,
in that order. When every source fails a placeholder is printed; the
source field names the tier that answered.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cmd)
		p := a.acq.FetchProduct(cmd.Context(), acquire.ParseItemRef(args[0]))
		return printOutput(cmd, p)
	},
}

var reviewsCmd = &cobra.Command{
	Use:   "reviews <url>",
	Short: "Fetch customer reviews for a product URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		a := newApp(cmd)
		reviews := a.acq.FetchReviews(cmd.Context(), acquire.ParseItemRef(args[0]), limit)
		return printOutput(cmd, reviews)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [urls...]",
	Short: "Fetch products and reviews for many URLs",
	Long: `Batch fetches each URL in order. URLs come from the arguments and
from --file (one per line, "-" for stdin; blank lines and lines starting
with # are skipped). Successful API calls are followed by a short random
pause to stay clear of upstream throttling.`,
	RunE: runBatch,
}

func init() {
	reviewsCmd.Flags().Int("limit", 0, "maximum number of reviews (default from config, 50)")

	batchCmd.Flags().String("file", "", `file of URLs, one per line ("-" for stdin)`)
	batchCmd.Flags().Int("limit", 0, "maximum reviews per product (default from config)")
	batchCmd.Flags().Bool("skip-reviews", false, "fetch products only")

	for _, c := range []*cobra.Command{productCmd, reviewsCmd, batchCmd} {
		addAcquireFlags(c)
		rootCmd.AddCommand(c)
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	urls := append([]string(nil), args...)
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		fromFile, err := readURLList(file)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("provide one or more product URLs as arguments or with --file")
	}

	limit, _ := cmd.Flags().GetInt("limit")
	if skip, _ := cmd.Flags().GetBool("skip-reviews"); skip {
		limit = -1
	}

	refs := make([]types.ItemRef, len(urls))
	for i, u := range urls {
		refs[i] = acquire.ParseItemRef(u)
	}

	a := newApp(cmd)
	items := a.acq.FetchBatch(cmd.Context(), refs, limit)
	if len(items) < len(refs) {
		fmt.Fprintf(os.Stderr, "batch interrupted after %d of %d URLs\n", len(items), len(refs))
	}
	return printOutput(cmd, items)
}

func readURLList(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening URL list: %w", err)
		}
		defer f.Close()
		r = f
	}
	return parseURLList(r)
}

func parseURLList(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading URL list: %w", err)
	}
	return urls, nil
}
