// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <url>",
	Short: "Fetch a product and its reviews, score them, and store the result",
	Long: `Analyze runs the full workflow for one product URL: acquire the
listing and its reviews, store both, compute the sentiment summary and
store it as a new analysis run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		withReviews, _ := cmd.Flags().GetBool("show-reviews")

		a := newApp(cmd)
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := a.pipeline(st).Analyze(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if !withReviews {
			res.Reviews = nil
		}
		return printOutput(cmd, res)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored analyses or products",
	Long: `History prints stored analysis runs, newest first. With --product it
prints the latest analysis for that product; with --products it lists the
stored products instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		productID, _ := cmd.Flags().GetInt64("product")
		listProducts, _ := cmd.Flags().GetBool("products")
		if limit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}

		a := newApp(cmd)
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		switch {
		case listProducts:
			products, err := st.ListProducts(ctx)
			if err != nil {
				return err
			}
			return printOutput(cmd, products)
		case productID > 0:
			an, err := st.LatestAnalysis(ctx, productID)
			if err != nil {
				return err
			}
			return printOutput(cmd, an)
		default:
			list, err := st.ListAnalyses(ctx, limit)
			if err != nil {
				return err
			}
			return printOutput(cmd, list)
		}
	},
}

func init() {
	analyzeCmd.Flags().Int("limit", 0, "maximum number of reviews (default from config, 50)")
	analyzeCmd.Flags().Bool("show-reviews", false, "include the scored reviews in the output")
	addAcquireFlags(analyzeCmd)

	historyCmd.Flags().Int("limit", 10, "maximum number of analyses")
	historyCmd.Flags().Int64("product", 0, "show the latest analysis for this product ID")
	historyCmd.Flags().Bool("products", false, "list stored products")

	rootCmd.AddCommand(analyzeCmd, historyCmd)
}
