// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
)

// printOutput writes v to stdout as YAML, or as indented JSON with --json.
func printOutput(cmd *cobra.Command, v any) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	return writeOutput(os.Stdout, v, jsonOut)
}

func writeOutput(w io.Writer, v any, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
