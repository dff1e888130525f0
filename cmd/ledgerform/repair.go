package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fincraft/ledgerform/internal/diag"
	"github.com/fincraft/ledgerform/internal/sanitize"
	"github.com/fincraft/ledgerform/internal/types"
)

var repairWrite bool

var repairCmd = &cobra.Command{
	Use:   "repair <file>",
	Short: "Repair an exported property-map JSON file",
	Long: "Runs the property-map sanitizer over a JSON object file, dropping " +
		"corrupted serialization artifacts. Prints the repaired document to " +
		"stdout, or rewrites the file in place with --write.",
	Args: cobra.ExactArgs(1),
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().BoolVar(&repairWrite, "write", false,
		"Rewrite the file in place instead of printing to stdout")
}

func runRepair(cmd *cobra.Command, args []string) error {
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	props, err := types.ParsePropertyMap(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	recorder := &diag.Recorder{}
	cleaned := sanitize.New(recorder).Clean(props, sanitize.BoundaryLoad)

	out, err := json.MarshalIndent(cleaned, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal repaired document: %w", err)
	}
	out = append(out, '\n')

	if repairWrite {
		if err := os.WriteFile(path, out, 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	} else {
		cmd.OutOrStdout().Write(out)
	}

	dropped := len(props) - len(cleaned)
	if recorder.Has("property_map_corruption_detected") {
		fmt.Fprintf(cmd.ErrOrStderr(), "Corruption repaired: %d field(s) dropped.\n", dropped)
	} else if recorder.Has("property_map_oversize") {
		fmt.Fprintf(cmd.ErrOrStderr(), "Oversized document: %d non-scalar field(s) shed.\n", dropped)
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), "Document is healthy; no changes needed.")
	}

	return nil
}
