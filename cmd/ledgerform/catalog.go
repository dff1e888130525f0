package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fincraft/ledgerform/internal/catalog"
	"github.com/fincraft/ledgerform/internal/config"
	"github.com/fincraft/ledgerform/internal/store"
)

var (
	catalogDBOverride string
	catalogJSONOutput bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the type catalog",
	Long:  "Seed and inspect the type catalog without running the server.",
}

func init() {
	catalogCmd.PersistentFlags().StringVar(&catalogDBOverride, "db", "",
		"Database path (overrides config and LEDGERFORM_DB_PATH)")
	catalogCmd.PersistentFlags().BoolVar(&catalogJSONOutput, "json", false,
		"Output in JSON format")

	catalogCmd.AddCommand(catalogSeedCmd)
	catalogCmd.AddCommand(catalogListCmd)
}

// resolveCatalogStore opens the configured database, running migrations.
func resolveCatalogStore() (*store.SQLiteStore, error) {
	path := catalogDBOverride
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		path = cfg.Database.Path
	}
	return store.NewSQLiteStore(path)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

var catalogSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the default type catalog",
	Args:  cobra.NoArgs,
	RunE:  runCatalogSeed,
}

func runCatalogSeed(cmd *cobra.Command, args []string) error {
	db, err := resolveCatalogStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := catalog.Seed(context.Background(), db.DB()); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d type definitions and %d transaction types.\n",
		len(catalog.DefaultTypeDefinitions()), len(catalog.DefaultTransactionTypes()))
	return nil
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog types",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := resolveCatalogStore()
	if err != nil {
		return err
	}
	defer db.Close()

	cat := catalog.NewSQLiteCatalog(db.DB(), nil)
	defs, err := cat.ListTypes(ctx)
	if err != nil {
		return fmt.Errorf("list types: %w", err)
	}
	txTypes, err := cat.ListTransactionTypes(ctx)
	if err != nil {
		return fmt.Errorf("list transaction types: %w", err)
	}

	if catalogJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"types":             defs,
			"transaction_types": txTypes,
		})
	}

	out := cmd.OutOrStdout()
	if len(defs) == 0 && len(txTypes) == 0 {
		fmt.Fprintln(out, "Catalog is empty. Run 'ledgerform catalog seed' to populate it.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tCODE\tFIELDS")
	for _, d := range defs {
		code := d.ShortCode
		if code == "" {
			code = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", d.ID, d.Name, d.Category, code, d.Schema.Len())
	}
	w.Flush()

	fmt.Fprintln(out)
	w = newTabWriter(out)
	fmt.Fprintln(w, "ID\tNAME\tINSTRUMENTS\tCONTRA GROUPS")
	for _, tt := range txTypes {
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\n", tt.ID, tt.Name, tt.ValidInstruments, tt.ValidContraGroups)
	}
	w.Flush()

	return nil
}
