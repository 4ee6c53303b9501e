package cmd

import (
	"fmt"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/opencivic/civimport/pkg/imports"
	"github.com/opencivic/civimport/pkg/logging"
	"github.com/opencivic/civimport/pkg/store"
	"github.com/opencivic/civimport/pkg/store/memory"
	"github.com/opencivic/civimport/pkg/store/sqlite"
)

func newImportCmd() *cobra.Command {
	var (
		dbPath          string
		allowDuplicates bool
		strict          bool
		asOf            string
		dryRun          bool
	)

	cmd := &cobra.Command{
		Use:   "import <jurisdiction-id> <data-dir>",
		Short: "Import one scrape directory for a jurisdiction",
		Long: "Import reads <type>_*.json files from the data directory and reconciles " +
			"them against the store inside a single transaction. With --dry-run the " +
			"transaction is rolled back after reporting what would change.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jurisdictionID, dir := args[0], args[1]

			db, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			var opts []imports.Option
			if allowDuplicates {
				opts = append(opts, imports.WithAllowDuplicates())
			}
			if !strict {
				opts = append(opts, imports.WithTolerantReferences())
			}
			if asOf != "" {
				opts = append(opts, imports.WithAsOf(asOf))
			}

			ctx := logging.WithLogger(cmd.Context(), logging.Default())
			tx, err := db.Begin(ctx)
			if err != nil {
				return err
			}

			result, runErr := imports.NewRunner(jurisdictionID, opts...).Run(ctx, tx, dir)
			if runErr != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					logging.Err(rbErr).Msg("rollback failed")
				}
				return runErr
			}

			if dryRun {
				logging.Info().Msg("dry run, rolling back")
				if err := tx.Rollback(); err != nil {
					return err
				}
			} else if err := tx.Commit(); err != nil {
				return err
			}

			out, err := yaml.Marshal(result)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "civimport.db", `sqlite database path, or "memory" for an in-memory store`)
	cmd.Flags().BoolVar(&allowDuplicates, "allow-duplicates", false, "log duplicate conflicts instead of failing")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on any unresolved reference")
	cmd.Flags().StringVar(&asOf, "as-of", "", "ISO date for session and membership checks (default today)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes, then roll the transaction back")
	return cmd
}

func openStore(path string) (store.Store, error) {
	if path == "memory" {
		return memory.New(), nil
	}
	return sqlite.New(path)
}
