package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/db"
)

var migrateResults bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the store tables (and optionally the result tables)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, "query")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))

		if !migrateResults {
			return nil
		}
		return a.withResultsPool(ctx, func(pool db.Pool) error {
			if err := db.MigrateResults(ctx, pool); err != nil {
				return err
			}
			zap.L().Info("result tables migrated", zap.String("schema", db.ResultSchema))
			return nil
		})
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateResults, "results", false, "also create the result tables")
	rootCmd.AddCommand(migrateCmd)
}
