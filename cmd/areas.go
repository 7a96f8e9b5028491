package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/correlate"
	"github.com/sells-group/ridecorr/internal/db"
	"github.com/sells-group/ridecorr/internal/model"
)

var (
	areasFlags queryFlags
	areasStore bool
	areasInfer bool
)

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "Summarise matched rides per area",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "query")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		q, ecfg, err := areasFlags.parse(cmd, a)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("infer-areas") {
			ecfg.InferMissingAreas = areasInfer
		}

		eng := correlate.NewEngine(a.store, a.store, ecfg)
		summaries, err := eng.Areas(ctx, q)
		if err != nil {
			return eris.Wrap(err, "areas")
		}
		if summaries == nil {
			summaries = []model.AreaSummary{}
		}

		if areasStore && len(summaries) > 0 {
			runID := newRunID()
			err := a.withResultsPool(ctx, func(pool db.Pool) error {
				if err := db.MigrateResults(ctx, pool); err != nil {
					return err
				}
				n, err := db.SaveAreaSummaries(ctx, pool, runID, summaries)
				if err != nil {
					return err
				}
				zap.L().Info("area summaries stored", zap.String("run_id", runID), zap.Int64("rows", n))
				return nil
			})
			if err != nil {
				return eris.Wrap(err, "areas: store results")
			}
		}

		return writeOutput(cmd.OutOrStdout(), areasFlags.format, summaries)
	},
}

func init() {
	areasFlags.register(areasCmd)
	areasCmd.Flags().BoolVar(&areasStore, "store", false, "persist summaries to the results database")
	areasCmd.Flags().BoolVar(&areasInfer, "infer-areas", false, "assign incidents without an area the area of the nearest ride")
	rootCmd.AddCommand(areasCmd)
}
