package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/correlate"
	"github.com/sells-group/ridecorr/internal/db"
)

var (
	correlateFlags queryFlags
	correlateStore bool
)

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Match rides against incidents by distance and time",
	Long:  "Correlates every ride in the window with incidents inside the radius. When the window holds no incidents, the last 7 days of incidents are returned instead.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "query")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		q, ecfg, err := correlateFlags.parse(cmd, a)
		if err != nil {
			return err
		}
		risk, err := a.riskAreas(ctx)
		if err != nil {
			return err
		}

		res, err := correlate.NewEngine(a.store, a.store, ecfg, correlate.WithRiskAreas(risk)).Correlate(ctx, q)
		if err != nil {
			return eris.Wrap(err, "correlate")
		}

		if correlateStore && res.State == correlate.StateCorrelated {
			err := a.withResultsPool(ctx, func(pool db.Pool) error {
				if err := db.MigrateResults(ctx, pool); err != nil {
					return err
				}
				n, err := db.SaveCorrelations(ctx, pool, res.RunID, res.Records)
				if err != nil {
					return err
				}
				zap.L().Info("correlations stored", zap.String("run_id", res.RunID), zap.Int64("rows", n))
				return nil
			})
			if err != nil {
				return eris.Wrap(err, "correlate: store results")
			}
		}

		out := cmd.OutOrStdout()
		if correlateFlags.format == "csv" {
			if res.State != correlate.StateCorrelated {
				fmt.Fprintln(cmd.ErrOrStderr(), res.Message)
				return nil
			}
			return writeOutput(out, "csv", res.Records)
		}
		return writeOutput(out, correlateFlags.format, res.Payload())
	},
}

func init() {
	correlateFlags.register(correlateCmd)
	correlateCmd.Flags().BoolVar(&correlateStore, "store", false, "persist records to the results database")
	rootCmd.AddCommand(correlateCmd)
}
