package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ridecorr/internal/cluster"
)

var (
	clusterFlags queryFlags
	clusterSeed  uint64
	clusterKMax  int
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster rides and flag anomalies",
	Long:  "Standardizes ride features, picks k by silhouette score, runs k-means and flags outliers with an isolation forest. CSV output lists the per-ride assignments.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "cluster")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		q, _, err := clusterFlags.parse(cmd, a)
		if err != nil {
			return err
		}
		ccfg := a.cluster
		if cmd.Flags().Changed("seed") {
			ccfg.Seed = clusterSeed
		}
		if clusterKMax > 0 {
			ccfg.KMax = clusterKMax
		}

		rides, err := a.store.QueryRides(ctx, q.Range, q.Status)
		if err != nil {
			return eris.Wrap(err, "cluster: query rides")
		}
		res, err := cluster.NewPipeline(ccfg).Run(ctx, rides)
		if err != nil {
			return err
		}
		zap.L().Info("clustering complete",
			zap.Int("rides", len(rides)),
			zap.Int("k", res.K),
			zap.Int("outliers", res.Outliers),
			zap.Int("dropped", res.Dropped),
		)

		if clusterFlags.format == "csv" {
			return writeOutput(cmd.OutOrStdout(), "csv", res.Assignments)
		}
		return writeOutput(cmd.OutOrStdout(), clusterFlags.format, res)
	},
}

var bandsFlags queryFlags

var bandsCmd = &cobra.Command{
	Use:   "bands",
	Short: "Report cancellations by driver-distance band",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "cluster")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		q, _, err := bandsFlags.parse(cmd, a)
		if err != nil {
			return err
		}
		rides, err := a.store.QueryRides(ctx, q.Range, q.Status)
		if err != nil {
			return eris.Wrap(err, "bands: query rides")
		}
		report, err := cluster.DistanceBands(rides)
		if err != nil {
			return err
		}

		if bandsFlags.format == "csv" {
			return writeOutput(cmd.OutOrStdout(), "csv", report.Bands)
		}
		return writeOutput(cmd.OutOrStdout(), bandsFlags.format, report)
	},
}

func init() {
	clusterFlags.register(clusterCmd)
	clusterCmd.Flags().Uint64Var(&clusterSeed, "seed", 0, "random seed (default from config)")
	clusterCmd.Flags().IntVar(&clusterKMax, "k-max", 0, "largest k to evaluate (default from config)")
	rootCmd.AddCommand(clusterCmd)

	bandsFlags.register(bandsCmd)
	rootCmd.AddCommand(bandsCmd)
}
