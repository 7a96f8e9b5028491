package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ridecorr/internal/correlate"
	"github.com/sells-group/ridecorr/internal/model"
)

var impactFlags queryFlags

var impactCmd = &cobra.Command{
	Use:   "impact",
	Short: "Count cancellations around each incident",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "query")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		q, ecfg, err := impactFlags.parse(cmd, a)
		if err != nil {
			return err
		}

		rides, err := a.store.QueryRides(ctx, q.Range, q.Status)
		if err != nil {
			return eris.Wrap(err, "impact: query rides")
		}
		incidents, err := a.store.QueryIncidents(ctx, q.Range, "")
		if err != nil {
			return eris.Wrap(err, "impact: query incidents")
		}

		impact, err := correlate.EventImpact(rides, incidents, correlate.ImpactParams{
			RadiusKM:   q.RadiusKM,
			TimeWindow: ecfg.TimeWindow,
			TimeUnit:   ecfg.TimeUnit,
			Categories: q.Categories,
		})
		if err != nil {
			return eris.Wrap(err, "impact")
		}
		if impact == nil {
			impact = []model.IncidentImpact{}
		}
		return writeOutput(cmd.OutOrStdout(), impactFlags.format, impact)
	},
}

func init() {
	impactFlags.register(impactCmd)
	rootCmd.AddCommand(impactCmd)
}
