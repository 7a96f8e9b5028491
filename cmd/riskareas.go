package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ridecorr/internal/correlate"
	"github.com/sells-group/ridecorr/internal/geo"
)

var riskFlags queryFlags

// riskAreaReport summarises the loaded polygon index.
type riskAreaReport struct {
	Polygons int             `json:"polygons" yaml:"polygons"`
	Rejected []geo.Rejection `json:"rejected" yaml:"rejected"`
}

var riskAreasCmd = &cobra.Command{
	Use:   "riskareas",
	Short: "Load risk polygons and report ride exposure",
	Long:  "Loads the risk-area polygons from the store or the configured shapefile. Without --date it reports the index; with --date it counts rides whose origin lies inside a polygon.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "query")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		ix, err := a.riskAreas(ctx)
		if err != nil {
			return err
		}

		if riskFlags.date == "" {
			rejected := ix.Rejected()
			if rejected == nil {
				rejected = []geo.Rejection{}
			}
			if riskFlags.format == "csv" {
				return eris.New("riskareas: csv output needs --date")
			}
			return writeOutput(cmd.OutOrStdout(), riskFlags.format, riskAreaReport{Polygons: ix.Len(), Rejected: rejected})
		}

		q, _, err := riskFlags.parse(cmd, a)
		if err != nil {
			return err
		}
		rides, err := a.store.QueryRides(ctx, q.Range, q.Status)
		if err != nil {
			return eris.Wrap(err, "riskareas: query rides")
		}
		exposure := correlate.RiskExposure(rides, ix)
		if riskFlags.format == "csv" {
			return eris.New("riskareas: csv output is not supported for exposure")
		}
		return writeOutput(cmd.OutOrStdout(), riskFlags.format, exposure)
	},
}

func init() {
	riskFlags.register(riskAreasCmd)
	rootCmd.AddCommand(riskAreasCmd)
}
