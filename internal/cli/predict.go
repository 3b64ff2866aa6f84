package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqua-risk/internal/artifact"
	"github.com/couchcryptid/aqua-risk/internal/dataset"
	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/predictor"
)

type predictFlags struct {
	model  string
	lat    float64
	lon    float64
	date   string
	input  string
	output string
}

func newPredictCommand(a *app) *cobra.Command {
	f := &predictFlags{}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "score locations with a trained artifact",
		Long: `Score a single point given by --lat and --lon, or every row of a CSV file
given by --input. Results are printed as JSON unless --output names a CSV file.`,
		Example: `  $ riskctl predict --lat -1.29 --lon 36.82 --date 2022-04-15
  $ riskctl predict --input points.csv --output scores.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPredict(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.model, "model", "", "artifact path (default from MODEL_PATH)")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "longitude in degrees")
	cmd.Flags().StringVar(&f.date, "date", "", "date as YYYY-MM-DD (default today, UTC)")
	cmd.Flags().StringVar(&f.input, "input", "", "CSV with lat, lon and optional id and date columns")
	cmd.Flags().StringVar(&f.output, "output", "", "write predictions as CSV to this path")
	cmd.MarkFlagsRequiredTogether("lat", "lon")
	cmd.MarkFlagsMutuallyExclusive("input", "lat")
	cmd.MarkFlagsOneRequired("input", "lat")
	return cmd
}

func (a *app) runPredict(cmd *cobra.Command, f *predictFlags) error {
	art, err := artifact.Load(orDefault(f.model, a.cfg.ModelPath))
	if err != nil {
		return err
	}
	p, err := predictor.New(art, predictor.WithMetrics(a.metrics), predictor.WithClock(a.clock))
	if err != nil {
		return err
	}

	today := domain.FormatDate(a.clock.Now().UTC())
	date := orDefault(f.date, today)

	var queries []domain.Query
	if f.input != "" {
		file, err := os.Open(f.input)
		if err != nil {
			return fmt.Errorf("open queries: %w", err)
		}
		defer file.Close()
		if queries, err = dataset.ReadQueriesCSV(file, date); err != nil {
			return fmt.Errorf("read %s: %w", f.input, err)
		}
	} else {
		queries = []domain.Query{{Lat: f.lat, Lon: f.lon, Date: date}}
	}

	preds, err := p.PredictBatch(queries)
	if err != nil {
		return err
	}
	a.logger.Debug("scored", "queries", len(preds), "model", p.ModelName())

	if f.output != "" {
		out, err := os.Create(f.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		if err := dataset.WritePredictionsCSV(out, preds); err != nil {
			out.Close()
			return fmt.Errorf("write predictions: %w", err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("close output: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d predictions to %s\n", len(preds), f.output)
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if f.input == "" {
		return enc.Encode(preds[0])
	}
	return enc.Encode(preds)
}
