package cli

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqua-risk/internal/adapter/postgres"
	"github.com/couchcryptid/aqua-risk/internal/artifact"
	"github.com/couchcryptid/aqua-risk/internal/training"
)

type trainFlags struct {
	data        dataFlags
	modelOut    string
	reportOut   string
	diagnostics string
	folds       int
	noXGBoost   bool
	noRecord    bool
}

func newTrainCommand(a *app) *cobra.Command {
	f := &trainFlags{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "train a risk model and write the artifact",
		Long: `Train the candidate models, select the best by cross-validated MAE, fit the
calibrator and interval models, and write the artifact and training report.

The artifact is replaced atomically; a failed run leaves any existing
artifact untouched. When POSTGRES_URL is set the run is also recorded.`,
		Example: `  $ riskctl train
  $ riskctl train --data data/training.csv --model-out artifacts/model.aqrm
  $ riskctl train --samples 8000 --raster-mock --climate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runTrain(cmd, f)
		},
	}
	f.data.register(cmd, true)
	cmd.Flags().StringVar(&f.modelOut, "model-out", "", "artifact path (default from MODEL_PATH)")
	cmd.Flags().StringVar(&f.reportOut, "report-out", "", "training report path (default from REPORT_PATH)")
	cmd.Flags().StringVar(&f.diagnostics, "diagnostics", "", "write test-split targets, predictions and bounds as JSON")
	cmd.Flags().IntVar(&f.folds, "folds", 0, "cross-validation folds (default 3)")
	cmd.Flags().BoolVar(&f.noXGBoost, "no-xgboost", false, "skip the xgboost candidate")
	cmd.Flags().BoolVar(&f.noRecord, "no-record", false, "do not record the run in Postgres")
	return cmd
}

func (a *app) runTrain(cmd *cobra.Command, f *trainFlags) error {
	ctx := cmd.Context()

	obs, err := a.observations(ctx, &f.data)
	if err != nil {
		return err
	}

	tcfg := training.DefaultConfig()
	tcfg.ExtremeBoosting = a.cfg.XGBoostEnabled && !f.noXGBoost
	if f.folds > 0 {
		tcfg.Folds = f.folds
	}
	trainer := training.NewTrainer(tcfg, a.logger, a.metrics)

	var recorder training.RunRecorder
	if a.cfg.PostgresURL != "" && !f.noRecord {
		db, err := postgres.Connect(ctx, a.cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		rec := postgres.NewRecorder(db)
		if err := rec.EnsureSchema(ctx); err != nil {
			return err
		}
		recorder = rec
	}

	modelOut := orDefault(f.modelOut, a.cfg.ModelPath)
	reportOut := orDefault(f.reportOut, a.cfg.ReportPath)
	res, err := training.NewService(trainer, modelOut, reportOut, recorder, a.logger).Run(ctx, obs)
	if err != nil {
		return err
	}

	if f.diagnostics != "" {
		if err := artifact.WriteJSON(f.diagnostics, res.Diagnostics); err != nil {
			return fmt.Errorf("write diagnostics: %w", err)
		}
	}

	return printTrainSummary(cmd.OutOrStdout(), res, modelOut)
}

func printTrainSummary(w io.Writer, res *training.Result, modelOut string) error {
	m := res.Report.Metrics
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run id\t%s\n", res.Report.RunID)
	fmt.Fprintf(tw, "artifact\t%s\n", modelOut)
	fmt.Fprintf(tw, "rows\t%d\n", res.Report.Rows)
	fmt.Fprintf(tw, "selected model\t%s\n", m.SelectedModel)
	fmt.Fprintf(tw, "test MAE / RMSE / R²\t%.3f / %.3f / %.3f\n", m.MAE, m.RMSE, m.R2)
	fmt.Fprintf(tw, "interval coverage / width\t%.3f / %.3f\n", m.IntervalCoverage, m.IntervalWidth)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "CANDIDATE\tCV MAE\tCV RMSE\tCV R²")
	candidates := slices.Clone(res.Candidates)
	slices.SortStableFunc(candidates, func(x, y training.CandidateResult) int {
		switch {
		case x.Scores.MAE < y.Scores.MAE:
			return -1
		case x.Scores.MAE > y.Scores.MAE:
			return 1
		}
		return 0
	})
	for _, c := range candidates {
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\n", c.Name, c.Scores.MAE, c.Scores.RMSE, c.Scores.R2)
	}
	return tw.Flush()
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
