package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqua-risk/internal/artifact"
	"github.com/couchcryptid/aqua-risk/internal/training"
)

type inspectFlags struct {
	model      string
	report     bool
	reportPath string
}

func newInspectCommand(a *app) *cobra.Command {
	f := &inspectFlags{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "show the contents of a model artifact",
		Long: `Load and validate a model artifact, then print its run ID, selected model,
interval availability and feature columns. With --report the training report
written alongside it is printed as well.`,
		Example: `  $ riskctl inspect
  $ riskctl inspect --model artifacts/model.aqrm --report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runInspect(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.model, "model", "", "artifact path (default from MODEL_PATH)")
	cmd.Flags().BoolVar(&f.report, "report", false, "also print the training report")
	cmd.Flags().StringVar(&f.reportPath, "report-path", "", "training report path (default from REPORT_PATH)")
	return cmd
}

func (a *app) runInspect(cmd *cobra.Command, f *inspectFlags) error {
	path := orDefault(f.model, a.cfg.ModelPath)
	art, err := artifact.Load(path)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "artifact\t%s\n", path)
	fmt.Fprintf(tw, "run id\t%s\n", art.RunID)
	fmt.Fprintf(tw, "model\t%s\n", art.ModelName)
	fmt.Fprintf(tw, "created\t%s\n", art.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "calibrated\t%t\n", art.Calibrator != nil)
	fmt.Fprintf(tw, "interval\t%t\n", art.HasInterval())
	fmt.Fprintf(tw, "features\t%d\n", len(art.FeatureColumns))
	fmt.Fprintf(tw, "\t%s\n", strings.Join(art.FeatureColumns, ", "))
	if err := tw.Flush(); err != nil {
		return err
	}

	if !f.report {
		return nil
	}
	data, err := os.ReadFile(orDefault(f.reportPath, a.cfg.ReportPath))
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	var report training.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	if report.RunID != art.RunID {
		a.logger.Warn("report belongs to a different run", "report_run_id", report.RunID, "artifact_run_id", art.RunID)
	}
	fmt.Fprintln(w)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
