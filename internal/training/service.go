package training

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/aqua-risk/internal/artifact"
	"github.com/couchcryptid/aqua-risk/internal/domain"
)

// RunRecorder stores a summary of each completed training run.
type RunRecorder interface {
	RecordRun(ctx context.Context, report *Report) error
}

// Service trains and persists the result: the artifact first, then the
// report, then the optional run record.
type Service struct {
	trainer      *Trainer
	artifactPath string
	reportPath   string
	recorder     RunRecorder
	logger       *slog.Logger
}

// NewService creates a Service. reportPath and recorder are optional.
func NewService(trainer *Trainer, artifactPath, reportPath string, recorder RunRecorder, logger *slog.Logger) *Service {
	return &Service{
		trainer:      trainer,
		artifactPath: artifactPath,
		reportPath:   reportPath,
		recorder:     recorder,
		logger:       logger,
	}
}

// Run trains on obs and writes the artifact atomically. A failed run writes
// nothing and leaves any previous artifact in place. Report and recorder
// failures are logged and do not fail the run.
func (s *Service) Run(ctx context.Context, obs []domain.Observation) (*Result, error) {
	res, err := s.trainer.Train(ctx, obs)
	if err != nil {
		return nil, err
	}
	if err := artifact.Save(s.artifactPath, res.Artifact); err != nil {
		return nil, fmt.Errorf("%w: save artifact: %w", domain.ErrTraining, err)
	}
	s.logger.Info("artifact saved", "path", s.artifactPath, "run_id", res.Artifact.RunID)

	if s.reportPath != "" {
		if err := artifact.WriteJSON(s.reportPath, res.Report); err != nil {
			s.logger.Error("write training report failed", "error", err, "path", s.reportPath)
		}
	}
	if s.recorder != nil {
		if err := s.recorder.RecordRun(ctx, res.Report); err != nil {
			s.logger.Warn("record training run failed", "error", err, "run_id", res.Artifact.RunID)
		}
	}
	return res, nil
}
