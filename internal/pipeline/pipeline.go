// Package pipeline runs the Kafka batch-scoring loop: extract score requests,
// score them with the loaded model and load the results.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw score requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error)
}

// BatchLoader writes scored points to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, points []domain.ScoredPoint) error
}

// ScoreRecorder persists scored points after they are loaded.
type ScoreRecorder interface {
	RecordScores(ctx context.Context, model string, scoredAt time.Time, preds []domain.Prediction) error
}

// Pipeline orchestrates the extract-score-load loop.
type Pipeline struct {
	extractor BatchExtractor
	scorer    domain.Scorer
	loader    BatchLoader
	recorder  ScoreRecorder
	model     string
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithModel sets the model name stamped on every scored point.
func WithModel(name string) Option {
	return func(p *Pipeline) { p.model = name }
}

// WithRecorder stores loaded points. Recorder failures are logged only.
func WithRecorder(r ScoreRecorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithClock sets the clock used for scored_at and batch durations.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, s domain.Scorer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: e,
		scorer:    s,
		loader:    l,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil if the pipeline has loaded at least one batch,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not scored any requests yet")
	}
	return nil
}

// Run executes the batch scoring loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize, "model", p.model)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch runs one extract-score-load cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	start := p.clock.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = initialBackoff

	loaded, ok := p.scoreAndLoad(ctx, rawBatch, backoff)
	if !ok {
		return false
	}

	if loaded > 0 {
		p.metrics.BatchProcessingDuration.Observe(p.clock.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// scoreAndLoad scores each request and loads the successes, retrying the
// load with backoff until it succeeds. Requests that cannot be scored are
// skipped. Offsets are committed in batch order only once the load succeeds,
// since commits are cumulative per partition. Returns the number of loaded
// points and false if the pipeline should stop.
func (p *Pipeline) scoreAndLoad(ctx context.Context, rawBatch []domain.RawMessage, backoff *time.Duration) (int, bool) {
	points := make([]domain.ScoredPoint, 0, len(rawBatch))
	scoredAt := p.clock.Now().UTC()

	for _, raw := range rawBatch {
		pred, err := p.score(ctx, raw)
		if err != nil {
			if ctx.Err() != nil {
				return 0, false
			}
			p.logger.Warn("score failed, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.ScoreErrors.Inc()
			continue
		}
		points = append(points, domain.ScoredPoint{Prediction: pred, Model: p.model, ScoredAt: scoredAt})
	}

	if len(points) > 0 {
		if !p.loadWithRetry(ctx, points, backoff) {
			return 0, false
		}
		p.metrics.MessagesProduced.Add(float64(len(points)))
		p.record(ctx, scoredAt, points)
	}

	for _, raw := range rawBatch {
		p.commitOffset(ctx, raw)
	}
	return len(points), true
}

// loadWithRetry loads points until the loader succeeds. Returns false if the
// context is cancelled first.
func (p *Pipeline) loadWithRetry(ctx context.Context, points []domain.ScoredPoint, backoff *time.Duration) bool {
	for attempt := 1; ; attempt++ {
		err := p.loader.LoadBatch(ctx, points)
		if err == nil {
			*backoff = initialBackoff
			return true
		}
		p.logger.Error("load batch failed", "error", err, "batch_size", len(points), "attempt", attempt)
		if !p.backoffOrStop(ctx, backoff) {
			return false
		}
	}
}

func (p *Pipeline) score(ctx context.Context, raw domain.RawMessage) (domain.Prediction, error) {
	q, err := domain.ParseQuery(raw)
	if err != nil {
		return domain.Prediction{}, err
	}
	return p.scorer.Score(ctx, q)
}

func (p *Pipeline) record(ctx context.Context, scoredAt time.Time, points []domain.ScoredPoint) {
	if p.recorder == nil {
		return
	}
	preds := make([]domain.Prediction, len(points))
	for i := range points {
		preds[i] = points[i].Prediction
	}
	if err := p.recorder.RecordScores(ctx, p.model, scoredAt, preds); err != nil {
		p.logger.Warn("record scores failed", "error", err, "count", len(preds))
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawMessage) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
