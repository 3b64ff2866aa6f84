package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/observability"
	"github.com/couchcryptid/aqua-risk/internal/pipeline"
)

var scoredAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawMessage
	errs    []error
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawMessage, error) {
	i := int(m.index.Add(1) - 1)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type sumScorer struct{}

func (sumScorer) Score(_ context.Context, q domain.Query) (domain.Prediction, error) {
	if err := domain.ValidateCoordinates(q.Lat, q.Lon); err != nil {
		return domain.Prediction{}, err
	}
	return domain.Prediction{ID: q.ID, Lat: q.Lat, Lon: q.Lon, Date: q.Date, Score: q.Lat + q.Lon}, nil
}

// slowScorer advances a fake clock by step for every request it scores.
type slowScorer struct {
	clock *clockwork.FakeClock
	step  time.Duration
}

func (s slowScorer) Score(ctx context.Context, q domain.Query) (domain.Prediction, error) {
	s.clock.Advance(s.step)
	return sumScorer{}.Score(ctx, q)
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.ScoredPoint
	err    error

	// failures is the number of leading calls that return err; zero fails every call.
	failures int
	calls    int
}

func (m *mockLoader) LoadBatch(_ context.Context, points []domain.ScoredPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil && (m.failures == 0 || m.calls <= m.failures) {
		return m.err
	}
	m.loaded = append(m.loaded, points...)
	return nil
}

type mockRecorder struct {
	model string
	preds []domain.Prediction
	err   error
}

func (m *mockRecorder) RecordScores(_ context.Context, model string, _ time.Time, preds []domain.Prediction) error {
	m.model = model
	m.preds = append(m.preds, preds...)
	return m.err
}

type commitLog struct {
	mu      sync.Mutex
	offsets []int64
}

func (c *commitLog) commit(offset int64) func(context.Context) error {
	return func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.offsets = append(c.offsets, offset)
		return nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeRaw(key, value string, offset int64, commits *commitLog) domain.RawMessage {
	raw := domain.RawMessage{Key: []byte(key), Value: []byte(value), Topic: "risk-score-requests", Offset: offset}
	if commits != nil {
		raw.Commit = commits.commit(offset)
	}
	return raw
}

func newPipeline(ext pipeline.BatchExtractor, ldr pipeline.BatchLoader, metrics *observability.Metrics, opts ...pipeline.Option) *pipeline.Pipeline {
	opts = append([]pipeline.Option{
		pipeline.WithModel("gradient_boosting"),
		pipeline.WithClock(clockwork.NewFakeClockAt(scoredAt)),
	}, opts...)
	return pipeline.New(ext, sumScorer{}, ldr, discardLogger(), metrics, 50, opts...)
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		makeRaw("req-1", `{"lat":1,"lon":30,"date":"2022-06-15"}`, 0, commits),
		makeRaw("req-2", `{"id":"explicit","lat":2,"lon":31,"date":"2022-06-16"}`, 1, commits),
	}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	p := newPipeline(ext, ldr, metrics)

	require.Error(t, p.CheckReadiness(context.Background()))
	runFor(t, p, 300*time.Millisecond)

	require.Len(t, ldr.loaded, 2)
	first := ldr.loaded[0]
	assert.Equal(t, "req-1", first.ID, "id falls back to the message key")
	assert.Equal(t, 31.0, first.Score)
	assert.Equal(t, "gradient_boosting", first.Model)
	assert.Equal(t, scoredAt, first.ScoredAt)
	assert.Equal(t, "explicit", ldr.loaded[1].ID)

	assert.Equal(t, []int64{0, 1}, commits.offsets)
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MessagesConsumed))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MessagesProduced))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{}
	ldr := &mockLoader{}
	p := newPipeline(ext, ldr, observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
}

func TestPipeline_Run_SkipsUnscorableRequests(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		makeRaw("bad-json", `not-json{{{`, 0, commits),
		makeRaw("no-lat", `{"lon":30,"date":"2022-06-15"}`, 1, commits),
		makeRaw("out-of-range", `{"lat":95,"lon":30,"date":"2022-06-15"}`, 2, commits),
		makeRaw("good", `{"lat":1,"lon":30,"date":"2022-06-15"}`, 3, commits),
	}}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	p := newPipeline(ext, ldr, metrics)

	runFor(t, p, 300*time.Millisecond)

	require.Len(t, ldr.loaded, 1)
	assert.Equal(t, "good", ldr.loaded[0].ID)
	assert.ElementsMatch(t, []int64{0, 1, 2, 3}, commits.offsets, "skipped requests are committed too")
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ScoreErrors))
}

func TestPipeline_Run_AllInvalidStaysUnready(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		makeRaw("bad", `{}`, 0, nil),
	}}}
	ldr := &mockLoader{}
	p := newPipeline(ext, ldr, observability.NewMetricsForTesting())

	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, 0, ldr.calls)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_LoadFailureDoesNotCommit(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		makeRaw("req-1", `{"lat":1,"lon":30,"date":"2022-06-15"}`, 0, commits),
	}}}
	ldr := &mockLoader{err: errors.New("leader not available")}
	p := newPipeline(ext, ldr, observability.NewMetricsForTesting())

	runFor(t, p, 700*time.Millisecond)

	assert.GreaterOrEqual(t, ldr.calls, 2, "the failed batch is retried")
	assert.Empty(t, commits.offsets)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_LoadFailureHoldsSkippedOffsets(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		makeRaw("req-5", `{"lat":1,"lon":30,"date":"2022-06-15"}`, 5, commits),
		makeRaw("bad-6", `not json`, 6, commits),
	}}}
	ldr := &mockLoader{err: errors.New("sink down")}
	p := newPipeline(ext, ldr, observability.NewMetricsForTesting())

	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, commits.offsets, "a later skipped offset must not be committed ahead of an unloaded one")
	assert.Empty(t, ldr.loaded)
}

func TestPipeline_Run_RetriesLoadThenCommitsInOrder(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		makeRaw("req-5", `{"lat":1,"lon":30,"date":"2022-06-15"}`, 5, commits),
		makeRaw("bad-6", `not json`, 6, commits),
		makeRaw("req-7", `{"lat":2,"lon":30,"date":"2022-06-15"}`, 7, commits),
	}}}
	ldr := &mockLoader{err: errors.New("sink down"), failures: 1}
	metrics := observability.NewMetricsForTesting()
	p := newPipeline(ext, ldr, metrics)

	runFor(t, p, time.Second)

	assert.Equal(t, 2, ldr.calls)
	require.Len(t, ldr.loaded, 2)
	assert.Equal(t, "req-5", ldr.loaded[0].ID)
	assert.Equal(t, "req-7", ldr.loaded[1].ID)
	assert.Equal(t, []int64{5, 6, 7}, commits.offsets)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MessagesProduced))
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_RecoversFromExtractError(t *testing.T) {
	ext := &mockExtractor{
		errs: []error{errors.New("broker unavailable")},
		batches: [][]domain.RawMessage{
			nil, // consumed by the failing call
			{makeRaw("req-1", `{"lat":1,"lon":30,"date":"2022-06-15"}`, 0, nil)},
		},
	}
	ldr := &mockLoader{}
	p := newPipeline(ext, ldr, observability.NewMetricsForTesting())

	runFor(t, p, time.Second)

	require.Len(t, ldr.loaded, 1)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_RecordsLoadedPoints(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		makeRaw("req-1", `{"lat":1,"lon":30,"date":"2022-06-15"}`, 0, nil),
		makeRaw("bad", `{}`, 1, nil),
	}}}
	rec := &mockRecorder{}
	p := newPipeline(ext, &mockLoader{}, observability.NewMetricsForTesting(), pipeline.WithRecorder(rec))

	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, "gradient_boosting", rec.model)
	require.Len(t, rec.preds, 1)
	assert.Equal(t, "req-1", rec.preds[0].ID)
}

func TestPipeline_Run_RecorderFailureStillCommits(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		makeRaw("req-1", `{"lat":1,"lon":30,"date":"2022-06-15"}`, 0, commits),
	}}}
	rec := &mockRecorder{err: errors.New("database down")}
	p := newPipeline(ext, &mockLoader{}, observability.NewMetricsForTesting(), pipeline.WithRecorder(rec))

	runFor(t, p, 300*time.Millisecond)

	assert.Equal(t, []int64{0}, commits.offsets)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		want    domain.Query
		wantErr bool
	}{
		{name: "key as id", key: "k", value: `{"lat":1,"lon":2,"date":"2022-01-01"}`, want: domain.Query{ID: "k", Lat: 1, Lon: 2, Date: "2022-01-01"}},
		{name: "explicit id", key: "k", value: `{"id":"x","lat":0,"lon":0,"date":"2022-01-01"}`, want: domain.Query{ID: "x", Date: "2022-01-01"}},
		{name: "missing lon", value: `{"lat":1,"date":"2022-01-01"}`, wantErr: true},
		{name: "missing date", value: `{"lat":1,"lon":2}`, wantErr: true},
		{name: "malformed", value: `[`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := domain.ParseQuery(domain.RawMessage{Key: []byte(tt.key), Value: []byte(tt.value)})
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestPipeline_Run_BatchDurationUsesClock(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawMessage{{
		makeRaw("req-1", `{"lat":1,"lon":30,"date":"2022-06-15"}`, 0, nil),
		makeRaw("req-2", `{"lat":2,"lon":30,"date":"2022-06-15"}`, 1, nil),
	}}}
	clock := clockwork.NewFakeClockAt(scoredAt)
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(ext, slowScorer{clock: clock, step: 1500 * time.Millisecond}, &mockLoader{},
		discardLogger(), metrics, 50, pipeline.WithClock(clock))

	runFor(t, p, 300*time.Millisecond)

	var m dto.Metric
	require.NoError(t, metrics.BatchProcessingDuration.Write(&m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	assert.InDelta(t, 3.0, m.GetHistogram().GetSampleSum(), 1e-9)
}
