package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqua-risk/internal/domain"
)

// --- fakes ---

type fakeFetcher struct {
	msgs      []kafkago.Message
	failAfter error // returned once msgs are exhausted instead of blocking
	committed []int64
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if len(f.msgs) > 0 {
		msg := f.msgs[0]
		f.msgs = f.msgs[1:]
		return msg, nil
	}
	if f.failAfter != nil {
		return kafkago.Message{}, f.failAfter
	}
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeFetcher) Close() error { return nil }

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testReader(f *fakeFetcher) *Reader {
	return &Reader{reader: f, flushInterval: 20 * time.Millisecond, logger: discardLogger()}
}

func messages(n int) []kafkago.Message {
	out := make([]kafkago.Message, n)
	for i := range out {
		out[i] = kafkago.Message{Topic: "risk-score-requests", Offset: int64(i), Value: []byte(`{"lat":1,"lon":30,"date":"2022-06-15"}`)}
	}
	return out
}

// --- tests ---

func TestMapMessageToRawMessage(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("req-1"),
		Value:     []byte(`{"lat":1.5,"lon":30,"date":"2022-06-15"}`),
		Topic:     "risk-score-requests",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("clinic-feed")},
		},
	}

	raw := mapMessageToRawMessage(msg)

	assert.Equal(t, []byte("req-1"), raw.Key)
	assert.JSONEq(t, `{"lat":1.5,"lon":30,"date":"2022-06-15"}`, string(raw.Value))
	assert.Equal(t, "risk-score-requests", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "clinic-feed", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	lo, hi := 10.0, 30.0
	point := domain.ScoredPoint{
		Prediction: domain.Prediction{ID: "req-1", Lat: 1.5, Lon: 30, Date: "2022-06-15", Score: 21.5, Lower: &lo, Upper: &hi},
		Model:      "gradient_boosting",
		ScoredAt:   now,
	}

	msg, err := serializeToMessage(point)
	require.NoError(t, err)

	assert.Equal(t, []byte("req-1"), msg.Key)
	assert.JSONEq(t, `{
		"id": "req-1", "lat": 1.5, "lon": 30, "date": "2022-06-15",
		"score": 21.5, "interval_lower": 10, "interval_upper": 30,
		"model": "gradient_boosting", "scored_at": "2024-04-26T15:10:00Z"
	}`, string(msg.Value))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "model", msg.Headers[0].Key)
	assert.Equal(t, []byte("gradient_boosting"), msg.Headers[0].Value)
	assert.Equal(t, "scored_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)

	var back domain.ScoredPoint
	require.NoError(t, json.Unmarshal(msg.Value, &back))
	assert.Equal(t, point.Score, back.Score)
}

func TestExtractBatch_FillsToBatchSize(t *testing.T) {
	f := &fakeFetcher{msgs: messages(5)}
	r := testReader(f)

	batch, err := r.ExtractBatch(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, int64(2), batch[2].Offset)

	require.NoError(t, batch[1].Commit(context.Background()))
	assert.Equal(t, []int64{1}, f.committed)
}

func TestExtractBatch_FlushesPartialBatchOnInterval(t *testing.T) {
	r := testReader(&fakeFetcher{msgs: messages(2)})

	batch, err := r.ExtractBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestExtractBatch_EmptyOnIdleInterval(t *testing.T) {
	r := testReader(&fakeFetcher{})

	batch, err := r.ExtractBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestExtractBatch_FetchError(t *testing.T) {
	r := testReader(&fakeFetcher{failAfter: errors.New("broker unavailable")})
	_, err := r.ExtractBatch(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")

	r = testReader(&fakeFetcher{msgs: messages(1), failAfter: errors.New("broker unavailable")})
	batch, err := r.ExtractBatch(context.Background(), 10)
	require.NoError(t, err, "a partial batch is returned")
	assert.Len(t, batch, 1)
}

func TestExtractBatch_Cancelled(t *testing.T) {
	r := testReader(&fakeFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ExtractBatch(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadBatch(t *testing.T) {
	fw := &fakeWriter{}
	w := &Writer{writer: fw, logger: discardLogger()}

	require.NoError(t, w.LoadBatch(context.Background(), nil))
	assert.Empty(t, fw.msgs)

	points := []domain.ScoredPoint{
		{Prediction: domain.Prediction{ID: "a", Score: 1}, Model: "linear"},
		{Prediction: domain.Prediction{ID: "b", Score: 2}, Model: "linear"},
	}
	require.NoError(t, w.LoadBatch(context.Background(), points))
	require.Len(t, fw.msgs, 2)
	assert.Equal(t, []byte("b"), fw.msgs[1].Key)

	fw.err = errors.New("leader not available")
	err := w.LoadBatch(context.Background(), points)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write 2 scored points")
}
