// Package postgres records training runs and scored points in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the postgres driver

	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/training"
)

const schema = `
CREATE TABLE IF NOT EXISTS training_runs (
	run_id            TEXT PRIMARY KEY,
	trained_at        TIMESTAMPTZ NOT NULL,
	rows              INTEGER NOT NULL,
	selected_model    TEXT NOT NULL,
	mae               DOUBLE PRECISION NOT NULL,
	rmse              DOUBLE PRECISION NOT NULL,
	r2                DOUBLE PRECISION NOT NULL,
	interval_coverage DOUBLE PRECISION NOT NULL,
	interval_width    DOUBLE PRECISION NOT NULL,
	cv_results        JSONB NOT NULL,
	top_features      JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS scored_points (
	id             BIGSERIAL PRIMARY KEY,
	request_id     TEXT NOT NULL DEFAULT '',
	model          TEXT NOT NULL,
	lat            DOUBLE PRECISION NOT NULL,
	lon            DOUBLE PRECISION NOT NULL,
	date           DATE NOT NULL,
	score          DOUBLE PRECISION NOT NULL,
	interval_lower DOUBLE PRECISION,
	interval_upper DOUBLE PRECISION,
	scored_at      TIMESTAMPTZ NOT NULL
);`

// Recorder implements training.RunRecorder and stores scored points.
type Recorder struct {
	db *sqlx.DB
}

// NewRecorder wraps an open database handle.
func NewRecorder(db *sqlx.DB) *Recorder {
	return &Recorder{db: db}
}

// Connect opens and pings a PostgreSQL database.
func Connect(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables when they do not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// CheckReadiness pings the database.
func (r *Recorder) CheckReadiness(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RecordRun stores one training report. Re-recording a run is a no-op.
func (r *Recorder) RecordRun(ctx context.Context, rep *training.Report) error {
	const query = `
		INSERT INTO training_runs (
			run_id, trained_at, rows, selected_model,
			mae, rmse, r2, interval_coverage, interval_width,
			cv_results, top_features
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO NOTHING`

	cv, err := json.Marshal(rep.Metrics.CVResults)
	if err != nil {
		return fmt.Errorf("marshal cv results: %w", err)
	}
	top, err := json.Marshal(rep.TopFeatures)
	if err != nil {
		return fmt.Errorf("marshal top features: %w", err)
	}

	m := rep.Metrics
	_, err = r.db.ExecContext(ctx, query,
		rep.RunID, rep.TrainedAt, rep.Rows, m.SelectedModel,
		m.MAE, m.RMSE, m.R2, m.IntervalCoverage, m.IntervalWidth,
		cv, top,
	)
	if err != nil {
		return fmt.Errorf("insert training run %s: %w", rep.RunID, err)
	}
	return nil
}

// scoredPoint is the scored_points row shape.
type scoredPoint struct {
	RequestID string    `db:"request_id"`
	Model     string    `db:"model"`
	Lat       float64   `db:"lat"`
	Lon       float64   `db:"lon"`
	Date      string    `db:"date"`
	Score     float64   `db:"score"`
	Lower     *float64  `db:"interval_lower"`
	Upper     *float64  `db:"interval_upper"`
	ScoredAt  time.Time `db:"scored_at"`
}

// RecordScores stores a batch of scored points in one transaction.
func (r *Recorder) RecordScores(ctx context.Context, model string, scoredAt time.Time, preds []domain.Prediction) error {
	if len(preds) == 0 {
		return nil
	}
	const query = `
		INSERT INTO scored_points (
			request_id, model, lat, lon, date, score, interval_lower, interval_upper, scored_at
		) VALUES (
			:request_id, :model, :lat, :lon, :date, :score, :interval_lower, :interval_upper, :scored_at
		)`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for i, p := range preds {
		row := scoredPoint{
			RequestID: p.ID,
			Model:     model,
			Lat:       p.Lat,
			Lon:       p.Lon,
			Date:      p.Date,
			Score:     p.Score,
			Lower:     p.Lower,
			Upper:     p.Upper,
			ScoredAt:  scoredAt,
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("insert scored point %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scored points: %w", err)
	}
	return nil
}

// RecentScores returns up to limit scored points, newest first.
func (r *Recorder) RecentScores(ctx context.Context, limit int) ([]domain.Prediction, error) {
	const query = `
		SELECT request_id, model, lat, lon, to_char(date, 'YYYY-MM-DD') AS date,
			score, interval_lower, interval_upper, scored_at
		FROM scored_points
		ORDER BY scored_at DESC, id DESC
		LIMIT $1`

	var rows []scoredPoint
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("query scored points: %w", err)
	}
	out := make([]domain.Prediction, len(rows))
	for i, row := range rows {
		out[i] = domain.Prediction{
			ID:    row.RequestID,
			Lat:   row.Lat,
			Lon:   row.Lon,
			Date:  row.Date,
			Score: row.Score,
			Lower: row.Lower,
			Upper: row.Upper,
		}
	}
	return out, nil
}
