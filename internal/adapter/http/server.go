package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/aqua-risk/internal/dataset"
	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/predictor"
)

const (
	maxBodyBytes     = 1 << 20
	defaultMaxBatch  = 1000
	defaultListLimit = 100
)

// ScoreRecorder persists scored points.
type ScoreRecorder interface {
	RecordScores(ctx context.Context, model string, scoredAt time.Time, preds []domain.Prediction) error
}

// ScoreHistory lists recently scored points, newest first.
type ScoreHistory interface {
	RecentScores(ctx context.Context, limit int) ([]domain.Prediction, error)
}

// Server exposes health, readiness, metrics and scoring HTTP endpoints.
type Server struct {
	httpServer *http.Server
	scorer     domain.Scorer
	model      string
	recorder   ScoreRecorder
	history    ScoreHistory
	clock      clockwork.Clock
	maxBatch   int
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder stores every successful score under the given model name.
func WithRecorder(rec ScoreRecorder, model string) Option {
	return func(s *Server) {
		s.recorder = rec
		s.model = model
	}
}

// WithHistory enables GET /v1/points.
func WithHistory(h ScoreHistory) Option {
	return func(s *Server) { s.history = h }
}

// WithClock sets the clock used for the default date and scored_at.
func WithClock(c clockwork.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithMaxBatch caps the number of queries accepted by /v1/score/batch.
func WithMaxBatch(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /v1 scoring routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, scorer domain.Scorer, logger *slog.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		scorer:   scorer,
		clock:    clockwork.NewRealClock(),
		maxBatch: defaultMaxBatch,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/score", s.handleScore)
	mux.HandleFunc("POST /v1/score/batch", s.handleBatch)
	if s.history != nil {
		mux.HandleFunc("GET /v1/points", s.handlePoints)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// scoreRequest distinguishes a missing coordinate from a zero one.
type scoreRequest struct {
	ID   string   `json:"id,omitempty"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
	Date string   `json:"date,omitempty"`
}

func (r scoreRequest) query(today string) (domain.Query, error) {
	if r.Lat == nil || r.Lon == nil {
		return domain.Query{}, domain.InputErrorf("lat and lon are required")
	}
	date := r.Date
	if date == "" {
		date = today
	}
	return domain.Query{ID: r.ID, Lat: *r.Lat, Lon: *r.Lon, Date: date}, nil
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	q, err := req.query(s.today())
	if err != nil {
		s.writeError(w, err)
		return
	}
	pred, err := s.scorer.Score(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.record(r.Context(), []domain.Prediction{pred})
	sharedobs.WriteJSON(w, http.StatusOK, pred)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []scoreRequest
	if err := decodeBody(w, r, &reqs); err != nil {
		s.writeError(w, err)
		return
	}
	if len(reqs) == 0 {
		s.writeError(w, domain.InputErrorf("batch is empty"))
		return
	}
	if len(reqs) > s.maxBatch {
		s.writeError(w, domain.InputErrorf("batch of %d exceeds limit of %d", len(reqs), s.maxBatch))
		return
	}

	today := s.today()
	queries := make([]domain.Query, len(reqs))
	for i, req := range reqs {
		q, err := req.query(today)
		if err != nil {
			s.writeError(w, fmt.Errorf("query %d: %w", i, err))
			return
		}
		queries[i] = q
	}

	preds, err := predictor.ScoreAll(r.Context(), s.scorer, queries)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.record(r.Context(), preds)

	if r.Header.Get("Accept") == "text/csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="batch_scores.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := dataset.WritePredictionsCSV(w, preds); err != nil {
			s.logger.Error("write batch csv", "error", err)
		}
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, preds)
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, domain.InputErrorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	preds, err := s.history.RecentScores(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if preds == nil {
		preds = []domain.Prediction{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, preds)
}

func (s *Server) today() string {
	return domain.FormatDate(s.clock.Now().UTC())
}

// record failures are logged and never fail the request.
func (s *Server) record(ctx context.Context, preds []domain.Prediction) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordScores(ctx, s.model, s.clock.Now().UTC(), preds); err != nil {
		s.logger.Warn("record scores failed", "error", err, "count", len(preds))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if domain.IsInput(err) {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Error("request failed", "error", err)
	sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.InputErrorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return domain.InputErrorf("decode request body: %v", err)
	}
	return nil
}
