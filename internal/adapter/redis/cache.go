// Package redis caches scored points in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/observability"
)

const keyPrefix = "aqua-risk:score"

// Store is the subset of the Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// CachedScorer wraps a Scorer with a Redis read-through cache. Keys include
// the artifact run ID, so a new model never serves stale scores. Redis
// failures fall through to the inner scorer.
type CachedScorer struct {
	inner   domain.Scorer
	store   Store
	runID   string
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewCachedScorer creates a cache decorator around a scorer.
func NewCachedScorer(inner domain.Scorer, store Store, runID string, ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *CachedScorer {
	return &CachedScorer{
		inner:   inner,
		store:   store,
		runID:   runID,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
	}
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// Score implements domain.Scorer.
func (c *CachedScorer) Score(ctx context.Context, q domain.Query) (domain.Prediction, error) {
	key := c.key(q)

	raw, err := c.store.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var pred domain.Prediction
		if err := json.Unmarshal(raw, &pred); err == nil {
			c.metrics.ScoreCache.WithLabelValues("hit").Inc()
			pred.ID, pred.Lat, pred.Lon, pred.Date = q.ID, q.Lat, q.Lon, q.Date
			return pred, nil
		}
		c.logger.Warn("discarding malformed cached score", "key", key)
		c.metrics.ScoreCache.WithLabelValues("error").Inc()
	case errors.Is(err, goredis.Nil):
		c.metrics.ScoreCache.WithLabelValues("miss").Inc()
	default:
		c.logger.Warn("score cache get failed", "error", err, "key", key)
		c.metrics.ScoreCache.WithLabelValues("error").Inc()
	}

	pred, err := c.inner.Score(ctx, q)
	if err != nil {
		return pred, err
	}

	cached := pred
	cached.ID = ""
	if data, err := json.Marshal(cached); err == nil {
		if err := c.store.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("score cache set failed", "error", err, "key", key)
		}
	}
	return pred, nil
}

// key formats coordinates exactly; they are model inputs, so any rounding
// would let distinct queries share a score.
func (c *CachedScorer) key(q domain.Query) string {
	return strings.Join([]string{
		keyPrefix, c.runID,
		strconv.FormatFloat(q.Lat, 'g', -1, 64),
		strconv.FormatFloat(q.Lon, 'g', -1, 64),
		q.Date,
	}, ":")
}
