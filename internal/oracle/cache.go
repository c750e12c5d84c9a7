package oracle

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dranzer-17/TripSync/internal/models"
)

// CachedOracle decorates another Oracle with a Redis lookaside cache
// keyed by coordinate pair. Only resolved distances are cached; nil
// results are never stored, so a pair the oracle could not route is
// re-asked next time. Redis failures degrade to a plain pass-through.
type CachedOracle struct {
	next   Oracle
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedOracle(next Oracle, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedOracle {
	return &CachedOracle{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *CachedOracle) DistanceMatrix(ctx context.Context, origin models.Coord, dests []models.Coord) ([]*float64, error) {
	if len(dests) == 0 {
		return nil, nil
	}

	keys := make([]string, len(dests))
	for i, d := range dests {
		keys[i] = cacheKey(origin, d)
	}

	out := make([]*float64, len(dests))
	missIdx := make([]int, 0, len(dests))

	cached, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("oracle cache read failed", "error", err)
		return c.next.DistanceMatrix(ctx, origin, dests)
	}
	for i, v := range cached {
		s, ok := v.(string)
		if !ok {
			missIdx = append(missIdx, i)
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			missIdx = append(missIdx, i)
			continue
		}
		out[i] = &f
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	missDests := make([]models.Coord, len(missIdx))
	for i, idx := range missIdx {
		missDests[i] = dests[idx]
	}
	fresh, err := c.next.DistanceMatrix(ctx, origin, missDests)
	if err != nil {
		return nil, err
	}

	pipe := c.rdb.Pipeline()
	for i, idx := range missIdx {
		if i >= len(fresh) || fresh[i] == nil {
			continue
		}
		out[idx] = fresh[i]
		pipe.Set(ctx, keys[idx], strconv.FormatFloat(*fresh[i], 'f', 1, 64), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("oracle cache write failed", "error", err)
	}
	return out, nil
}

func cacheKey(a, b models.Coord) string {
	return "dist:" + fmtCoord(a) + "->" + fmtCoord(b)
}
