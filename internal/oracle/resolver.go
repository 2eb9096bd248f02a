package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qubex-labs/qupool/internal/domain"
)

// cacheFreshness bounds how old a cached median may be before sources are
// queried again.
const cacheFreshness = 15 * time.Second

// Resolver fetches prices from every configured source concurrently and
// reduces them to a median. Medians are cached per pair to bound external
// call volume.
type Resolver struct {
	sources          []PriceSource
	cache            domain.PriceCache
	perSourceTimeout time.Duration
	logger           *slog.Logger
}

// NewResolver creates a Resolver over the given sources.
func NewResolver(sources []PriceSource, cache domain.PriceCache, perSourceTimeout time.Duration, logger *slog.Logger) *Resolver {
	if perSourceTimeout <= 0 {
		perSourceTimeout = 5 * time.Second
	}
	return &Resolver{
		sources:          sources,
		cache:            cache,
		perSourceTimeout: perSourceTimeout,
		logger:           logger.With(slog.String("component", "oracle")),
	}
}

// FetchPrices queries every source concurrently, each bounded by the
// per-source timeout. A failing source is logged and omitted; an empty
// result set is an upstream-unavailable error.
func (r *Resolver) FetchPrices(ctx context.Context, pair string) ([]Reading, error) {
	var (
		mu       sync.Mutex
		readings []Reading
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range r.sources {
		g.Go(func() error {
			srcCtx, cancel := context.WithTimeout(gctx, r.perSourceTimeout)
			defer cancel()

			reading, err := src.FetchPrice(srcCtx, pair)
			if err != nil {
				r.logger.WarnContext(ctx, "price source failed",
					slog.String("source", src.Name()),
					slog.String("pair", pair),
					slog.String("error", err.Error()),
				)
				return nil
			}

			mu.Lock()
			readings = append(readings, reading)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(readings) == 0 {
		return nil, fmt.Errorf("oracle: no source returned a price for %s: %w", pair, domain.ErrUpstreamUnavailable)
	}

	sort.Slice(readings, func(i, j int) bool { return readings[i].Source < readings[j].Source })
	return readings, nil
}

// MedianPrice returns the median price for a pair, serving from the cache
// while the cached value is fresh.
func (r *Resolver) MedianPrice(ctx context.Context, pair string) (float64, error) {
	if price, ts, err := r.cache.GetPrice(ctx, pair); err == nil {
		if time.Since(ts) < cacheFreshness {
			return price, nil
		}
	}

	readings, err := r.FetchPrices(ctx, pair)
	if err != nil {
		return 0, err
	}

	prices := make([]float64, len(readings))
	for i, rd := range readings {
		prices[i] = rd.Price
	}
	median := Median(prices)

	if err := r.cache.SetPrice(ctx, pair, median, time.Now().UTC()); err != nil {
		r.logger.WarnContext(ctx, "price cache write failed",
			slog.String("pair", pair),
			slog.String("error", err.Error()),
		)
	}

	return median, nil
}

// Median returns the statistical median: the middle element of the sorted
// values for an odd count, the mean of the two middle elements for an even
// count. The input slice is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
