package service

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"marketgateway/internal/marketdata"
	"marketgateway/internal/observ"
)

// WarmCache pre-populates the quote cache for a batch of symbols ahead
// of anticipated demand. Best-effort: individual symbol failures are
// logged and skipped, and never abort the batch.
func (s *DataService) WarmCache(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	jobID := uuid.NewString()
	log := s.logger.With().Str("job_id", jobID).Logger()
	log.Info().Int("symbols", len(symbols)).Msg("cache warming started")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.WarmConcurrency)

	warmed := make([]bool, len(symbols))
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if _, err := s.GetQuote(gctx, sym); err != nil {
				log.Debug().Str("symbol", sym).Err(err).Msg("warm fetch failed")
				observ.IncCounter("cache_warm_failures_total", nil)
				return nil
			}
			warmed[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var ok int
	for _, w := range warmed {
		if w {
			ok++
		}
	}
	observ.IncCounterBy("cache_warm_symbols_total", nil, int64(ok))
	log.Info().Int("warmed", ok).Int("requested", len(symbols)).Msg("cache warming finished")

	if err := ctx.Err(); err != nil {
		return marketdata.NewTimeoutError("", "", err)
	}
	return nil
}
