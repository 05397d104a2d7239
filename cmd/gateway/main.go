package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"marketgateway/internal/adapters"
	"marketgateway/internal/cache"
	"marketgateway/internal/config"
	"marketgateway/internal/cost"
	"marketgateway/internal/health"
	"marketgateway/internal/marketdata"
	"marketgateway/internal/observ"
	"marketgateway/internal/ratelimit"
	"marketgateway/internal/service"
	"marketgateway/internal/strategy"
	"marketgateway/internal/usage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	logger := observ.NewLogger()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *configPath).Msg("loading config")
		}
		cfg = loaded
	}

	// Env override keeps local runs off live vendors without editing
	// config files.
	if override := os.Getenv("MARKET_PROVIDER"); override != "" {
		logger.Info().Str("override", override).Msg("primary provider overridden by env")
		cfg.PrimaryProvider = strings.ToLower(override)
	}

	primaryType, err := marketdata.ParseProviderType(cfg.PrimaryProvider)
	if err != nil {
		logger.Fatal().Err(err).Msg("primary provider")
	}

	factory := adapters.NewFactory(buildFactoryConfig(cfg), logger)
	defer factory.Close()

	primary, err := factory.Create(primaryType)
	if err != nil {
		logger.Fatal().Err(err).Msg("creating primary provider")
	}

	var fallbackProvider adapters.Provider
	if cfg.FallbackProvider != "" {
		fallbackType, err := marketdata.ParseProviderType(cfg.FallbackProvider)
		if err != nil {
			logger.Fatal().Err(err).Msg("fallback provider")
		}
		fallbackProvider, err = factory.Create(fallbackType)
		if err != nil {
			logger.Fatal().Err(err).Msg("creating fallback provider")
		}
	}

	monitor := health.NewMonitor(cfg.Health.FailureThreshold, logger)
	monitor.RegisterProbe(primary.Name(), primary.IsHealthy)
	if fallbackProvider != nil {
		monitor.RegisterProbe(fallbackProvider.Name(), fallbackProvider.IsHealthy)
	}

	var selector strategy.Selector
	switch cfg.Strategy {
	case "primary":
		selector = strategy.NewPrimary(primary)
	default:
		selector = strategy.NewFallback(primary, fallbackProvider, monitor)
	}

	limits := ratelimit.NewRegistry(func(p marketdata.ProviderType) ratelimit.Limits {
		pc := cfg.ProviderFor(p)
		return ratelimit.Limits{
			PerMinute: pc.RequestsPerMinute,
			PerHour:   pc.RequestsPerHour,
			PerDay:    pc.RequestsPerDay,
		}
	})

	costs := cost.NewTracker(func(p marketdata.ProviderType) cost.Params {
		pc := cfg.ProviderFor(p)
		return cost.ParamsFromFloats(pc.CostPerCall, pc.MonthlySubscription, pc.CostThreshold)
	}, cfg.CostTracking.WarningThresholdPct, logger)

	usageTracker := usage.NewTracker()

	store := buildStore(cfg, logger)
	defer store.Close()

	svc := service.New(selector, limits, monitor, costs, usageTracker, store,
		service.TTLPolicy{
			Quote:        time.Duration(cfg.Cache.TTL.QuoteSeconds) * time.Second,
			Historical:   time.Duration(cfg.Cache.TTL.HistoricalSeconds) * time.Second,
			Fundamentals: time.Duration(cfg.Cache.TTL.FundamentalsSeconds) * time.Second,
			Profile:      time.Duration(cfg.Cache.TTL.ProfileSeconds) * time.Second,
			Search:       time.Duration(cfg.Cache.TTL.SearchSeconds) * time.Second,
		},
		service.Options{
			FailFast:          cfg.FailFast,
			AutomaticFallback: cfg.AutomaticFallback,
			EnforceCostLimits: cfg.CostTracking.EnforceLimits,
		},
		logger)

	monitor.StartPeriodicChecks(time.Duration(cfg.Health.CheckIntervalSeconds) * time.Second)
	defer monitor.StopPeriodicChecks()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Cache.Warming.Enabled && len(cfg.Cache.Warming.Symbols) > 0 {
		symbols := cfg.Cache.Warming.Symbols
		if len(symbols) > cfg.Cache.Warming.MaxSymbols {
			symbols = symbols[:cfg.Cache.Warming.MaxSymbols]
		}
		go func() {
			if err := svc.WarmCache(ctx, symbols); err != nil {
				logger.Warn().Err(err).Msg("cache warming aborted")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           routes(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildFactoryConfig(cfg config.Root) adapters.FactoryConfig {
	yahoo := cfg.ProviderFor(marketdata.ProviderYahoo)
	av := cfg.ProviderFor(marketdata.ProviderAlphaVantage)
	avKeyEnv := av.APIKeyEnv
	if avKeyEnv == "" {
		avKeyEnv = "ALPHA_VANTAGE_API_KEY"
	}
	return adapters.FactoryConfig{
		Yahoo: adapters.YahooConfig{
			BaseURL:               yahoo.BaseURL,
			TimeoutSeconds:        yahoo.TimeoutSeconds,
			MaxRetries:            yahoo.MaxRetries,
			BackoffBaseMs:         yahoo.BackoffBaseMs,
			PaceRequestsPerMinute: yahoo.RequestsPerMinute,
		},
		AlphaVantage: adapters.AlphaVantageConfig{
			BaseURL:               av.BaseURL,
			TimeoutSeconds:        av.TimeoutSeconds,
			MaxRetries:            av.MaxRetries,
			BackoffBaseMs:         av.BackoffBaseMs,
			PaceRequestsPerMinute: av.RequestsPerMinute,
		},
		AlphaVantageKeyEnv: avKeyEnv,
	}
}

func buildStore(cfg config.Root, logger zerolog.Logger) cache.Store {
	if cfg.Cache.Backend == "redis" {
		store := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			// degraded start beats no start; cache misses are survivable
			logger.Warn().Err(err).Str("addr", cfg.Cache.Redis.Addr).
				Msg("redis unreachable, falling back to in-memory cache")
			return cache.NewMemory(cfg.Cache.MaxSize)
		}
		logger.Info().Str("addr", cfg.Cache.Redis.Addr).Msg("redis cache connected")
		return store
	}
	return cache.NewMemory(cfg.Cache.MaxSize)
}
