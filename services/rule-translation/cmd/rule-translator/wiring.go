package main

import (
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/metrics"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/config"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/service"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/infrastructure/cache"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/infrastructure/resilience"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/infrastructure/translator"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/usecase"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/shared/database/redis"
)

// buildService wires translators, cache and resilience policy from cfg. The
// returned cleanup releases the cache backend.
func buildService(cfg *config.Config, logger *logging.Logger, collector *metrics.Collector) (*usecase.TranslationService, func(), error) {
	cleanup := func() {}

	limits, err := cfg.Resilience.Limits()
	if err != nil {
		return nil, cleanup, err
	}
	policy := resilience.NewPolicy(limits, logger, collector)

	var resultCache usecase.ResultCache
	if cfg.Cache.Enabled {
		backend, closeBackend, err := newCacheBackend(cfg, logger)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = closeBackend
		resultCache = cache.NewTranslationCache(backend, cfg.Cache.TTL, logger, collector)
	}

	svc := usecase.NewTranslationService(
		translator.NewAll(cfg.Translators, logger),
		resultCache,
		policy,
		logger,
		collector,
	)
	return svc, cleanup, nil
}

func newCacheBackend(cfg *config.Config, logger *logging.Logger) (service.Cache, func(), error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		retry := resilience.NewRetryPolicy(cfg.Resilience.Retry.MaxAttempts, cfg.Resilience.Retry.BaseDelay, logger)
		client, err := redis.NewClient(cfg.Cache.Redis, retry, logger.Logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close redis client", logging.Err(err))
			}
		}, nil
	default:
		memory, err := cache.NewMemoryCache(cfg.Cache.Size)
		if err != nil {
			return nil, nil, err
		}
		return memory, func() {}, nil
	}
}
