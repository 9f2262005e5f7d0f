package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/metrics"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/service"
)

// ResultCache stores translation results keyed by request content
type ResultCache interface {
	Key(source, target entity.Platform, d *entity.CanonicalDetection) (string, error)
	GetOrCompute(ctx context.Context, key string, compute func(context.Context) (*entity.TranslationResult, error)) (*entity.TranslationResult, bool, error)
}

// Guard applies per-platform rate limiting and circuit breaking
type Guard interface {
	Execute(ctx context.Context, platform entity.Platform, fn func(context.Context) (*entity.TranslationResult, error)) (*entity.TranslationResult, error)
	States() []entity.ResilienceState
}

// TranslateRequest represents a request to translate a canonical detection
type TranslateRequest struct {
	SourcePlatform string                     `json:"source_platform"`
	TargetPlatform string                     `json:"target_platform"`
	Canonical      *entity.CanonicalDetection `json:"canonical"`
	UseCache       bool                       `json:"use_cache"`
}

// TranslateNativeRequest represents a request to translate a native query
type TranslateNativeRequest struct {
	SourcePlatform string `json:"source_platform"`
	TargetPlatform string `json:"target_platform"`
	Query          string `json:"query"`
	UseCache       bool   `json:"use_cache"`
}

// BatchResult holds the outcome of a fan-out translation per target platform
type BatchResult struct {
	Results map[entity.Platform]*entity.TranslationResult
	Errors  map[entity.Platform]error
}

// TranslationService is the entry point for rule translation
type TranslationService struct {
	translators map[entity.Platform]service.Translator
	cache       ResultCache
	guard       Guard
	logger      *logging.Logger
	metrics     *metrics.Collector
}

// NewTranslationService creates a TranslationService. A nil cache disables
// caching for every request.
func NewTranslationService(
	translators []service.Translator,
	cache ResultCache,
	guard Guard,
	logger *logging.Logger,
	collector *metrics.Collector,
) *TranslationService {
	if logger == nil {
		logger = logging.NewNop()
	}
	if collector == nil {
		collector = metrics.NewCollector("rule_translator")
	}

	registry := make(map[entity.Platform]service.Translator, len(translators))
	for _, t := range translators {
		registry[t.Platform()] = t
	}

	return &TranslationService{
		translators: registry,
		cache:       cache,
		guard:       guard,
		logger:      logger.WithComponent("translation_service"),
		metrics:     collector,
	}
}

// GetTranslator returns the registered translator for a platform id
func (s *TranslationService) GetTranslator(platform string) (service.Translator, error) {
	p, err := entity.ParsePlatform(platform)
	if err != nil {
		return nil, err
	}
	t, ok := s.translators[p]
	if !ok {
		return nil, &entity.UnsupportedPlatformError{Platform: platform}
	}
	return t, nil
}

// Platforms returns the registered platforms in a stable order
func (s *TranslationService) Platforms() []entity.Platform {
	platforms := make([]entity.Platform, 0, len(s.translators))
	for p := range s.translators {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}

// ResilienceStates reports the rate limiter and breaker state of every platform
func (s *TranslationService) ResilienceStates() []entity.ResilienceState {
	if s.guard == nil {
		return nil
	}
	return s.guard.States()
}

// Translate converts a canonical detection from the source platform's view
// into the target platform's native query.
func (s *TranslationService) Translate(ctx context.Context, req TranslateRequest) (*entity.TranslationResult, error) {
	source, err := s.GetTranslator(req.SourcePlatform)
	if err != nil {
		return nil, err
	}
	target, err := s.GetTranslator(req.TargetPlatform)
	if err != nil {
		return nil, err
	}

	if _, err := entity.ValidateCanonical(req.Canonical); err != nil {
		s.metrics.RecordTranslation(string(source.Platform()), string(target.Platform()), "invalid", 0)
		return nil, err
	}

	return s.run(ctx, source, target, req.Canonical, req.UseCache, func(ctx context.Context) (*entity.TranslationResult, error) {
		return s.translate(ctx, source, target, req.Canonical, true)
	})
}

// TranslateNative parses a native query of the source platform and renders
// it for the target platform.
func (s *TranslationService) TranslateNative(ctx context.Context, req TranslateNativeRequest) (*entity.TranslationResult, error) {
	source, err := s.GetTranslator(req.SourcePlatform)
	if err != nil {
		return nil, err
	}
	target, err := s.GetTranslator(req.TargetPlatform)
	if err != nil {
		return nil, err
	}

	var canonical *entity.CanonicalDetection
	err = s.guarded(ctx, source.Platform(), func(ctx context.Context) error {
		var perr error
		canonical, perr = source.TranslateFromNative(ctx, req.Query)
		return perr
	})
	if err != nil {
		s.metrics.RecordTranslation(string(source.Platform()), string(target.Platform()), outcome(err), 0)
		s.recordError(err)
		return nil, err
	}
	if _, err := entity.ValidateCanonical(canonical); err != nil {
		return nil, err
	}

	return s.run(ctx, source, target, canonical, req.UseCache, func(ctx context.Context) (*entity.TranslationResult, error) {
		return s.translate(ctx, source, target, canonical, false)
	})
}

// TranslateAll renders a canonical detection for every registered platform
// other than the source. Per-platform failures are collected in the result;
// only an invalid request fails the whole call.
func (s *TranslationService) TranslateAll(ctx context.Context, sourcePlatform string, canonical *entity.CanonicalDetection, useCache bool) (*BatchResult, error) {
	source, err := s.GetTranslator(sourcePlatform)
	if err != nil {
		return nil, err
	}
	if _, err := entity.ValidateCanonical(canonical); err != nil {
		return nil, err
	}

	batch := &BatchResult{
		Results: make(map[entity.Platform]*entity.TranslationResult),
		Errors:  make(map[entity.Platform]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.Platforms() {
		if p == source.Platform() {
			continue
		}
		target := p
		g.Go(func() error {
			result, err := s.Translate(gctx, TranslateRequest{
				SourcePlatform: sourcePlatform,
				TargetPlatform: string(target),
				Canonical:      canonical,
				UseCache:       useCache,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.Errors[target] = err
				return nil
			}
			batch.Results[target] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

// Validate checks a native query against the platform's rules
func (s *TranslationService) Validate(ctx context.Context, platform, native string) (*entity.ValidationResult, error) {
	t, err := s.GetTranslator(platform)
	if err != nil {
		return nil, err
	}
	var result *entity.ValidationResult
	err = s.guarded(ctx, t.Platform(), func(ctx context.Context) error {
		var verr error
		result, verr = s.validate(ctx, t, native)
		return verr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ValidateTranslation reports whether a native query passes platform validation
func (s *TranslationService) ValidateTranslation(ctx context.Context, platform, native string) (bool, error) {
	result, err := s.Validate(ctx, platform, native)
	if err != nil {
		return false, err
	}
	return result.IsValid, nil
}

func (s *TranslationService) validate(ctx context.Context, t service.Translator, native string) (*entity.ValidationResult, error) {
	result, err := t.Validate(ctx, native)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		s.metrics.RecordValidationFailure(string(t.Platform()))
	}
	return result, nil
}

// guarded runs fn under the platform's rate limit and circuit breaker
func (s *TranslationService) guarded(ctx context.Context, platform entity.Platform, fn func(context.Context) error) error {
	if s.guard == nil {
		return fn(ctx)
	}
	_, err := s.guard.Execute(ctx, platform, func(ctx context.Context) (*entity.TranslationResult, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *TranslationService) run(
	ctx context.Context,
	source, target service.Translator,
	canonical *entity.CanonicalDetection,
	useCache bool,
	compute func(context.Context) (*entity.TranslationResult, error),
) (*entity.TranslationResult, error) {
	start := time.Now()
	src, dst := string(source.Platform()), string(target.Platform())
	logger := s.logger.WithContext(ctx)

	var (
		result *entity.TranslationResult
		cached bool
		err    error
	)
	if useCache && s.cache != nil {
		var key string
		key, err = s.cache.Key(source.Platform(), target.Platform(), canonical)
		if err == nil {
			result, cached, err = s.cache.GetOrCompute(ctx, key, compute)
		}
	} else {
		result, err = compute(ctx)
	}

	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordTranslation(src, dst, outcome(err), duration)
		s.recordError(err)
		logger.LogTranslation(src, dst, false, duration, logging.Err(err))
		return nil, err
	}

	status := "success"
	if cached {
		status = "cached"
	}
	s.metrics.RecordTranslation(src, dst, status, duration)
	logger.LogTranslation(src, dst, true, duration,
		logging.Bool("cached", cached),
		logging.Int("complexity_score", result.PerformanceMetrics.ComplexityScore))
	return result, nil
}

// translate normalises the detection through the source platform when
// requested, then renders and re-validates it for the target. Each side runs
// under its own platform's guard.
func (s *TranslationService) translate(ctx context.Context, source, target service.Translator, d *entity.CanonicalDetection, normalize bool) (*entity.TranslationResult, error) {
	canonical := d
	if normalize && source.Platform() != entity.PlatformSigma {
		err := s.guarded(ctx, source.Platform(), func(ctx context.Context) error {
			normalized, nerr := s.normalize(ctx, source, d)
			canonical = normalized
			return nerr
		})
		if err != nil {
			return nil, err
		}
	}

	var result *entity.TranslationResult
	err := s.guarded(ctx, target.Platform(), func(ctx context.Context) error {
		rendered, terr := target.Translate(ctx, canonical)
		if terr != nil {
			return terr
		}
		validation, verr := s.validate(ctx, target, rendered.Query)
		if verr != nil {
			return verr
		}
		if !validation.IsValid {
			return entity.NewValidationFailure(target.Platform(), "generated query failed re-validation")
		}
		result = rendered
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// normalize renders the detection in the source language and parses it back,
// keeping metadata and MITRE mappings the parser cannot recover.
func (s *TranslationService) normalize(ctx context.Context, source service.Translator, d *entity.CanonicalDetection) (*entity.CanonicalDetection, error) {
	rendered, err := source.Translate(ctx, d)
	if err != nil {
		return nil, err
	}
	parsed, err := source.TranslateFromNative(ctx, rendered.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to normalise through %s: %w", source.Platform(), err)
	}
	parsed.MitreMappings = d.MitreMappings
	parsed.Metadata = d.Metadata
	if parsed.DataModel == nil {
		parsed.DataModel = d.DataModel
	}
	return parsed, nil
}

func (s *TranslationService) recordError(err error) {
	var terr *entity.TranslationError
	if errors.As(err, &terr) {
		s.metrics.RecordTranslatorError(string(terr.Platform), string(terr.Stage))
	}
}

// outcome names the metric status of a failed translation
func outcome(err error) string {
	var (
		verr *entity.ValidationError
		rerr *entity.RateLimitedError
		cerr *entity.CircuitOpenError
	)
	switch {
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &rerr):
		return "rate_limited"
	case errors.As(err, &cerr):
		return "circuit_open"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "failed"
}
