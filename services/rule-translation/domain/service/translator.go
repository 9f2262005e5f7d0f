package service

import (
	"context"
	"time"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

// Translator converts canonical detections to and from one platform's native query language
type Translator interface {
	// Platform returns the platform the translator targets
	Platform() entity.Platform

	// Translate generates a native query and validates it before returning
	Translate(ctx context.Context, detection *entity.CanonicalDetection) (*entity.TranslationResult, error)

	// TranslateFromNative parses a native query back into a canonical detection.
	// The mapping is best-effort and lossy.
	TranslateFromNative(ctx context.Context, native string) (*entity.CanonicalDetection, error)

	// Validate checks a native query against the platform's rules
	Validate(ctx context.Context, native string) (*entity.ValidationResult, error)
}

// Cache is a byte-oriented key/value store with expiry
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
