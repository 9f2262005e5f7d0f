package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/metrics"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/service"
)

const keyPrefix = "translation:"

// DefaultTTL applies when no expiry is configured
const DefaultTTL = time.Hour

// TranslationCache stores translation results in a byte cache, keyed by a
// digest of the request. Concurrent computations for one key are collapsed
// so at most one writer runs per key.
type TranslationCache struct {
	backend service.Cache
	ttl     time.Duration
	group   singleflight.Group
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewTranslationCache wraps backend. A nil collector disables cache metrics.
func NewTranslationCache(backend service.Cache, ttl time.Duration, logger *logging.Logger, collector *metrics.Collector) *TranslationCache {
	if logger == nil {
		logger = logging.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TranslationCache{
		backend: backend,
		ttl:     ttl,
		logger:  logger.WithComponent("translation_cache"),
		metrics: collector,
	}
}

// Key derives the cache key from the platform pair and the canonical detection.
// encoding/json sorts map keys, so equal detections hash equally.
func Key(source, target entity.Platform, d *entity.CanonicalDetection) (string, error) {
	payload, err := json.Marshal(struct {
		Source    entity.Platform            `json:"source"`
		Target    entity.Platform            `json:"target"`
		Canonical *entity.CanonicalDetection `json:"canonical"`
	}{source, target, d})
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	sum := sha256.Sum256(payload)
	return keyPrefix + hex.EncodeToString(sum[:]), nil
}

// Key derives the cache key of a request, see the package-level Key
func (c *TranslationCache) Key(source, target entity.Platform, d *entity.CanonicalDetection) (string, error) {
	return Key(source, target, d)
}

// Get returns the cached result for key. Undecodable entries are dropped and
// reported as misses.
func (c *TranslationCache) Get(ctx context.Context, key string) (*entity.TranslationResult, bool, error) {
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.record("get", "error")
		return nil, false, err
	}
	if !ok {
		c.record("get", "miss")
		return nil, false, nil
	}

	result, err := decodeResult(data)
	if err != nil {
		c.logger.Warn("Dropping undecodable cache entry",
			logging.String("cache_key", key),
			logging.Err(err),
		)
		if delErr := c.backend.Delete(ctx, key); delErr != nil {
			c.logger.Debug("Failed to delete cache entry", logging.String("cache_key", key), logging.Err(delErr))
		}
		c.record("get", "miss")
		return nil, false, nil
	}

	c.record("get", "hit")
	return result, true, nil
}

// Set stores result under key with the configured ttl
func (c *TranslationCache) Set(ctx context.Context, key string, result *entity.TranslationResult) error {
	data, err := encodeResult(result)
	if err != nil {
		c.record("set", "error")
		return err
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.record("set", "error")
		return err
	}
	c.record("set", "success")
	return nil
}

// GetOrCompute returns the cached result or runs compute once per key across
// concurrent callers and stores its result. Store failures are logged and
// swallowed; compute failures are returned and never cached. cached reports
// whether the result came from the cache.
func (c *TranslationCache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (*entity.TranslationResult, error)) (result *entity.TranslationResult, cached bool, err error) {
	if hit, ok, err := c.Get(ctx, key); err == nil && ok {
		return hit, true, nil
	} else if err != nil {
		c.logger.Warn("Cache read failed, translating without cache",
			logging.String("cache_key", key),
			logging.Err(err),
		)
	}

	type outcome struct {
		result *entity.TranslationResult
		cached bool
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// another flight may have stored the entry while this one waited
		if hit, ok, err := c.Get(ctx, key); err == nil && ok {
			return outcome{result: hit, cached: true}, nil
		}

		computed, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, computed); err != nil {
			c.logger.Warn("Cache write failed",
				logging.String("cache_key", key),
				logging.Err(err),
			)
		}
		return outcome{result: computed}, nil
	})
	if err != nil {
		return nil, false, err
	}
	out := v.(outcome)
	return out.result, out.cached, nil
}

// Invalidate removes key
func (c *TranslationCache) Invalidate(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, key); err != nil {
		c.record("delete", "error")
		return err
	}
	c.record("delete", "success")
	return nil
}

func (c *TranslationCache) record(operation, result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheOperation(operation, result)
	}
}

func encodeResult(result *entity.TranslationResult) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(result); err != nil {
		return nil, fmt.Errorf("failed to encode translation result: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeResult(data []byte) (*entity.TranslationResult, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	var result entity.TranslationResult
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode translation result: %w", err)
	}
	return &result, nil
}
