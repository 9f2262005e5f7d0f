package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/metrics"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
)

type failingWrites struct {
	*MemoryCache
}

func (f failingWrites) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("backend unavailable")
}

func detection(name string) *entity.CanonicalDetection {
	return &entity.CanonicalDetection{
		Query: map[string]entity.Condition{
			"process.name": {Operator: entity.OperatorEquals, Value: name},
		},
		DataModel: &entity.DataModel{Source: entity.DataSourceProcess},
	}
}

func sampleResult() *entity.TranslationResult {
	return &entity.TranslationResult{
		Query:             "SecurityEvent\n| where ProcessName == 'cmd.exe'\n| project ProcessName",
		Platform:          entity.PlatformSentinel,
		FieldMappingsUsed: map[string]string{"process.name": "ProcessName"},
		PerformanceMetrics: entity.PerformanceMetrics{ComplexityScore: 12},
		Validation: entity.ValidationResult{
			IsValid:  true,
			Metrics:  entity.ValidationMetrics{ComplexityScore: 12, FieldCount: 1},
			Warnings: []string{"note"},
		},
	}
}

func newTestCache(t *testing.T) (*TranslationCache, *metrics.Collector) {
	backend, err := NewMemoryCache(16)
	require.NoError(t, err)
	collector := metrics.NewCollector("test")
	return NewTranslationCache(backend, time.Minute, logging.NewFromZap(zaptest.NewLogger(t), "test"), collector), collector
}

func TestKey(t *testing.T) {
	a, err := Key(entity.PlatformSigma, entity.PlatformSentinel, detection("cmd.exe"))
	require.NoError(t, err)
	b, err := Key(entity.PlatformSigma, entity.PlatformSentinel, detection("cmd.exe"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, len(keyPrefix)+64)

	other, _ := Key(entity.PlatformSigma, entity.PlatformSplunk, detection("cmd.exe"))
	assert.NotEqual(t, a, other)
	other, _ = Key(entity.PlatformSigma, entity.PlatformSentinel, detection("powershell.exe"))
	assert.NotEqual(t, a, other)
}

func TestTranslationCache_SetAndGet(t *testing.T) {
	ctx := context.Background()
	c, collector := newTestCache(t)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", sampleResult()))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleResult(), got)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.CacheOperations.WithLabelValues("get", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.CacheOperations.WithLabelValues("get", "miss")))
}

func TestTranslationCache_GetOrComputeRunsOnce(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	var calls int32
	compute := func(context.Context) (*entity.TranslationResult, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return sampleResult(), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, _, err := c.GetOrCompute(ctx, "k", compute)
			assert.NoError(t, err)
			assert.Equal(t, sampleResult().Query, result.Query)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, cached, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTranslationCache_FailuresAreNotCached(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	boom := errors.New("boom")

	_, _, err := c.GetOrCompute(ctx, "k", func(context.Context) (*entity.TranslationResult, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTranslationCache_WriteFailureIsSwallowed(t *testing.T) {
	memory, err := NewMemoryCache(4)
	require.NoError(t, err)
	c := NewTranslationCache(failingWrites{memory}, time.Minute, nil, nil)

	result, cached, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (*entity.TranslationResult, error) {
		return sampleResult(), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, sampleResult(), result)
}

func TestTranslationCache_DropsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	backend, err := NewMemoryCache(4)
	require.NoError(t, err)
	c := NewTranslationCache(backend, time.Minute, nil, nil)

	require.NoError(t, backend.Set(ctx, "k", []byte{0xc1}, 0))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, backend.Len())
}

func TestTranslationCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, collector := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", sampleResult()))
	require.NoError(t, c.Invalidate(ctx, "k"))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.CacheOperations.WithLabelValues("delete", "success")))
}
