package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errBoom = errors.New("boom")

func failing(context.Context) (interface{}, error) { return nil, errBoom }

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Name: "test", FailureThreshold: 3, Timeout: time.Minute}, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, failing)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	_, err := cb.Execute(ctx, func(context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	snap := cb.Snapshot()
	assert.False(t, snap.LastFailure.IsZero())
}

func TestCircuitBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	ignored := errors.New("caller error")
	cb := NewCircuitBreaker(&Config{
		Name:             "test",
		FailureThreshold: 2,
		Timeout:          time.Minute,
		IsSuccessful:     func(err error) bool { return errors.Is(err, ignored) },
	}, nil)

	for i := 0; i < 5; i++ {
		_, err := cb.Execute(context.Background(), func(context.Context) (interface{}, error) { return nil, ignored })
		assert.ErrorIs(t, err, ignored)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(&Config{
		Name:             "probe",
		FailureThreshold: 1,
		Timeout:          20 * time.Millisecond,
		OnStateChange: func(_ string, from, to string) {
			transitions = append(transitions, from+"->"+to)
		},
	}, nil)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failing)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(ctx, func(context.Context) (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestManager_GetOrCreate(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))

	a := m.GetOrCreate("splunk", nil)
	b := m.GetOrCreate("splunk", nil)
	assert.Same(t, a, b)

	m.GetOrCreate("chronicle", &Config{FailureThreshold: 2})
	got, ok := m.Get("chronicle")
	require.True(t, ok)
	assert.Equal(t, "chronicle", got.Name())
	assert.Equal(t, StateClosed, got.Snapshot().State)

	_, ok = m.Get("sentinel")
	assert.False(t, ok)
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := NewCircuitBreaker(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, failing)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(0), cb.Snapshot().Requests)
}
