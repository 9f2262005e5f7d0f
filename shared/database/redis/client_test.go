package redis

import (
	"bytes"
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/shared/common"
)

type countingRetrier struct {
	attempts int
	calls    int
}

func (r *countingRetrier) Do(ctx context.Context, operation func(context.Context) error) error {
	var err error
	for i := 0; i < r.attempts; i++ {
		r.calls++
		if err = operation(ctx); err == nil {
			return nil
		}
	}
	return err
}

func newTestClient(t *testing.T, compression bool, retrier Retrier) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := NewClient(common.RedisConfig{
		Host:        mr.Host(),
		Port:        port,
		KeyPrefix:   "rules",
		Compression: compression,
		DialTimeout: time.Second,
	}, retrier, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestClient_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t, false, nil)

	_, ok, err := client.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.Set(ctx, "k", []byte("value"), time.Minute))
	assert.True(t, mr.Exists("rules:k"))

	got, ok, err := client.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, client.Delete(ctx, "k"))
	assert.False(t, mr.Exists("rules:k"))
}

func TestClient_Expiry(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t, false, nil)

	require.NoError(t, client.Set(ctx, "k", []byte("value"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_Compression(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t, true, nil)
	value := bytes.Repeat([]byte("SecurityEvent | where ProcessName == 'cmd.exe' "), 50)

	require.NoError(t, client.Set(ctx, "k", value, 0))

	stored, err := mr.Get("rules:k")
	require.NoError(t, err)
	assert.Equal(t, frameLZ4, stored[0])
	assert.Less(t, len(stored), len(value))

	got, ok, err := client.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, got)
}

func TestClient_RetriesAndWrapsErrors(t *testing.T) {
	ctx := context.Background()
	retrier := &countingRetrier{attempts: 3}
	client, mr := newTestClient(t, false, retrier)

	retrier.calls = 0
	mr.Close()

	_, _, err := client.Get(ctx, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get k")
	assert.Equal(t, 3, retrier.calls)
}

func TestClient_UnknownEncoding(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t, false, nil)

	require.NoError(t, mr.Set("rules:k", "\x07junk"))
	_, _, err := client.Get(ctx, "k")
	assert.Error(t, err)
}
