package logger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	l, err := New(Config{Level: "debug", Encoding: "console", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = New(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestGetConcurrentFirstUse(t *testing.T) {
	defer Replace(nil)()

	got := make([]*zap.Logger, 16)
	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = Get()
		}()
	}
	wg.Wait()

	require.NotNil(t, got[0])
	for _, l := range got {
		assert.Same(t, got[0], l)
	}
}

func TestInitReplacesGlobal(t *testing.T) {
	defer Replace(nil)()

	before := Get()
	require.NoError(t, Init(Config{Level: "warn", OutputPaths: []string{filepath.Join(t.TempDir(), "log.json")}}))
	after := Get()
	assert.NotSame(t, before, after)
	assert.False(t, after.Core().Enabled(zapcore.InfoLevel))
	assert.NoError(t, Sync())

	assert.Error(t, Init(Config{Level: "chatty"}))
	assert.Same(t, after, Get())
}

func TestWithContext(t *testing.T) {
	obs, logs := observer.New(zapcore.InfoLevel)
	defer Replace(zap.New(obs))()

	ctx := WithSource(WithStreamer(context.Background(), "s1"), "patients")
	WithContext(ctx).Info("hello")
	WithContext(context.Background()).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]interface{}{"streamer": "s1", "source": "patients"}, entries[0].ContextMap())
	assert.Empty(t, entries[1].ContextMap())
}
