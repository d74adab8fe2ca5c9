package safe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"paylink.io/pkg/logger"
)

func TestGo_RecoversPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })

	Go(func() { panic("boom") })

	require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 5*time.Millisecond)
	entry := logs.All()[0]
	assert.Equal(t, "goroutine panic recovered", entry.Message)
	assert.Equal(t, "boom", entry.ContextMap()["panic"])
}

func TestGoCtx_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	var wg sync.WaitGroup
	wg.Add(1)
	var got interface{}
	GoCtx(ctx, func(ctx context.Context) {
		defer wg.Done()
		got = ctx.Value(key{})
	})
	wg.Wait()

	assert.Equal(t, "v", got)
}
