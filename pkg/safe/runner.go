package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"paylink.io/pkg/logger"
)

// Go runs fn in a goroutine and logs instead of crashing on panic.
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx is Go with a context, so the panic log keeps trace and request ids.
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "goroutine panic recovered",
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
			}
		}()

		fn(ctx)
	}()
}
