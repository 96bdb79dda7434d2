package lazyflow

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kroi"
	"github.com/go-logr/logr"
)

// ExecuteCall describes one invocation of Operator.Execute.
type ExecuteCall struct {
	Node     *Node
	Slot     *OutputSlot
	Subindex []int
	ROI      kroi.ROI
	Result   *karray.Array
}

// ExecuteHandler is the actual execution function
type ExecuteHandler func(ctx context.Context, call ExecuteCall) error

// ExecuteInterceptor wraps operator execution with custom logic.
// Signature matches gRPC's interceptor pattern: (ctx, req, handler) -> error
type ExecuteInterceptor func(ctx context.Context, call ExecuteCall, next ExecuteHandler) error

// chainInterceptors builds the handler chain. Interceptors execute
// outer-to-inner (first interceptor wraps all others).
func chainInterceptors(interceptors []ExecuteInterceptor, final ExecuteHandler) ExecuteHandler {
	handler := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		next := handler
		handler = func(ctx context.Context, call ExecuteCall) error {
			return interceptor(ctx, call, next)
		}
	}
	return handler
}

// LoggingInterceptor logs before and after execution
func LoggingInterceptor(log logr.Logger) ExecuteInterceptor {
	return func(ctx context.Context, call ExecuteCall, next ExecuteHandler) error {
		log.V(2).Info("Executing", "node", call.Node.Name(), "slot", call.Slot.Name(), "roi", call.ROI.String())

		err := next(ctx, call)

		if err != nil {
			log.Error(err, "Execution failed", "node", call.Node.Name(), "slot", call.Slot.Name())
		} else {
			log.V(2).Info("Execution succeeded", "node", call.Node.Name(), "slot", call.Slot.Name())
		}

		return err
	}
}

// MetricsInterceptor tracks execution counts and time
func MetricsInterceptor(executed *atomic.Int64, executionTime *atomic.Int64) ExecuteInterceptor {
	return func(ctx context.Context, call ExecuteCall, next ExecuteHandler) error {
		start := time.Now()
		err := next(ctx, call)
		duration := time.Since(start)

		executed.Add(1)
		executionTime.Add(int64(duration))

		return err
	}
}
