package lazyflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/birdayz/lazyflow/internal/sched"
	"github.com/birdayz/lazyflow/karray"
	"github.com/birdayz/lazyflow/kroi"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// RequestState is the lifecycle state of a Request.
type RequestState int32

const (
	RequestPending RequestState = iota
	RequestRunning
	RequestResolved
	RequestFailed
	RequestCancelled
)

func (s RequestState) String() string {
	switch s {
	case RequestPending:
		return "PENDING"
	case RequestRunning:
		return "RUNNING"
	case RequestResolved:
		return "RESOLVED"
	case RequestFailed:
		return "FAILED"
	case RequestCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("RequestState(%d)", int32(s))
	}
}

// Request is a lazily started computation of one region of one slot.
// Construction captures the slot, the region and the dtype; nothing runs
// until Wait or Submit.
type Request struct {
	g     *Graph
	out   *OutputSlot
	in    *InputSlot
	value *karray.Array
	roi   kroi.ROI
	dtype karray.DType

	state atomic.Int32
	done  chan struct{}

	// Written once before done is closed.
	result *karray.Array
	err    error

	mu              sync.Mutex
	cancelFn        context.CancelFunc
	cancelRequested bool
}

func newRequest(g *Graph, out *OutputSlot, in *InputSlot, value *karray.Array, roi kroi.ROI, dtype karray.DType) *Request {
	g.requests.Add(1)
	return &Request{
		g:     g,
		out:   out,
		in:    in,
		value: value,
		roi:   roi,
		dtype: dtype,
		done:  make(chan struct{}),
	}
}

// ROI returns the requested region.
func (r *Request) ROI() kroi.ROI { return r.roi }

// Slot returns the output the request computes, or nil when it reads a
// literal input value.
func (r *Request) Slot() *OutputSlot { return r.out }

// State returns the current lifecycle state.
func (r *Request) State() RequestState { return RequestState(r.state.Load()) }

// Done is closed once the request reached a terminal state.
func (r *Request) Done() <-chan struct{} { return r.done }

func (r *Request) target() string {
	if r.out != nil {
		return r.out.String()
	}
	return r.in.String()
}

// Submit starts the request on the worker pool and returns immediately. It
// does nothing if the request already started. The execution context derives
// from ctx.
func (r *Request) Submit(ctx context.Context) *Request {
	ectx, ok := r.begin(ctx)
	if !ok {
		return r
	}
	r.g.pool.Go(ectx, r.body, func(err error) {
		if err != nil {
			r.complete(ectx, nil, err)
		}
	})
	return r
}

// Wait starts the request if needed and blocks until it finishes or ctx is
// done. An unstarted request runs on the calling goroutine. Waiting inside
// an Execute body yields the caller's worker slot until the result is
// available. Repeated calls return the same result.
//
// The returned array is shared between all waiters and must not be modified.
func (r *Request) Wait(ctx context.Context) (*karray.Array, error) {
	if ectx, ok := r.begin(ctx); ok {
		if err := r.g.pool.Run(ectx, r.body); err != nil {
			r.complete(ectx, nil, err)
		}
	}

	select {
	case <-r.done:
		return r.result, r.err
	default:
	}

	err := sched.Suspend(ctx, func(ctx context.Context) error {
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	select {
	case <-r.done:
		return r.result, r.err
	default:
	}
	return nil, fmt.Errorf("%w: waiting for %s%s: %w", ErrCancelled, r.target(), r.roi, err)
}

// Cancel cancels the request. A pending request is cancelled immediately; a
// running one has its execution context cancelled and is expected to stop at
// its next nested Wait. Cancelling a finished request does nothing.
func (r *Request) Cancel() {
	if r.state.CompareAndSwap(int32(RequestPending), int32(RequestCancelled)) {
		r.err = fmt.Errorf("%w: %s%s", ErrCancelled, r.target(), r.roi)
		close(r.done)
		return
	}

	r.mu.Lock()
	r.cancelRequested = true
	cancel := r.cancelFn
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// begin moves the request to Running. Only the first caller wins.
func (r *Request) begin(ctx context.Context) (context.Context, bool) {
	if !r.state.CompareAndSwap(int32(RequestPending), int32(RequestRunning)) {
		return nil, false
	}
	ectx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelFn = cancel
	if r.cancelRequested {
		cancel()
	}
	r.mu.Unlock()
	return ectx, true
}

func (r *Request) body(ctx context.Context) error {
	result, err := r.compute(ctx)
	r.complete(ctx, result, err)
	return nil
}

func (r *Request) compute(ctx context.Context) (*karray.Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.value != nil {
		return r.value.Region(r.roi)
	}

	out := r.out
	n := out.node
	if s := out.firstUnready(); s != "" {
		return nil, &NotReadyError{Slot: s}
	}

	result, err := karray.New(r.dtype, r.roi.Shape())
	if err != nil {
		return nil, &ExecuteError{Node: n.name, Slot: out.name, ROI: r.roi, Cause: err}
	}

	log := r.g.log.WithValues("node", n.name, "slot", out.name)
	log.V(2).Info("Request running", "roi", r.roi.String())
	ctx = logr.NewContext(ctx, log)

	err = r.g.execFn(ctx, ExecuteCall{Node: n, Slot: out, ROI: r.roi, Result: result})
	if err != nil {
		var ee *ExecuteError
		if errors.As(err, &ee) || errors.Is(err, ErrCancelled) || errors.Is(err, ErrNotReady) {
			return nil, err
		}
		return nil, &ExecuteError{Node: n.name, Slot: out.name, ROI: r.roi, Cause: err}
	}
	if !result.Shape().Equal(r.roi.Shape()) || result.DType() != r.dtype {
		return nil, &ExecuteError{Node: n.name, Slot: out.name, ROI: r.roi,
			Cause: fmt.Errorf("%w: result is %s %s", ErrShapeMismatch, result.DType(), result.Shape())}
	}
	return result, nil
}

// complete records the outcome and releases all waiters. A request whose
// own execution context ended is Cancelled; any other error makes it Failed.
func (r *Request) complete(ctx context.Context, result *karray.Array, err error) {
	r.mu.Lock()
	cancelled := r.cancelRequested
	cancel := r.cancelFn
	r.mu.Unlock()

	state := RequestResolved
	switch {
	case err == nil:
	case cancelled || ctx.Err() != nil:
		state = RequestCancelled
		if !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %s%s: %w", ErrCancelled, r.target(), r.roi, err)
		}
	default:
		state = RequestFailed
	}
	if err != nil {
		result = nil
		r.g.failed.Add(1)
		r.g.log.V(2).Info("Request finished", "slot", r.target(), "roi", r.roi.String(), "state", state.String(), "error", err.Error())
	}

	r.result, r.err = result, err
	r.state.Store(int32(state))
	close(r.done)
	if cancel != nil {
		cancel()
	}
}

// WaitAll starts all requests concurrently and waits for them. The first
// failure cancels the remaining requests and is returned. The caller's
// worker slot is yielded while waiting.
func WaitAll(ctx context.Context, reqs ...*Request) ([]*karray.Array, error) {
	results := make([]*karray.Array, len(reqs))
	err := sched.Suspend(ctx, func(ctx context.Context) error {
		grp, gctx := errgroup.WithContext(ctx)
		for i, req := range reqs {
			i, req := i, req
			grp.Go(func() error {
				res, err := req.Wait(gctx)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		err := grp.Wait()
		if err != nil {
			for _, req := range reqs {
				req.Cancel()
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
