package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

// task is one plugin invocation running under its own deadline.
// The engine starts tasks, may Cancel them, and joins them with Wait.
// A plugin that ignores cancellation is abandoned when its deadline passes:
// Wait returns and the plugin's goroutine is left to finish on its own.
// The plugin works on a copy of its PluginContext. The copy is folded back
// only when the plugin returns within its deadline; an abandoned plugin never
// touches the caller's context.
// NOTE: Use startTask to create a task.
type task struct {
	plugin *PluginInstance
	pctx   *pkg.PluginContext
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	span   trace.Span

	result  *pkg.Result
	err     error
	elapsed time.Duration
}

type taskOutcome struct {
	result *pkg.Result
	err    error
}

// startTask invokes pi in a new goroutine and returns immediately.
func startTask(
	parent context.Context,
	pi *PluginInstance,
	hookType string,
	payload any,
	pctx *pkg.PluginContext,
	timeout time.Duration,
) *task {
	ctx, cancel := context.WithTimeout(parent, timeout)

	t := &task{
		plugin: pi,
		pctx:   pctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Buffered so an abandoned plugin can still deliver and exit.
	outcomes := make(chan taskOutcome, 1)
	started := time.Now()

	var work *pkg.PluginContext
	if pctx != nil {
		work = pctx.Clone()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcomes <- taskOutcome{err: fmt.Errorf("%w: panic: %v", ErrPluginExecution, r)}
			}
		}()

		res, err := pi.Invoke(ctx, hookType, payload, work)
		outcomes <- taskOutcome{result: res, err: err}
	}()

	go func() {
		defer close(t.done)
		defer cancel()

		select {
		case o := <-outcomes:
			t.result, t.err = o.result, o.err
			if t.err == nil && ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// Finished, but only after the deadline.
				t.result, t.err = nil, context.DeadlineExceeded
				break
			}
			if pctx != nil {
				pctx.Adopt(work)
			}
		case <-ctx.Done():
			t.err = ctx.Err()
		}

		if t.err != nil {
			t.result = nil
			t.err = &PluginError{Plugin: pi.Name(), Hook: hookType, Err: normalizeError(t.err)}
		}
		t.elapsed = time.Since(started)
	}()

	return t
}

// Cancel asks the plugin to stop. It is safe to call more than once.
func (t *task) Cancel() {
	t.once.Do(t.cancel)
}

// Wait blocks until the plugin returns, its deadline passes, or it is cancelled.
func (t *task) Wait() (*pkg.Result, error) {
	<-t.done
	return t.result, t.err
}

// Done is closed when the task has an outcome.
func (t *task) Done() <-chan struct{} {
	return t.done
}

// isDeadline reports whether err represents an expired deadline, including
// one reported by a gRPC transport.
func isDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.DeadlineExceeded {
		return true
	}
	return false
}
