package utils

import (
	"context"
	"fmt"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers runs background functions that share one cancellable context.
type StoppableWorkers struct {
	ctx     context.Context
	cancel  context.CancelFunc
	onPanic func(error)

	mu      sync.Mutex
	stopped bool
	running sync.WaitGroup
}

// NewStoppableWorkers starts funcs under a background context.
func NewStoppableWorkers(funcs ...func(context.Context)) *StoppableWorkers {
	return NewStoppableWorkersWithContext(context.Background(), nil, funcs...)
}

// NewStoppableWorkersWithContext starts funcs under a context derived from parent. A worker that panics
// is reported to onPanic, if set, instead of crashing the process.
func NewStoppableWorkersWithContext(
	parent context.Context,
	onPanic func(error),
	funcs ...func(context.Context),
) *StoppableWorkers {
	ctx, cancel := context.WithCancel(parent)
	sw := &StoppableWorkers{ctx: ctx, cancel: cancel, onPanic: onPanic}
	sw.AddWorkers(funcs...)
	return sw
}

// AddWorkers starts more functions. It does nothing once Stop has been called.
func (sw *StoppableWorkers) AddWorkers(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.stopped {
		return
	}
	for _, f := range funcs {
		sw.running.Add(1)
		goutils.PanicCapturingGoWithCallback(func() {
			defer sw.running.Done()
			f(sw.ctx)
		}, sw.reportPanic)
	}
}

func (sw *StoppableWorkers) reportPanic(err interface{}) {
	if sw.onPanic != nil {
		sw.onPanic(fmt.Errorf("worker panicked: %v", err))
	}
}

// Stop cancels the shared context and waits for every worker to return.
func (sw *StoppableWorkers) Stop() {
	sw.mu.Lock()
	sw.stopped = true
	sw.mu.Unlock()
	sw.cancel()
	sw.running.Wait()
}

// Context is the context workers receive.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.ctx
}
