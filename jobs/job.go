// Package jobs runs detection and calibration off the caller's goroutine. A Job reports progress and
// per-image detections over channels and hands back its result once, through Wait.
package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/detection/chessboard"
	"go.viam.com/camcalib/utils"
)

// ProgressBufferSize is how many progress events a job holds for a slow consumer before dropping new ones.
const ProgressBufferSize = 64

// Progress is one progress event.
type Progress struct {
	Current int
	Total   int
	Message string
}

// State is a job's lifecycle stage.
type State string

// Job states. Every job ends in exactly one of the last three.
const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Job is a handle to a computation running in the background.
type Job[T any] struct {
	ID uuid.UUID

	logger     logging.Logger
	progress   chan Progress
	detections chan chessboard.Detection
	done       chan struct{}
	cancel     context.CancelFunc
	workers    *utils.StoppableWorkers

	finishOnce sync.Once
	result     T
	err        error

	state   *atomic.String
	dropped *atomic.Int64
}

// start runs fn in a stoppable worker. detectionBuffer sizes the detection channel; zero leaves the job
// without one.
func start[T any](
	ctx context.Context,
	name string,
	logger logging.Logger,
	detectionBuffer int,
	fn func(ctx context.Context, j *Job[T]) (T, error),
) *Job[T] {
	id := uuid.New()
	ctx, cancel := context.WithCancel(ctx)
	j := &Job[T]{
		ID:       id,
		logger:   logger.Sublogger(name),
		progress: make(chan Progress, ProgressBufferSize),
		done:     make(chan struct{}),
		cancel:   cancel,
		state:    atomic.NewString(string(StateRunning)),
		dropped:  atomic.NewInt64(0),
	}
	if detectionBuffer > 0 {
		j.detections = make(chan chessboard.Detection, detectionBuffer)
	}
	j.logger.Debugw("job started", "id", id)
	j.workers = utils.NewStoppableWorkersWithContext(ctx, func(err error) {
		var zero T
		j.finish(zero, err)
	}, func(ctx context.Context) {
		res, err := fn(ctx, j)
		j.finish(res, err)
	})
	return j
}

// finish sets the result slot, closes the event channels and then Done. Only the first call has effect.
func (j *Job[T]) finish(res T, err error) {
	j.finishOnce.Do(func() {
		j.result, j.err = res, err
		switch {
		case err == nil:
			j.state.Store(string(StateSucceeded))
		case errors.Is(err, context.Canceled):
			j.state.Store(string(StateCancelled))
		default:
			j.state.Store(string(StateFailed))
		}
		close(j.progress)
		if j.detections != nil {
			close(j.detections)
		}
		j.logger.Debugw("job finished", "id", j.ID, "state", j.state.Load(), "dropped_progress", j.dropped.Load())
		close(j.done)
		j.cancel()
	})
}

// report queues a progress event, dropping it if the consumer is behind.
func (j *Job[T]) report(current, total int, message string) {
	select {
	case j.progress <- Progress{Current: current, Total: total, Message: message}:
	default:
		j.dropped.Inc()
		j.logger.Debugw("progress dropped", "id", j.ID, "message", message)
	}
}

// progressFunc adapts report to the callback the detector and calibrator take.
func (j *Job[T]) progressFunc() utils.ProgressFunc {
	return j.report
}

func (j *Job[T]) emit(det chessboard.Detection) {
	if j.detections != nil {
		j.detections <- det
	}
}

// Progress returns the job's progress events. The channel is closed when the job finishes.
func (j *Job[T]) Progress() <-chan Progress {
	return j.progress
}

// Detections returns one detection per processed image, closed when the job finishes. Jobs that detect
// nothing return a nil channel.
func (j *Job[T]) Detections() <-chan chessboard.Detection {
	return j.detections
}

// Done is closed once the result is available.
func (j *Job[T]) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx is done, whichever is first.
func (j *Job[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel asks the job to stop. Work stops between images; a solver call already running completes first.
func (j *Job[T]) Cancel() {
	j.cancel()
}

// Stop cancels the job and waits for its worker to exit.
func (j *Job[T]) Stop() {
	j.workers.Stop()
}

// State reports where the job is in its lifecycle.
func (j *Job[T]) State() State {
	return State(j.state.Load())
}

// DroppedProgress counts progress events discarded because the consumer was behind.
func (j *Job[T]) DroppedProgress() int64 {
	return j.dropped.Load()
}
