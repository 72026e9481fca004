package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/metrics"
)

// FetchFunc is the producer side of a bridge. It runs on the task goroutine, enqueues
// with ch.Put and returns when the remote call completes. Returning nil signals done;
// returning an error signals that failure. A fetch may also signal explicitly, in
// which case its return value is ignored.
type FetchFunc[T any] func(ctx context.Context, ch *Channel[T]) error

// State is the lifecycle position of a Task.
type State int

// Task states.
const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateAbandoning
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateAbandoning:
		return "abandoning"
	case StateJoined:
		return "joined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is how a joined Task ended.
type Outcome int

// Task outcomes. OutcomePending is reported until Finish returns.
const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailure
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// errAbandonRequested is the cancellation cause of an abandoned task context.
var errAbandonRequested = fmt.Errorf("abandon requested: %w", ErrAbandoned)

// errShutdownRequested is the cancellation cause of a task abandoned by its Supervisor.
var errShutdownRequested = fmt.Errorf("shutdown requested: %w", ErrInterrupted)

// endpoint is the consumer-facing half of a channel as seen by its task.
type endpoint interface {
	abandon()
	isTerminated() bool
	abandonedEarly() bool
	terminate(err error) bool
	recordViolation(v *Error)
	recordedViolation() *Error
	markFinished()
	transferred() int64
	pending() int
	Err() error
}

// Task owns the goroutine running one fetch.
type Task struct {
	name       string
	logger     *zap.Logger
	supervisor *Supervisor

	ch     endpoint
	parent context.Context
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc

	started time.Time
	done    chan struct{}

	running          atomic.Bool
	abandonRequested atomic.Bool
	interrupted      atomic.Bool
	finished         atomic.Bool
	joined           atomic.Bool
	outcome          atomic.Int32
}

// Start creates a channel of the given capacity and launches fetch on a new
// goroutine. The caller must eventually call Finish on the returned Task.
func Start[T any](ctx context.Context, capacity int, fetch FetchFunc[T], opts ...Option) (*Channel[T], *Task) {
	ch := NewChannel[T](capacity)
	t := newTask(ctx, ch, opts)
	t.launch(func(taskCtx context.Context) error {
		return fetch(taskCtx, ch)
	})
	return ch, t
}

func newTask(ctx context.Context, ch endpoint, opts []Option) *Task {
	o := buildOptions(opts)
	taskCtx, cancel := context.WithCancelCause(ctx)
	stop := context.CancelFunc(func() {})
	if o.timeout > 0 {
		taskCtx, stop = context.WithTimeout(taskCtx, o.timeout)
	}
	return &Task{
		name:       o.name,
		logger:     o.logger,
		supervisor: o.supervisor,
		ch:         ch,
		parent:     ctx,
		ctx:        taskCtx,
		cancel:     cancel,
		stop:       stop,
		done:       make(chan struct{}),
	}
}

func (t *Task) launch(run func(context.Context) error) {
	t.started = time.Now()
	t.running.Store(true)
	metrics.IncActiveTasks()
	if t.supervisor != nil {
		t.supervisor.track(t)
	}
	go t.run(run)
}

func (t *Task) run(run func(context.Context) error) {
	defer close(t.done)
	defer metrics.DecActiveTasks()

	panicked, err := t.invoke(run)
	if panicked != nil {
		if !t.ch.terminate(panicked) {
			t.ch.recordViolation(panicked)
		}
		return
	}
	if !t.ch.isTerminated() {
		t.ch.terminate(err)
		return
	}
	if err != nil && !isCancellation(err) {
		t.logger.Debug("fetch error after terminal signal ignored",
			zap.String("task", t.name), zap.Error(err))
	}
}

// invoke runs the fetch, converting a panic into a contract violation.
func (t *Task) invoke(run func(context.Context) error) (panicked *Error, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*Error); ok && e.Kind == KindContractViolation {
				panicked = e
				return
			}
			panicked = violation(t.name, fmt.Sprintf("fetch panicked: %v", r), nil)
		}
	}()
	return nil, run(t.ctx)
}

// Name identifies the task in logs and metrics.
func (t *Task) Name() string {
	return t.name
}

// Context is the task context handed to the fetch.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Done is closed when the producer goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// RequestAbandon abandons the channel and cancels the task context so a producer
// blocked inside a remote call is interrupted. It is safe to call from any goroutine
// and more than once.
func (t *Task) RequestAbandon() {
	if !t.abandonRequested.CompareAndSwap(false, true) {
		return
	}
	t.ch.abandon()
	t.cancel(errAbandonRequested)
}

// interrupt abandons the task on behalf of the host. A task that had not delivered
// everything reports KindInterrupted from Finish instead of a clean cancellation.
func (t *Task) interrupt() {
	t.interrupted.Store(true)
	if !t.abandonRequested.CompareAndSwap(false, true) {
		return
	}
	t.ch.abandon()
	t.cancel(errShutdownRequested)
}

// Finish abandons the fetch if it is still running, waits for its goroutine to exit
// and returns the classified failure. It has no timeout: a producer ignoring both the
// abandoned flag and its context blocks Finish. A consumer abandonment returns nil
// with Outcome OutcomeCancelled; items still queued count as an abandonment. A task
// stopped short by Supervisor.Shutdown returns KindInterrupted. Calling Finish twice
// is a contract violation.
func (t *Task) Finish() error {
	if !t.finished.CompareAndSwap(false, true) {
		return violation(t.name, "finish called twice", nil)
	}
	t.RequestAbandon()
	<-t.done
	t.stop()
	t.ch.markFinished()
	t.joined.Store(true)

	outcome, err := t.classify()
	t.outcome.Store(int32(outcome))
	t.report(err, outcome)
	if t.supervisor != nil {
		t.supervisor.untrack(t)
	}
	return err
}

// State reports the task lifecycle position.
func (t *Task) State() State {
	switch {
	case t.joined.Load():
		return StateJoined
	case t.abandonRequested.Load():
		return StateAbandoning
	case !t.running.Load():
		return StateCreated
	case t.ch.isTerminated():
		return StateDraining
	default:
		return StateRunning
	}
}

// Outcome reports how the task ended. It is OutcomePending until Finish returns.
func (t *Task) Outcome() Outcome {
	return Outcome(t.outcome.Load())
}

func (t *Task) classify() (Outcome, error) {
	if v := t.ch.recordedViolation(); v != nil {
		return OutcomeFailure, v
	}
	failure := t.ch.Err()
	early := t.ch.abandonedEarly() || t.ch.pending() > 0
	if t.interrupted.Load() && (early || failure != nil) {
		var be *Error
		if errors.As(failure, &be) && (be.Kind == KindProtocol || be.Kind == KindContractViolation) {
			return OutcomeFailure, failure
		}
		cause := ErrInterrupted
		if failure != nil {
			cause = fmt.Errorf("%w: %w", ErrInterrupted, failure)
		}
		return OutcomeFailure, &Error{Kind: KindInterrupted, Op: t.name, Err: cause}
	}
	if failure == nil {
		if early {
			return OutcomeCancelled, nil
		}
		return OutcomeSuccess, nil
	}
	if err := t.translate(failure, early); err != nil {
		return OutcomeFailure, err
	}
	return OutcomeCancelled, nil
}

// translate maps a producer failure onto the consumer-facing kinds. A nil result
// means the failure was caused by the consumer walking away.
func (t *Task) translate(failure error, early bool) error {
	var be *Error
	if errors.As(failure, &be) && (be.Kind == KindProtocol || be.Kind == KindContractViolation) {
		return failure
	}
	if errors.Is(t.parent.Err(), context.Canceled) || (be != nil && be.Kind == KindInterrupted) {
		return &Error{Kind: KindInterrupted, Op: t.name, Message: "fetch interrupted", Err: failure}
	}
	if isCancellation(failure) {
		switch {
		case early:
			return nil
		case errors.Is(failure, context.DeadlineExceeded):
			return &Error{Kind: KindRemoteIO, Op: t.name, Message: "timeout", Err: failure}
		case be != nil && be.Kind == KindCancelled:
			return nil
		}
	}
	if be != nil {
		return failure
	}
	return &Error{Kind: KindRemoteIO, Op: t.name, Err: failure}
}

func (t *Task) report(err error, outcome Outcome) {
	elapsed := time.Since(t.started)
	kind := KindOf(err)
	metrics.ObserveTask(t.name, outcome.String(), kind.String(), t.ch.transferred(), elapsed)

	fields := []zap.Field{
		zap.String("task", t.name),
		zap.String("outcome", outcome.String()),
		zap.Int64("items", t.ch.transferred()),
		zap.Duration("elapsed", elapsed),
	}
	switch kind {
	case KindContractViolation:
		t.logger.Error("bridge contract violated", append(fields, zap.Error(err))...)
	case KindNone:
		t.logger.Debug("bridge task finished", fields...)
	default:
		t.logger.Debug("bridge task failed", append(fields, zap.Error(err))...)
	}
}
