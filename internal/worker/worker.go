package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wednesday-alerts/internal/logging"
	"wednesday-alerts/internal/scheduler"
)

// DefaultQueueSize is the capacity of the task queue.
const DefaultQueueSize = 8

// Handler executes one task.
type Handler func(ctx context.Context, task scheduler.Task) error

// Locker guards task execution across processes sharing one database.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// ErrNoHandler is returned for tokens without a registered handler.
var ErrNoHandler = errors.New("no handler registered")

// PanicError wraps a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Options tune the loop.
type Options struct {
	TaskTimeout time.Duration
	Locker      Locker
	LockKey     int64
}

// Loop is the single consumer of the task queue.
type Loop struct {
	resolve  func(scheduler.Task) (Handler, bool)
	reporter logging.Reporter
	opts     Options
	logger   zerolog.Logger
}

// New builds a loop. resolve maps a token to its handler.
func New(resolve func(scheduler.Task) (Handler, bool), reporter logging.Reporter, opts Options, logger zerolog.Logger) *Loop {
	return &Loop{
		resolve:  resolve,
		reporter: reporter,
		opts:     opts,
		logger:   logger.With().Str("component", "worker").Logger(),
	}
}

// Run drains queue in order until ctx is cancelled or queue is closed.
// Handler failures are logged and reported; they never stop the loop.
func (l *Loop) Run(ctx context.Context, queue <-chan scheduler.Task) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-queue:
			if !ok {
				return nil
			}
			_ = l.Execute(ctx, task)
		}
	}
}

// Execute runs a single task with the loop's isolation rules and returns its
// error after it has been logged and reported.
func (l *Loop) Execute(ctx context.Context, task scheduler.Task) error {
	runID := uuid.NewString()
	log := l.logger.With().Str("task", string(task)).Str("run_id", runID).Logger()

	release, proceed, err := l.acquire(ctx)
	if err != nil {
		l.fail(ctx, log, task, runID, err)
		return err
	}
	if !proceed {
		log.Debug().Msg("skip task because advisory lock held elsewhere")
		return nil
	}
	if release != nil {
		defer release()
	}

	started := time.Now()
	err = l.invoke(ctx, task)
	elapsed := time.Since(started)
	if err != nil {
		l.fail(ctx, log.With().Dur("elapsed", elapsed).Logger(), task, runID, err)
		return err
	}
	log.Info().Dur("elapsed", elapsed).Msg("task completed")
	return nil
}

func (l *Loop) invoke(ctx context.Context, task scheduler.Task) (err error) {
	handler, ok := l.resolve(task)
	if !ok || handler == nil {
		return fmt.Errorf("%w for task %s", ErrNoHandler, task)
	}

	if l.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return handler(ctx, task)
}

func (l *Loop) acquire(ctx context.Context) (func(), bool, error) {
	if l.opts.Locker == nil || l.opts.LockKey == 0 {
		return nil, true, nil
	}
	unlock, acquired, err := l.opts.Locker.TryAdvisoryLock(ctx, l.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return unlock, acquired, nil
}

func (l *Loop) fail(ctx context.Context, log zerolog.Logger, task scheduler.Task, runID string, err error) {
	event := log.Error().Err(err)
	var p *PanicError
	if errors.As(err, &p) {
		event = event.Bytes("stack", p.Stack)
	}
	event.Msg("task failed")
	if l.reporter != nil {
		l.reporter.Report(ctx, err, map[string]string{"task": string(task), "run_id": runID})
	}
}
