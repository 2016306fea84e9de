package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/systemstart/modinstall/pkg/logging"
	"github.com/systemstart/modinstall/pkg/steps"
)

// DefaultPacingFloor is the minimum time a step stays visible as the
// current step when not in developer mode.
const DefaultPacingFloor = time.Second

// ErrRunInProgress is returned by RunAll while another call is still
// driving the same runner.
var ErrRunInProgress = errors.New("install run already in progress")

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options controls a Runner.
type Options struct {
	RunID string
	// Developer disables pacing pauses.
	Developer   bool
	PacingFloor time.Duration
	// Logger receives step logs in addition to the accumulator. Defaults to slog.Default().
	Logger *slog.Logger
	Sleep  SleepFunc
}

// Runner executes the steps of a registry in order, halting on the first
// failure. A Runner is single use.
type Runner struct {
	registry  *steps.Registry
	acc       *logging.Accumulator
	log       *slog.Logger
	runID     string
	developer bool
	floor     time.Duration
	sleep     SleepFunc

	started atomic.Bool
	updates chan struct{}

	mu              sync.RWMutex
	current         steps.Step
	completed       bool
	downloadErrored bool
	err             error
}

// NewRunner creates a runner over registry that records into acc.
func NewRunner(registry *steps.Registry, acc *logging.Accumulator, opts Options) *Runner {
	if acc == nil {
		acc = logging.NewAccumulator()
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	floor := opts.PacingFloor
	if floor <= 0 {
		floor = DefaultPacingFloor
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Runner{
		registry:  registry,
		acc:       acc,
		log:       logging.Tee(base, acc.Handler()),
		runID:     opts.RunID,
		developer: opts.Developer,
		floor:     floor,
		sleep:     sleep,
		updates:   make(chan struct{}, 1),
	}
}

// RunAll runs every step in registry order and returns the first error,
// or nil when all steps succeed. Cancelling ctx stops progression before
// the next step; the step in flight receives the same ctx. Calling RunAll
// again after completion returns nil immediately; the outcome stays
// available from Err. A call made while a run is in flight returns
// ErrRunInProgress.
func (r *Runner) RunAll(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		if r.Completed() {
			return nil
		}
		return ErrRunInProgress
	}

	sctx := steps.StepContext{
		Registry: r.registry,
		Logger:   r.log,
		OnChange: r.notify,
	}

	list := r.registry.Steps()
	for _, step := range list {
		if r.Completed() {
			return nil
		}

		if err := ctx.Err(); err != nil {
			r.log.Warn("install cancelled", "next_step", step.Kind())
			r.finish(err, false)
			return err
		}

		r.setCurrent(step)
		r.log.Info("running step", "step", step.Kind(), "group", step.Group())

		if err := runStep(ctx, step, sctx); err != nil {
			downloadErr := steps.IsDownloadError(err)
			r.log.Error("failed on "+string(step.Kind()),
				"step", step.Kind(),
				"download_error", downloadErr,
				"error", err,
			)
			r.finish(err, downloadErr)
			return err
		}

		duration := step.Duration()
		r.log.Info("step completed", "step", step.Kind(), "duration", duration.Round(time.Millisecond))

		// A cancelled pause is picked up by the check before the next
		// dispatch; after the last step the work is already done.
		if pause := r.pacing(duration); pause > 0 {
			_ = r.sleep(ctx, pause)
		}
	}

	r.log.Info("install completed", "steps", len(list))
	r.finish(nil, false)
	return nil
}

// runStep runs one step, turning a panic into that step's error.
func runStep(ctx context.Context, step steps.Step, sctx steps.StepContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step %s panicked: %v", step.Kind(), rec)
		}
	}()
	return step.Run(ctx, sctx)
}

// pacing returns how long to pause after a step that took d so that the
// step stays on screen for at least the pacing floor.
func (r *Runner) pacing(d time.Duration) time.Duration {
	if r.developer || d >= r.floor {
		return 0
	}
	return r.floor - d
}

func (r *Runner) setCurrent(step steps.Step) {
	r.mu.Lock()
	r.current = step
	r.mu.Unlock()
	r.notify()
}

func (r *Runner) finish(err error, downloadErr bool) {
	r.mu.Lock()
	r.completed = true
	r.downloadErrored = downloadErr
	r.err = err
	r.mu.Unlock()
	r.notify()
}

func (r *Runner) notify() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
}

// Updates signals after any change to published state. Signals coalesce;
// receivers read the new state with Snapshot.
func (r *Runner) Updates() <-chan struct{} { return r.updates }

// Registry returns the steps this runner drives.
func (r *Runner) Registry() *steps.Registry { return r.registry }

// Log returns the run's log accumulator.
func (r *Runner) Log() *logging.Accumulator { return r.acc }

// Current returns the step most recently dispatched, or nil before the first.
func (r *Runner) Current() steps.Step {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Completed reports whether the run reached a terminal state. It does not
// imply success.
func (r *Runner) Completed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completed
}

// DownloadErrored reports whether the run failed on a download-class error.
func (r *Runner) DownloadErrored() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.downloadErrored
}

// DismissDownloadError clears the download failure flag once the caller
// has acknowledged it.
func (r *Runner) DismissDownloadError() {
	r.mu.Lock()
	r.downloadErrored = false
	r.mu.Unlock()
	r.notify()
}

// Err returns the terminal error, if any.
func (r *Runner) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// LogError records an error raised outside the steps, such as by the
// caller's own UI, separated from the preceding lines by a blank entry.
func (r *Runner) LogError(msg string) {
	r.acc.Log("", logging.LevelError)
	r.acc.Log(msg, logging.LevelError)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
