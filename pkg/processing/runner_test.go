package processing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/systemstart/modinstall/pkg/logging"
	"github.com/systemstart/modinstall/pkg/steps"
)

// testStep is a step with a scripted outcome and a fixed reported duration.
type testStep struct {
	steps.State
	kind     steps.Kind
	group    steps.Group
	duration time.Duration
	work     func(ctx context.Context, sctx steps.StepContext) error
}

func (s *testStep) Kind() steps.Kind   { return s.kind }
func (s *testStep) Group() steps.Group { return s.group }

func (s *testStep) Duration() time.Duration {
	if s.duration > 0 && s.Status().Terminal() {
		return s.duration
	}
	return s.State.Duration()
}

func (s *testStep) Run(ctx context.Context, sctx steps.StepContext) error {
	return s.Track(sctx, func() error {
		if s.work == nil {
			return nil
		}
		return s.work(ctx, sctx)
	})
}

func newTestStep(kind steps.Kind, group steps.Group, d time.Duration) *testStep {
	return &testStep{kind: kind, group: group, duration: d}
}

// sleepRecorder records requested pauses without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.pauses = append(r.pauses, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.pauses...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, developer bool, list ...steps.Step) (*Runner, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	r := NewRunner(steps.NewRegistry(list...), logging.NewAccumulator("header"), Options{
		RunID:     "run-1",
		Developer: developer,
		Logger:    quietLogger(),
		Sleep:     rec.sleep,
	})
	return r, rec
}

func TestRunAll_RunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []steps.Kind
	record := func(kind steps.Kind, prev *testStep) func(context.Context, steps.StepContext) error {
		return func(context.Context, steps.StepContext) error {
			if prev != nil && prev.Status() != steps.StatusSuccessful {
				t.Errorf("%s started before %s finished", kind, prev.kind)
			}
			mu.Lock()
			order = append(order, kind)
			mu.Unlock()
			return nil
		}
	}

	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
	b := newTestStep(steps.KindPatchManifests, steps.GroupPatching, 0)
	c := newTestStep(steps.KindInstall, steps.GroupInstalling, 0)
	a.work = record(a.kind, nil)
	b.work = record(b.kind, a)
	c.work = record(c.kind, b)

	r, _ := newTestRunner(t, true, a, b, c)
	if err := r.RunAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []steps.Kind{a.kind, b.kind, c.kind}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	if !r.Completed() || r.Err() != nil || r.DownloadErrored() {
		t.Errorf("completed=%v err=%v downloadErrored=%v", r.Completed(), r.Err(), r.DownloadErrored())
	}
	if r.Current() != c {
		t.Errorf("current = %v, want last step", r.Current())
	}
}

func TestRunAll_FailFast(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantDownload bool
	}{
		{"download error", &steps.DownloadError{URL: "https://cdn/base.apk", Err: errors.New("status 404")}, true},
		{"other error", errors.New("disk full"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
			b := newTestStep(steps.KindDownloadLibs, steps.GroupDownloading, 0)
			c := newTestStep(steps.KindPatchManifests, steps.GroupPatching, 0)
			d := newTestStep(steps.KindInstall, steps.GroupInstalling, 0)
			b.work = func(context.Context, steps.StepContext) error { return tt.err }
			c.work = func(context.Context, steps.StepContext) error {
				t.Error("step after failure must not run")
				return nil
			}

			r, _ := newTestRunner(t, true, a, b, c, d)
			err := r.RunAll(context.Background())
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}

			if a.Status() != steps.StatusSuccessful {
				t.Errorf("first step = %v", a.Status())
			}
			if b.Status() != steps.StatusUnsuccessful {
				t.Errorf("failing step = %v", b.Status())
			}
			for _, s := range []*testStep{c, d} {
				if s.Status() != steps.StatusQueued {
					t.Errorf("%s = %v, want queued", s.kind, s.Status())
				}
			}

			if !r.Completed() {
				t.Error("expected completed")
			}
			if !errors.Is(r.Err(), tt.err) {
				t.Errorf("Err() = %v", r.Err())
			}
			if r.DownloadErrored() != tt.wantDownload {
				t.Errorf("DownloadErrored() = %v, want %v", r.DownloadErrored(), tt.wantDownload)
			}
			if r.Current() != b {
				t.Errorf("current should stay on the failing step")
			}
			if !strings.Contains(r.Log().String(), "failed on "+string(b.kind)) {
				t.Errorf("log missing failure line:\n%s", r.Log().String())
			}
		})
	}
}

func TestRunAll_Pacing(t *testing.T) {
	fast := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 200*time.Millisecond)
	slow := newTestStep(steps.KindDownloadLibs, steps.GroupDownloading, 1500*time.Millisecond)
	exact := newTestStep(steps.KindInstall, steps.GroupInstalling, time.Second)

	r, rec := newTestRunner(t, false, fast, slow, exact)
	if err := r.RunAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pauses := rec.recorded()
	if len(pauses) != 1 || pauses[0] != 800*time.Millisecond {
		t.Fatalf("pauses = %v, want [800ms]", pauses)
	}
}

func TestRunAll_DeveloperModeSkipsPacing(t *testing.T) {
	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, time.Millisecond)
	b := newTestStep(steps.KindInstall, steps.GroupInstalling, time.Millisecond)

	r, rec := newTestRunner(t, true, a, b)
	if err := r.RunAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pauses := rec.recorded(); len(pauses) != 0 {
		t.Errorf("developer mode must not pause, got %v", pauses)
	}
}

func TestRunAll_CustomPacingFloor(t *testing.T) {
	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 100*time.Millisecond)
	rec := &sleepRecorder{}
	r := NewRunner(steps.NewRegistry(a), nil, Options{
		PacingFloor: 250 * time.Millisecond,
		Logger:      quietLogger(),
		Sleep:       rec.sleep,
	})
	if err := r.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if pauses := rec.recorded(); len(pauses) != 1 || pauses[0] != 150*time.Millisecond {
		t.Errorf("pauses = %v, want [150ms]", pauses)
	}
}

func TestRunAll_SingleUse(t *testing.T) {
	runs := 0
	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
	a.work = func(context.Context, steps.StepContext) error {
		runs++
		return nil
	}

	r, _ := newTestRunner(t, true, a)
	if err := r.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.RunAll(context.Background()); err != nil {
		t.Fatalf("second call should be a no-op, got %v", err)
	}
	if runs != 1 {
		t.Errorf("step ran %d times, want 1", runs)
	}
}

func TestRunAll_ConcurrentCallsRunOnce(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	runs := 0
	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
	a.work = func(context.Context, steps.StepContext) error {
		mu.Lock()
		runs++
		mu.Unlock()
		<-release
		return nil
	}

	r, _ := newTestRunner(t, true, a)
	done := make(chan error, 1)
	go func() { done <- r.RunAll(context.Background()) }()

	// Wait for the first call to dispatch the step.
	deadline := time.After(5 * time.Second)
	for a.Status() != steps.StatusOngoing {
		select {
		case <-deadline:
			t.Fatal("step never started")
		case <-time.After(time.Millisecond):
		}
	}

	if err := r.RunAll(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("concurrent call = %v, want ErrRunInProgress", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
}

func TestRunAll_CancelStopsBeforeNextStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
	b := newTestStep(steps.KindInstall, steps.GroupInstalling, 0)
	a.work = func(context.Context, steps.StepContext) error {
		cancel()
		return nil
	}

	r, _ := newTestRunner(t, true, a, b)
	err := r.RunAll(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if a.Status() != steps.StatusSuccessful {
		t.Errorf("in-flight step = %v", a.Status())
	}
	if b.Status() != steps.StatusQueued {
		t.Errorf("next step = %v, want queued", b.Status())
	}
	if !r.Completed() || r.DownloadErrored() {
		t.Errorf("completed=%v downloadErrored=%v", r.Completed(), r.DownloadErrored())
	}
}

func TestRunAll_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
	r, _ := newTestRunner(t, true, a)
	if err := r.RunAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if a.Status() != steps.StatusQueued {
		t.Errorf("step = %v, want queued", a.Status())
	}
	if r.Current() != nil {
		t.Error("nothing should have been dispatched")
	}
}

func TestRunAll_StepsReadCompletedPredecessors(t *testing.T) {
	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
	b := newTestStep(steps.KindReplaceIcon, steps.GroupPatching, 0)
	c := newTestStep(steps.KindPatchManifests, steps.GroupPatching, 0)

	b.work = func(_ context.Context, sctx steps.StepContext) error {
		got, err := steps.Completed[*testStep](sctx.Registry, steps.KindDownloadBase)
		if err != nil {
			return err
		}
		if got != a {
			t.Error("lookup returned a different step")
		}
		return nil
	}
	c.work = func(_ context.Context, sctx steps.StepContext) error {
		_, err := sctx.Registry.GetCompleted(steps.KindInstall)
		return err
	}

	r, _ := newTestRunner(t, true, a, b, c)
	err := r.RunAll(context.Background())
	if !errors.Is(err, steps.ErrStepNotCompleted) {
		t.Fatalf("err = %v, want ErrStepNotCompleted", err)
	}
	if b.Status() != steps.StatusSuccessful {
		t.Errorf("lookup of completed predecessor failed: %v", b.Status())
	}
	if r.DownloadErrored() {
		t.Error("missing dependency is not download-class")
	}
}

func TestRunner_LogErrorAndDismiss(t *testing.T) {
	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
	a.work = func(context.Context, steps.StepContext) error {
		return &steps.DownloadError{URL: "u", Err: errors.New("reset")}
	}
	r, _ := newTestRunner(t, true, a)
	_ = r.RunAll(context.Background())

	if !r.DownloadErrored() {
		t.Fatal("expected download error")
	}
	r.DismissDownloadError()
	if r.DownloadErrored() {
		t.Error("flag should clear on dismiss")
	}
	if r.Err() == nil {
		t.Error("dismiss must not clear the error")
	}

	before := r.Log().Len()
	r.LogError("share sheet unavailable")
	entries := r.Log().Entries()
	if len(entries) != before+2 {
		t.Fatalf("expected two new entries, got %d", len(entries)-before)
	}
	if entries[before].Message != "" || entries[before].Level != logging.LevelError {
		t.Errorf("separator = %+v", entries[before])
	}
	if entries[before+1].Message != "share sheet unavailable" || entries[before+1].Level != logging.LevelError {
		t.Errorf("error entry = %+v", entries[before+1])
	}
}

func TestRunner_LogKeepsHeaderFirst(t *testing.T) {
	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
	r, _ := newTestRunner(t, true, a)
	if err := r.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	entries := r.Log().Entries()
	if len(entries) < 2 || entries[0].Message != "header" {
		t.Fatalf("entries = %+v", entries)
	}
	if !strings.Contains(r.Log().String(), "install completed") {
		t.Errorf("missing completion line:\n%s", r.Log().String())
	}
}

func TestRunner_UpdatesSignal(t *testing.T) {
	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
	r, _ := newTestRunner(t, true, a)

	select {
	case <-r.Updates():
		t.Fatal("no update expected before running")
	default:
	}

	if err := r.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-r.Updates():
	default:
		t.Fatal("expected a pending update after the run")
	}
}

func TestPacing(t *testing.T) {
	r := &Runner{floor: time.Second}
	tests := []struct {
		d    time.Duration
		want time.Duration
	}{
		{0, time.Second},
		{300 * time.Millisecond, 700 * time.Millisecond},
		{time.Second, 0},
		{2 * time.Second, 0},
	}
	for _, tt := range tests {
		if got := r.pacing(tt.d); got != tt.want {
			t.Errorf("pacing(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}

	r.developer = true
	if got := r.pacing(0); got != 0 {
		t.Errorf("developer pacing = %v", got)
	}
}

// rawPanicStep panics without going through steps.State.Track.
type rawPanicStep struct {
	*testStep
}

func (s rawPanicStep) Run(context.Context, steps.StepContext) error {
	panic("unexpected nil archive")
}

func TestRunAll_PanickingStepFailsRun(t *testing.T) {
	tests := []struct {
		name string
		step func() steps.Step
		want string
	}{
		{
			name: "inside tracked work",
			step: func() steps.Step {
				s := newTestStep(steps.KindPatchManifests, steps.GroupPatching, 0)
				s.work = func(context.Context, steps.StepContext) error {
					var m map[string]int
					m["manifest"] = 1
					return nil
				}
				return s
			},
			want: "assignment to entry in nil map",
		},
		{
			name: "outside tracked work",
			step: func() steps.Step {
				return rawPanicStep{newTestStep(steps.KindPatchManifests, steps.GroupPatching, 0)}
			},
			want: "step patch-manifests panicked: unexpected nil archive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
			next := newTestStep(steps.KindInstall, steps.GroupInstalling, 0)
			r, _ := newTestRunner(t, true, a, tt.step(), next)

			err := r.RunAll(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
			if !r.Completed() || r.Err() == nil || r.DownloadErrored() {
				t.Errorf("completed=%v err=%v downloadErrored=%v", r.Completed(), r.Err(), r.DownloadErrored())
			}
			if next.Status() != steps.StatusQueued {
				t.Errorf("next step = %v, want queued", next.Status())
			}
			if !strings.Contains(r.Log().String(), "failed on "+string(steps.KindPatchManifests)) {
				t.Errorf("log missing failure line:\n%s", r.Log().String())
			}
		})
	}
}

func TestRunAll_CancelDuringPacingPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)
	b := newTestStep(steps.KindInstall, steps.GroupInstalling, 0)
	a.work = func(context.Context, steps.StepContext) error {
		time.AfterFunc(20*time.Millisecond, cancel)
		return nil
	}

	r := NewRunner(steps.NewRegistry(a, b), nil, Options{
		PacingFloor: 5 * time.Second,
		Logger:      quietLogger(),
	})

	start := time.Now()
	err := r.RunAll(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed >= 2*time.Second {
		t.Errorf("pause ignored cancellation, took %v", elapsed)
	}
	if b.Status() != steps.StatusQueued {
		t.Errorf("next step = %v, want queued", b.Status())
	}
	if !r.Completed() || r.DownloadErrored() {
		t.Errorf("completed=%v downloadErrored=%v", r.Completed(), r.DownloadErrored())
	}
}

func TestRunAll_DefaultSleepHoldsFloor(t *testing.T) {
	const floor = 100 * time.Millisecond
	a := newTestStep(steps.KindDownloadBase, steps.GroupDownloading, 0)

	r := NewRunner(steps.NewRegistry(a), nil, Options{
		PacingFloor: floor,
		Logger:      quietLogger(),
	})

	start := time.Now()
	if err := r.RunAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < floor {
		t.Errorf("elapsed %v, want at least %v", elapsed, floor)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("completed sleep = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled sleep = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep blocked")
	}
}
