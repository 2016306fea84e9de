package steps

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// writeTestFile writes content to a file in dir, failing the test on error.
func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

// fakeStep is a minimal Step whose work is a closure.
type fakeStep struct {
	State
	kind  Kind
	group Group
	work  func(ctx context.Context, sctx StepContext) error
}

func newFakeStep(kind Kind, group Group, work func(ctx context.Context, sctx StepContext) error) *fakeStep {
	return &fakeStep{kind: kind, group: group, work: work}
}

func (s *fakeStep) Kind() Kind   { return s.kind }
func (s *fakeStep) Group() Group { return s.group }

func (s *fakeStep) Run(ctx context.Context, sctx StepContext) error {
	return s.Track(sctx, func() error {
		if s.work == nil {
			return nil
		}
		return s.work(ctx, sctx)
	})
}

func runStep(t *testing.T, s Step, r *Registry) error {
	t.Helper()
	return s.Run(context.Background(), StepContext{Registry: r})
}
