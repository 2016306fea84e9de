package processing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systemstart/modinstall/pkg/api"
	"github.com/systemstart/modinstall/pkg/logging"
	"github.com/systemstart/modinstall/pkg/steps"
	"github.com/systemstart/modinstall/pkg/workspace"
)

// SessionOptions carries the optional collaborators of a Session.
type SessionOptions struct {
	// Vars are global template values; config vars override them.
	Vars   map[string]any
	Client *http.Client
	Logger *slog.Logger
	Build  BuildInfo
	// Developer forces developer mode on top of the config setting.
	Developer   bool
	PacingFloor time.Duration
	Sleep       SleepFunc
}

// Session is one install attempt: a locked and prepared workspace, the
// step registry built for it, and the runner driving the steps.
type Session struct {
	ID        string
	Config    *api.Config
	Workspace *workspace.Workspace
	Layout    workspace.Layout
	Runner    *Runner

	unlock    func() error
	closeOnce sync.Once
	closeErr  error
}

// NewSession locks the version subtree, clears stale patch output and
// builds the registry. The caller must Close the session.
func NewSession(cfg *api.Config, opts SessionOptions) (*Session, error) {
	ws := workspace.New(cfg.CacheDir)

	unlock, err := ws.Lock(cfg.Version)
	if err != nil {
		return nil, err
	}

	layout, err := ws.Prepare(cfg.Version)
	if err != nil {
		_ = unlock()
		return nil, fmt.Errorf("preparing workspace: %w", err)
	}

	vars := steps.MergeVars(opts.Vars, cfg.Vars)
	registry, err := steps.BuildRegistry(cfg, layout, vars, opts.Client)
	if err != nil {
		_ = unlock()
		return nil, fmt.Errorf("building steps: %w", err)
	}

	id := uuid.NewString()
	header, err := RenderHeader(cfg.ModName, cfg.Product, cfg.Version, id, opts.Build, time.Now())
	if err != nil {
		_ = unlock()
		return nil, err
	}

	runner := NewRunner(registry, logging.NewAccumulator(header...), Options{
		RunID:       id,
		Developer:   cfg.Developer || opts.Developer,
		PacingFloor: opts.PacingFloor,
		Logger:      opts.Logger,
		Sleep:       opts.Sleep,
	})

	return &Session{
		ID:        id,
		Config:    cfg,
		Workspace: ws,
		Layout:    layout,
		Runner:    runner,
		unlock:    unlock,
	}, nil
}

// Run drives the steps to completion and releases the workspace lock.
func (s *Session) Run(ctx context.Context) error {
	defer func() { _ = s.Close() }()
	return s.Runner.RunAll(ctx)
}

// Close releases the workspace lock. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.unlock()
	})
	return s.closeErr
}

// LogFileName is the export file name for a run finishing at t.
func LogFileName(modName string, t time.Time) string {
	return fmt.Sprintf("%s-Manager-%d.log", modName, t.UnixMilli())
}

// ExportLog writes the accumulated log into the configured export
// directory, replacing any earlier export, and returns its path.
func (s *Session) ExportLog() (string, error) {
	return s.Runner.Log().Export(s.Config.LogExportDir, LogFileName(s.Config.ModName, time.Now()))
}
