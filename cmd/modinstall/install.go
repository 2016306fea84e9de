package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/systemstart/modinstall/pkg/api"
	"github.com/systemstart/modinstall/pkg/logging"
	"github.com/systemstart/modinstall/pkg/processing"
	"github.com/systemstart/modinstall/pkg/steps"
	"github.com/systemstart/modinstall/pkg/workspace"
)

type installOptions struct {
	configFile   string
	version      string
	cacheDir     string
	logExportDir string
	varsFile     string
	developer    bool
	noIcon       bool
	exportLog    bool
}

func newInstallCommand() *cobra.Command {
	var opts installOptions

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Run the download, patch and install steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "modinstall.yaml", "install configuration file")
	flags.StringVar(&opts.version, "version", "", "target version, overrides the config file")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "cache directory, overrides the config file")
	flags.StringVar(&opts.logExportDir, "log-export-dir", "", "directory for exported logs, overrides the config file")
	flags.StringVar(&opts.varsFile, "vars-file", "", "YAML file with global template variables")
	flags.BoolVar(&opts.developer, "developer", false, "skip pacing pauses between steps")
	flags.BoolVar(&opts.noIcon, "no-icon", false, "keep the original launcher icon")
	flags.BoolVar(&opts.exportLog, "export-log", false, "export the run log even when the install succeeds")

	return cmd
}

// overrides turns the command line flags into config overrides.
func (o installOptions) overrides() []api.Override {
	var out []api.Override
	if o.version != "" {
		out = append(out, func(c *api.Config) { c.Version = o.version })
	}
	if o.cacheDir != "" {
		out = append(out, func(c *api.Config) { c.CacheDir = o.cacheDir })
	}
	if o.logExportDir != "" {
		out = append(out, func(c *api.Config) { c.LogExportDir = o.logExportDir })
	}
	if o.developer {
		out = append(out, func(c *api.Config) { c.Developer = true })
	}
	if o.noIcon {
		out = append(out, func(c *api.Config) {
			disabled := false
			c.PatchIcon = &disabled
		})
	}
	return out
}

func runInstall(ctx context.Context, out io.Writer, opts installOptions) error {
	cfg, err := api.LoadConfig(opts.configFile, opts.overrides()...)
	if err != nil {
		slog.Error("failed to load configuration", "filename", opts.configFile, "error", err)
		return withExitCode(exitLoadConfigurationFileFailed, err)
	}

	var vars map[string]any
	if opts.varsFile != "" {
		vars, err = processing.LoadVarsFile(opts.varsFile)
		if err != nil {
			slog.Error("failed to load vars file", "filename", opts.varsFile, "error", err)
			return withExitCode(exitLoadConfigurationFileFailed, err)
		}
	}

	session, err := processing.NewSession(cfg, processing.SessionOptions{
		Vars:  vars,
		Build: buildInfo(),
	})
	if err != nil {
		if errors.Is(err, workspace.ErrBusy) {
			slog.Error("another install is running for this version", "version", cfg.Version)
		}
		return withExitCode(exitWorkspaceFailed, err)
	}
	defer func() { _ = session.Close() }()

	slog.Info("starting install",
		"product", cfg.Product,
		"mod", cfg.ModName,
		"version", cfg.Version,
		"steps", session.Runner.Registry().Len(),
		"run", session.ID,
	)

	progress := newProgressPrinter(os.Stderr, logging.IsTerminal(os.Stderr))
	done := make(chan struct{})
	go func() {
		progress.watch(session.Runner, done)
	}()

	runErr := session.Run(ctx)
	close(done)
	progress.wait()

	snap := session.Runner.Snapshot()
	fmt.Fprintln(out, renderSummary(snap, logging.IsTerminal(os.Stdout)))

	switch {
	case runErr == nil:
		slog.Info("install completed", "run", session.ID)
		if opts.exportLog {
			return exportLog(out, session)
		}
		return nil

	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		slog.Warn("install cancelled", "step", snap.Current)
		return runErr

	case snap.DownloadErrored:
		slog.Error("download failed", "step", snap.Current, "error", runErr)
		fmt.Fprintf(out, "Downloading %s failed. Check the connection and run the install again to retry.\n", snap.Current)
		session.Runner.DismissDownloadError()
		return withExitCode(exitDownloadFailed, runErr)

	default:
		slog.Error("install failed", "step", snap.Current, "group", groupOf(snap, snap.Current), "error", runErr)
		if err := exportLog(out, session); err != nil {
			session.Runner.LogError(err.Error())
			slog.Error("failed to export log", "error", err)
		}
		return withExitCode(exitInstallFailed, runErr)
	}
}

func exportLog(out io.Writer, session *processing.Session) error {
	path, err := session.ExportLog()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Log exported to %s\n", path)
	return nil
}

func groupOf(snap processing.Snapshot, kind steps.Kind) string {
	if s, ok := snap.Step(kind); ok {
		return s.Group.String()
	}
	return ""
}
