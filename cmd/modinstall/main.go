package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/systemstart/modinstall/pkg/logging"
	"github.com/systemstart/modinstall/pkg/processing"
)

var (
	version = "dev"
	commit  = ""
	branch  = ""
)

const (
	_ = iota
	exitDotenvError
	exitLoggingSetupFailed
	exitLoadConfigurationFileFailed
	exitWorkspaceFailed
	exitDownloadFailed
	exitInstallFailed
	exitCancelled
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

var (
	loggingType string
	logLevel    string
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "modinstall",
		Short:         "Download, patch and install a modded APK",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.Initialize(loggingType, logLevel); err != nil {
				return withExitCode(exitLoggingSetupFailed, err)
			}
			return includeEnv()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&loggingType, "logging-type", logging.Tint, "logging type: json, text or tint")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level: debug, info, warn, error")

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			build := buildInfo()
			fmt.Fprintln(cmd.OutOrStdout(), build.Version)
			if build.Commit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "commit %s\n", build.Commit)
			}
		},
	}
}

func buildInfo() processing.BuildInfo {
	return processing.BuildInfo{Version: version, Commit: commit, Branch: branch}.WithVCS()
}

func includeEnv() error {
	err := godotenv.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("failed to load .env", "error", err)
			return withExitCode(exitDotenvError, err)
		}
		slog.Debug("no .env file found")
	} else {
		slog.Info("using .env file")
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) {
		os.Exit(exitCancelled)
	}

	fmt.Fprintln(os.Stderr, err)
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(1)
}
