package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/systemstart/modinstall/pkg/api"
	"github.com/systemstart/modinstall/pkg/workspace"
)

type cacheOptions struct {
	configFile string
	cacheDir   string
}

func newCacheCommand() *cobra.Command {
	var opts cacheOptions

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage downloaded APKs",
	}
	cacheCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "modinstall.yaml", "install configuration file")
	cacheCmd.PersistentFlags().StringVar(&opts.cacheDir, "cache-dir", "", "cache directory, overrides the config file")

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached downloads per version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := cacheWorkspace(opts)
			if err != nil {
				return withExitCode(exitLoadConfigurationFileFailed, err)
			}
			return printCache(cmd.OutOrStdout(), ws)
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := cacheWorkspace(opts)
			if err != nil {
				return withExitCode(exitLoadConfigurationFileFailed, err)
			}
			if err := ws.ClearAll(); err != nil {
				return withExitCode(exitWorkspaceFailed, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", ws.Root())
			return nil
		},
	})

	return cacheCmd
}

// cacheWorkspace resolves the cache root from the flag, else the config
// file, else the default for the product.
func cacheWorkspace(opts cacheOptions) (*workspace.Workspace, error) {
	if opts.cacheDir != "" {
		return workspace.New(opts.cacheDir), nil
	}

	cfg := &api.Config{}
	data, err := os.ReadFile(opts.configFile)
	switch {
	case err == nil:
		cfg, err = api.ParseConfig(data)
		if err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		if err := cfg.ApplyDefaults(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return workspace.New(cfg.CacheDir), nil
}

func printCache(out io.Writer, ws *workspace.Workspace) error {
	artifacts, err := ws.Cached()
	if err != nil {
		return withExitCode(exitWorkspaceFailed, err)
	}
	if len(artifacts) == 0 {
		fmt.Fprintf(out, "No cached downloads in %s\n", ws.Root())
		return nil
	}

	var total int64
	rows := make([][]string, 0, len(artifacts))
	for _, a := range artifacts {
		total += a.Size
		rows = append(rows, []string{a.Version, a.Name, humanize.IBytes(uint64(a.Size))})
	}
	fmt.Fprintln(out, renderTable([]column{
		{"Version", text.AlignLeft},
		{"File", text.AlignLeft},
		{"Size", text.AlignRight},
	}, rows))
	fmt.Fprintf(out, "%d files, %s in %s\n", len(artifacts), humanize.IBytes(uint64(total)), ws.Root())
	return nil
}
