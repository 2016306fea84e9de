package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/systemstart/modinstall/pkg/api"
)

// ToolInputs resolves the files a tool step operates on, typically by
// looking up earlier completed steps in the registry. Extra values are made
// available to the argument templates.
type ToolInputs func(r *Registry) (files []string, extra map[string]any, err error)

// ToolStep runs an external command over a set of APKs. The command does
// the actual patching, signing or installing.
type ToolStep struct {
	State

	kind      Kind
	group     Group
	tool      api.ToolConfig
	outputDir string
	vars      map[string]any
	inputs    ToolInputs
	// requireOutput fails the step when outputDir holds no APK afterwards.
	requireOutput bool
}

func (s *ToolStep) Kind() Kind   { return s.kind }
func (s *ToolStep) Group() Group { return s.group }

// OutputDir is the directory the tool writes to.
func (s *ToolStep) OutputDir() string { return s.outputDir }

func (s *ToolStep) Run(ctx context.Context, sctx StepContext) error {
	return s.Track(sctx, func() error {
		log := sctx.logger().With("step", s.kind)

		files, extra, err := s.inputs(sctx.Registry)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no input APKs found")
		}

		data := MergeVars(s.vars, extra)
		data["OutputDir"] = s.outputDir
		data["Files"] = files
		if _, ok := data["InputDir"]; !ok {
			data["InputDir"] = filepath.Dir(files[0])
		}

		if s.tool.PerFile {
			for i, f := range files {
				data["File"] = f
				if err := s.invoke(ctx, data, nil); err != nil {
					return fmt.Errorf("processing %s: %w", f, err)
				}
				s.SetProgress(float64(i+1) / float64(len(files)))
			}
		} else {
			if err := s.invoke(ctx, data, files); err != nil {
				return err
			}
		}

		if s.requireOutput {
			out, err := listAPKs(s.outputDir)
			if err != nil {
				return err
			}
			if len(out) == 0 {
				return fmt.Errorf("%s produced no APKs in %s", s.tool.Command, s.outputDir)
			}
			log.Info("tool produced output", "count", len(out), "dir", s.outputDir)
		}
		return nil
	})
}

func (s *ToolStep) invoke(ctx context.Context, data map[string]any, trailing []string) error {
	args := make([]string, 0, len(s.tool.Args)+len(trailing))
	for i, a := range s.tool.Args {
		rendered, err := render(fmt.Sprintf("%s-arg-%d", s.kind, i), a, data)
		if err != nil {
			return fmt.Errorf("rendering argument %q: %w", a, err)
		}
		args = append(args, rendered)
	}
	args = append(args, trailing...)

	if _, err := exec.LookPath(s.tool.Command); err != nil {
		return fmt.Errorf("%s binary not found in PATH: %w", s.tool.Command, err)
	}

	cmd := exec.CommandContext(ctx, s.tool.Command, args...)
	cmd.Dir = s.outputDir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w\nstderr: %s", s.tool.Command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// NewReplaceIconStep swaps the launcher icon inside the patched base APK.
func NewReplaceIconStep(tool api.ToolConfig, patchedDir string, vars map[string]any) *ToolStep {
	return &ToolStep{
		kind:      KindReplaceIcon,
		group:     GroupPatching,
		tool:      tool,
		outputDir: patchedDir,
		vars:      vars,
		inputs: func(r *Registry) ([]string, map[string]any, error) {
			base, err := Completed[*DownloadStep](r, KindDownloadBase)
			if err != nil {
				return nil, nil, err
			}
			return []string{base.Output()}, map[string]any{"Base": base.Output()}, nil
		},
	}
}

// NewPatchManifestsStep patches the manifests of every downloaded split APK in place.
func NewPatchManifestsStep(tool api.ToolConfig, patchedDir string, vars map[string]any) *ToolStep {
	return &ToolStep{
		kind:      KindPatchManifests,
		group:     GroupPatching,
		tool:      tool,
		outputDir: patchedDir,
		vars:      vars,
		inputs:    splitAPKs,
	}
}

// NewPresignStep signs the patched split APKs into signedDir.
func NewPresignStep(tool api.ToolConfig, signedDir string, vars map[string]any) *ToolStep {
	return &ToolStep{
		kind:          KindPresign,
		group:         GroupPatching,
		tool:          tool,
		outputDir:     signedDir,
		vars:          vars,
		inputs:        splitAPKs,
		requireOutput: true,
	}
}

// NewAddModStep injects the downloaded mod into the signed APKs, writing to lspatchedDir.
func NewAddModStep(tool api.ToolConfig, signedDir, lspatchedDir string, vars map[string]any) *ToolStep {
	return &ToolStep{
		kind:      KindAddMod,
		group:     GroupPatching,
		tool:      tool,
		outputDir: lspatchedDir,
		vars:      vars,
		inputs: func(r *Registry) ([]string, map[string]any, error) {
			if _, err := r.GetCompleted(KindPresign); err != nil {
				return nil, nil, err
			}
			mod, err := Completed[*DownloadStep](r, KindDownloadMod)
			if err != nil {
				return nil, nil, err
			}
			files, err := listAPKs(signedDir)
			if err != nil {
				return nil, nil, err
			}
			return files, map[string]any{"Mod": mod.Output(), "InputDir": signedDir}, nil
		},
		requireOutput: true,
	}
}

// NewInstallStep hands the final APKs to the platform installer.
func NewInstallStep(tool api.ToolConfig, lspatchedDir string, vars map[string]any) *ToolStep {
	return &ToolStep{
		kind:      KindInstall,
		group:     GroupInstalling,
		tool:      tool,
		outputDir: lspatchedDir,
		vars:      vars,
		inputs: func(r *Registry) ([]string, map[string]any, error) {
			if _, err := r.GetCompleted(KindAddMod); err != nil {
				return nil, nil, err
			}
			files, err := listAPKs(lspatchedDir)
			if err != nil {
				return nil, nil, err
			}
			return files, map[string]any{"InputDir": lspatchedDir}, nil
		},
	}
}

var splitKinds = []Kind{
	KindDownloadBase,
	KindDownloadLibs,
	KindDownloadLang,
	KindDownloadResources,
}

// splitAPKs resolves the patched copies of the four downloaded split APKs.
func splitAPKs(r *Registry) ([]string, map[string]any, error) {
	files := make([]string, 0, len(splitKinds))
	for _, kind := range splitKinds {
		d, err := Completed[*DownloadStep](r, kind)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, d.Output())
	}
	return files, nil, nil
}
