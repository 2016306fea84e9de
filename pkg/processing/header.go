package processing

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// BuildInfo describes the manager binary for the log header.
type BuildInfo struct {
	Version string
	Commit  string
	Branch  string
	Dirty   bool
}

// WithVCS fills empty commit fields from the Go build information.
func (b BuildInfo) WithVCS() BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				b.Dirty = true
			}
		}
	}
	return b
}

const headerTemplate = `{{ .ModName }} Manager {{ .Build.Version | default "dev" }}
Built from commit {{ .Build.Commit | default "unknown" | trunc 12 }} on {{ .Build.Branch | default "unknown" }}{{ if .Build.Dirty }} (Changes Present){{ end }}

Running {{ .OS }}/{{ .Arch }} with {{ .GoVersion }}, {{ .NumCPU }} CPUs
Host: {{ .Hostname }}
Run {{ .RunID }} started {{ dateInZone "2006-01-02 15:04:05 MST" .Started "UTC" }}

Adding {{ .ModName }} to {{ .Product }} v{{ .Version }}

`

// headerData is the template context for the export header.
type headerData struct {
	ModName   string
	Product   string
	Version   string
	RunID     string
	Build     BuildInfo
	OS        string
	Arch      string
	GoVersion string
	NumCPU    int
	Hostname  string
	Started   time.Time
}

// RenderHeader renders the environment block that opens every exported log.
func RenderHeader(modName, product, version, runID string, build BuildInfo, started time.Time) ([]string, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	data := headerData{
		ModName:   modName,
		Product:   product,
		Version:   version,
		RunID:     runID,
		Build:     build,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
		Hostname:  host,
		Started:   started,
	}

	tmpl, err := template.New("header").Funcs(sprig.FuncMap()).Parse(headerTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing header template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("executing header template: %w", err)
	}

	return strings.Split(buf.String(), "\n"), nil
}
