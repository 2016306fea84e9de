package steps

import (
	"context"
	"log/slog"
	"time"
)

// Kind identifies what a step does. It is the key for dependency lookup.
type Kind string

const (
	KindDownloadBase      Kind = "download-base"
	KindDownloadLibs      Kind = "download-libs"
	KindDownloadLang      Kind = "download-lang"
	KindDownloadResources Kind = "download-resources"
	KindDownloadMod       Kind = "download-mod"
	KindReplaceIcon       Kind = "replace-icon"
	KindPatchManifests    Kind = "patch-manifests"
	KindPresign           Kind = "presign"
	KindAddMod            Kind = "add-mod"
	KindInstall           Kind = "install"
)

// Group is a phase tag used to bucket steps for display. It has no effect
// on execution order.
type Group int

const (
	GroupDownloading Group = iota
	GroupPatching
	GroupInstalling
)

// Groups lists every group in display order.
var Groups = []Group{GroupDownloading, GroupPatching, GroupInstalling}

func (g Group) String() string {
	switch g {
	case GroupDownloading:
		return "Downloading"
	case GroupPatching:
		return "Patching"
	case GroupInstalling:
		return "Installing"
	default:
		return "Unknown"
	}
}

// Status is the lifecycle state of a step.
type Status int

const (
	StatusQueued Status = iota
	StatusOngoing
	StatusSuccessful
	StatusUnsuccessful
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusOngoing:
		return "ongoing"
	case StatusSuccessful:
		return "successful"
	case StatusUnsuccessful:
		return "unsuccessful"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusUnsuccessful
}

// StepContext provides the runtime dependencies for a step.
type StepContext struct {
	Registry *Registry
	Logger   *slog.Logger
	// OnChange is called after every status or progress change. May be nil.
	OnChange func()
}

func (c StepContext) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Step is the interface all install steps implement.
//
// Run moves the step from queued to ongoing and then to successful or
// unsuccessful, recording its own wall-clock duration either way. A step is
// run at most once. Long running steps check ctx between chunks of work.
type Step interface {
	Kind() Kind
	Group() Group
	Status() Status
	// Progress is in [0, 1], or negative when unknown.
	Progress() float64
	Duration() time.Duration
	Run(ctx context.Context, sctx StepContext) error
}
