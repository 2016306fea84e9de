package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/systemstart/modinstall/pkg/processing"
	"github.com/systemstart/modinstall/pkg/steps"
)

// progressPrinter redraws a single status line for the running step.
// It stays silent when w is not a terminal; step logs cover that case.
type progressPrinter struct {
	w        io.Writer
	enabled  bool
	finished chan struct{}
	lastLen  int
}

func newProgressPrinter(w io.Writer, enabled bool) *progressPrinter {
	return &progressPrinter{w: w, enabled: enabled, finished: make(chan struct{})}
}

func (p *progressPrinter) watch(r *processing.Runner, done <-chan struct{}) {
	defer close(p.finished)
	for {
		select {
		case <-done:
			p.clear()
			return
		case <-r.Updates():
			p.draw(r.Snapshot())
		}
	}
}

func (p *progressPrinter) wait() { <-p.finished }

func (p *progressPrinter) draw(snap processing.Snapshot) {
	if !p.enabled || snap.Current == "" {
		return
	}
	p.print(progressLine(snap))
}

func (p *progressPrinter) clear() {
	if !p.enabled || p.lastLen == 0 {
		return
	}
	fmt.Fprintf(p.w, "\r%s\r", strings.Repeat(" ", p.lastLen))
	p.lastLen = 0
}

func (p *progressPrinter) print(line string) {
	pad := ""
	if n := p.lastLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprintf(p.w, "\r%s%s", line, pad)
	p.lastLen = len(line)
}

// progressLine formats "[n/total] group: kind status" with a percentage
// when the current step reports one.
func progressLine(snap processing.Snapshot) string {
	index := 0
	var current processing.StepSnapshot
	for i, s := range snap.Steps {
		if s.Kind == snap.Current {
			index = i + 1
			current = s
			break
		}
	}

	line := fmt.Sprintf("[%d/%d] %s: %s %s", index, len(snap.Steps), current.Group, current.Kind, current.Status)
	if current.Status == steps.StatusOngoing && current.Progress >= 0 {
		line += fmt.Sprintf(" %3.0f%%", current.Progress*100)
	}
	return line
}
