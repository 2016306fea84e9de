package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level is the severity of an accumulated log entry.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// LevelFromSlog folds slog levels onto the three accumulator levels.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	default:
		return LevelInfo
	}
}

// Entry is one accumulated log line.
type Entry struct {
	Message string
	Level   Level
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Level, e.Message)
}

// Accumulator is an append-only, ordered record of log entries owned by a
// single install run. Entries are never reordered or removed.
type Accumulator struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewAccumulator creates an accumulator whose first entries are the given
// header lines. Header lines are only retained for export.
func NewAccumulator(header ...string) *Accumulator {
	a := &Accumulator{entries: make([]Entry, 0, len(header)+64)}
	for _, line := range header {
		a.entries = append(a.entries, Entry{Message: line, Level: LevelInfo})
	}
	return a
}

// Log appends one entry.
func (a *Accumulator) Log(message string, level Level) {
	a.mu.Lock()
	a.entries = append(a.entries, Entry{Message: message, Level: level})
	a.mu.Unlock()
}

// Entries returns a copy of all entries in insertion order.
func (a *Accumulator) Entries() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Entry(nil), a.entries...)
}

// Len returns the number of entries.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// String joins all entries with newlines.
func (a *Accumulator) String() string {
	entries := a.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// Export writes the document to dir/name. The directory is deleted and
// recreated first so previous exports never pile up.
func (a *Accumulator) Export(dir, name string) (string, error) {
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("removing old log exports: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating log export directory: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(a.String()), 0o600); err != nil {
		return "", fmt.Errorf("writing log export: %w", err)
	}
	return path, nil
}

// Handler returns an slog.Handler that appends every record at Info or
// above to the accumulator.
func (a *Accumulator) Handler() slog.Handler {
	return &accumulatorHandler{acc: a}
}

type accumulatorHandler struct {
	acc    *Accumulator
	attrs  []slog.Attr
	groups []string
}

func (h *accumulatorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *accumulatorHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Message)

	prefix := strings.Join(h.groups, ".")
	for _, attr := range h.attrs {
		writeAttr(&b, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, prefix, attr)
		return true
	})

	h.acc.Log(b.String(), LevelFromSlog(record.Level))
	return nil
}

func (h *accumulatorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := strings.Join(h.groups, ".")
	next := append([]slog.Attr(nil), h.attrs...)
	for _, attr := range attrs {
		if prefix != "" {
			attr.Key = prefix + "." + attr.Key
		}
		next = append(next, attr)
	}
	return &accumulatorHandler{acc: h.acc, attrs: next, groups: h.groups}
}

func (h *accumulatorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(append([]string(nil), h.groups...), name)
	return &accumulatorHandler{acc: h.acc, attrs: h.attrs, groups: groups}
}

func writeAttr(b *strings.Builder, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := attr.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	if attr.Value.Kind() == slog.KindGroup {
		for _, inner := range attr.Value.Group() {
			writeAttr(b, key, inner)
		}
		return
	}

	fmt.Fprintf(b, " %s=%v", key, attr.Value.Any())
}
