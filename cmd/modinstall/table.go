package main

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/systemstart/modinstall/pkg/processing"
	"github.com/systemstart/modinstall/pkg/steps"
)

// column is a table header with the alignment of its cells.
type column struct {
	title string
	align text.Align
}

func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, c := range columns {
		header[i] = c.title
		configs[i] = table.ColumnConfig{Number: i + 1, Align: c.align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	return tw.Render()
}

var statusColors = map[steps.Status]text.Colors{
	steps.StatusOngoing:      {text.FgYellow},
	steps.StatusSuccessful:   {text.FgGreen},
	steps.StatusUnsuccessful: {text.FgRed, text.Bold},
}

func statusCell(s steps.Status, color bool) string {
	if !color {
		return s.String()
	}
	if c, ok := statusColors[s]; ok {
		return c.Sprint(s.String())
	}
	return s.String()
}

func formatDuration(d time.Duration, s steps.Status) string {
	if !s.Terminal() {
		return "-"
	}
	return d.Round(10 * time.Millisecond).String()
}

// renderSummary renders one row per step, grouped in display order, with a
// row per group carrying the folded status and total duration.
func renderSummary(snap processing.Snapshot, color bool) string {
	var rows [][]string
	for _, g := range snap.Grouped() {
		if len(g.Steps) == 0 {
			continue
		}
		status := g.Status()
		rows = append(rows, []string{g.Group.String(), "", statusCell(status, color), formatDuration(g.Duration(), status)})
		for _, s := range g.Steps {
			rows = append(rows, []string{"", string(s.Kind), statusCell(s.Status, color), formatDuration(s.Duration, s.Status)})
		}
	}
	return renderTable([]column{
		{"Group", text.AlignLeft},
		{"Step", text.AlignLeft},
		{"Status", text.AlignLeft},
		{"Duration", text.AlignRight},
	}, rows)
}
