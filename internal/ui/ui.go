// Package ui renders human-facing devenv output.
package ui

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"studysprint/devenv/internal/orchestrator"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// UI writes styled lines to out and errors to err.
type UI struct {
	out io.Writer
	err io.Writer
}

// New returns a UI writing to out and err.
func New(out, err io.Writer) *UI {
	return &UI{out: out, err: err}
}

func (ui *UI) Success(msg string) {
	fmt.Fprintln(ui.out, successStyle.Render("✓ "+msg))
}

func (ui *UI) Error(msg string) {
	fmt.Fprintln(ui.err, errorStyle.Render("✗ "+msg))
}

func (ui *UI) Warning(msg string) {
	fmt.Fprintln(ui.out, warningStyle.Render("⚠ "+msg))
}

func (ui *UI) Info(msg string) {
	fmt.Fprintln(ui.out, infoStyle.Render("ℹ "+msg))
}

func (ui *UI) Subtle(msg string) {
	fmt.Fprintln(ui.out, subtleStyle.Render(msg))
}

func (ui *UI) Header(title string) {
	fmt.Fprintln(ui.out, headerStyle.Render(title))
}

// KeyValue prints an indented key: value pair.
func (ui *UI) KeyValue(key, value string) {
	fmt.Fprintf(ui.out, "  %s: %s\n", subtleStyle.Render(key), value)
}

// Bootstrap prints one status line per phase, then the outcome.
func (ui *UI) Bootstrap(r *orchestrator.BootstrapResult) {
	ui.Header("StudySprint development environment")

	for _, p := range r.Phases {
		switch p.Status {
		case orchestrator.StatusOK:
			ui.Success(fmt.Sprintf("%-12s %dms", p.Name, p.DurationMs))
		case orchestrator.StatusSkipped:
			ui.Subtle("- " + p.Name + " skipped")
		default:
			ui.Error(fmt.Sprintf("%-12s %s", p.Name, p.Error))
		}
	}

	if len(r.Readiness) > 0 {
		names := make([]string, 0, len(r.Readiness))
		for name := range r.Readiness {
			names = append(names, name)
		}
		sort.Strings(names)

		t := ui.NewTable("SERVICE", "STATE", "ATTEMPTS")
		for _, name := range names {
			rd := r.Readiness[name]
			t.AddRow(name, string(rd.State), strconv.Itoa(rd.Attempts))
		}
		t.Render()
	}

	if r.Smoke != nil {
		for _, c := range r.Smoke.Checks {
			if c.OK {
				ui.KeyValue("smoke "+c.Name, "pass")
			} else {
				ui.KeyValue("smoke "+c.Name, "FAIL "+c.Error)
			}
		}
	}

	if r.Status == orchestrator.StatusOK {
		ui.Success("environment ready")
		return
	}
	ui.Error("environment not ready: " + r.Error)
}

// Probes prints one line per service probe, sorted by name.
func (ui *UI) Probes(results map[string]orchestrator.ProbeResult) {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := results[name]
		if r.OK {
			ui.Success(fmt.Sprintf("%s up (%dms)", name, r.LatencyMs))
		} else {
			ui.Error(fmt.Sprintf("%s down: %s", name, r.Error))
		}
	}
}

// Table prints aligned columns.
type Table struct {
	ui      *UI
	headers []string
	rows    [][]string
}

func (ui *UI) NewTable(headers ...string) *Table {
	return &Table{ui: ui, headers: headers}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(t.headers))
		for i := range t.headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = padRight(cell, widths[i])
		}
		return strings.Join(parts, "  ")
	}

	fmt.Fprintln(t.ui.out, "  "+headerStyle.Render(line(t.headers)))
	for _, row := range t.rows {
		fmt.Fprintln(t.ui.out, "  "+line(row))
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
