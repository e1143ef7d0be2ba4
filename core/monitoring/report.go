package monitoring

import (
	"fmt"
	"io"
	"strings"
	"time"

	"slice2series/core/models"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
)

// Totals are the counters summed over every record of a report
type Totals struct {
	Tasks          int
	Completed      int
	Skipped        int
	Failed         int
	Steps          int
	BytesWritten   int64
	BytesRequested int64
	BytesActual    int64
}

// Report is the reduced diagnostics of one conversion
type Report struct {
	RunID   string
	Name    string
	Workers int
	Partial bool // true on non-manager ranks, which only see their own records
	Records []models.DiagnosticRecord
	Timers  []TimerStat
	Totals  Totals
}

// NewReport creates a new report and computes its totals
func NewReport(records []models.DiagnosticRecord, timers []TimerStat) *Report {
	r := &Report{Records: records, Timers: timers}
	for _, rec := range records {
		r.Totals.Tasks++
		switch rec.Status {
		case models.TaskCompleted:
			r.Totals.Completed++
		case models.TaskSkipped:
			r.Totals.Skipped++
		case models.TaskFailed:
			r.Totals.Failed++
		}
		r.Totals.Steps += rec.Steps
		r.Totals.BytesWritten += rec.BytesWritten
		r.Totals.BytesRequested += rec.BytesRequested
		r.Totals.BytesActual += rec.BytesActual
	}
	return r
}

// Failed returns the number of failed tasks
func (r *Report) Failed() int { return r.Totals.Failed }

// Completed returns the number of completed tasks
func (r *Report) Completed() int { return r.Totals.Completed }

// Skipped returns the number of skipped tasks
func (r *Report) Skipped() int { return r.Totals.Skipped }

// Timer returns the named timer
func (r *Report) Timer(name string) (time.Duration, bool) {
	for _, t := range r.Timers {
		if t.Name == name {
			return t.Duration, true
		}
	}
	return 0, false
}

// Record returns the record of a series variable, or of the once file when
// kind is models.TaskOnce
func (r *Report) Record(kind models.TaskKind, variable string) (models.DiagnosticRecord, bool) {
	for _, rec := range r.Records {
		if rec.Kind == kind && rec.Variable == variable {
			return rec, true
		}
	}
	return models.DiagnosticRecord{}, false
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB454"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#777777"))
)

func statusStyle(s models.TaskState) lipgloss.Style {
	switch s {
	case models.TaskCompleted:
		return successStyle
	case models.TaskSkipped:
		return warningStyle
	case models.TaskFailed:
		return errorStyle
	default:
		return mutedStyle
	}
}

func label(rec models.DiagnosticRecord) string {
	if rec.Kind == models.TaskOnce {
		return rec.Variable + " (once)"
	}
	return rec.Variable
}

func reason(rec models.DiagnosticRecord) string {
	if rec.Error != "" {
		return rec.Error
	}
	for i := len(rec.Transitions) - 1; i >= 0; i-- {
		if rec.Transitions[i].Reason != "" {
			return rec.Transitions[i].Reason
		}
	}
	return ""
}

// Print writes the report at the given verbosity. 0 prints nothing, 1 a
// summary with every skip and failure, 2 adds the per-task table and 3 the
// timers and state transitions.
func (r *Report) Print(w io.Writer, verbosity int) {
	if verbosity <= 0 {
		return
	}
	var sb strings.Builder

	title := "CONVERSION SUMMARY"
	if r.Name != "" {
		title += ": " + r.Name
	}
	sb.WriteString(headerStyle.Render(title))
	sb.WriteString("\n")
	if r.RunID != "" {
		sb.WriteString(mutedStyle.Render("run " + r.RunID))
		sb.WriteString("\n")
	}
	if r.Partial {
		sb.WriteString(mutedStyle.Render("local records only; the manager rank holds the full report"))
		sb.WriteString("\n")
	}

	t := r.Totals
	fmt.Fprintf(&sb, "Tasks: %d    %s    %s    %s    Workers: %d\n",
		t.Tasks,
		successStyle.Render(fmt.Sprintf("Completed: %d", t.Completed)),
		warningStyle.Render(fmt.Sprintf("Skipped: %d", t.Skipped)),
		statusStyle(failedState(t.Failed)).Render(fmt.Sprintf("Failed: %d", t.Failed)),
		r.Workers,
	)
	fmt.Fprintf(&sb, "Written: %s    Requested Data: %s    Actual Data: %s\n",
		humanize.IBytes(uint64(t.BytesWritten)),
		humanize.IBytes(uint64(t.BytesRequested)),
		humanize.IBytes(uint64(t.BytesActual)),
	)

	for _, rec := range r.Records {
		if rec.Status != models.TaskSkipped && rec.Status != models.TaskFailed {
			continue
		}
		status := strings.ToUpper(string(rec.Status))
		fmt.Fprintf(&sb, "  %s %s  %s\n",
			statusStyle(rec.Status).Render(runewidth.FillRight(status, 8)),
			label(rec),
			mutedStyle.Render(reason(rec)),
		)
	}

	if verbosity >= 2 && len(r.Records) > 0 {
		sb.WriteString("\n")
		sb.WriteString(headerStyle.Render("TASKS"))
		sb.WriteString("\n")
		r.writeTaskTable(&sb)
	}

	if verbosity >= 3 {
		if len(r.Timers) > 0 {
			sb.WriteString("\n")
			sb.WriteString(headerStyle.Render("TIMING DATA"))
			sb.WriteString("\n")
			width := 0
			for _, tm := range r.Timers {
				width = max(width, runewidth.StringWidth(tm.Name))
			}
			for _, tm := range r.Timers {
				fmt.Fprintf(&sb, "  %s  %10.3f s\n", runewidth.FillRight(tm.Name, width), tm.Duration.Seconds())
			}
		}

		sb.WriteString("\n")
		sb.WriteString(headerStyle.Render("TRANSITIONS"))
		sb.WriteString("\n")
		for _, rec := range r.Records {
			states := make([]string, 0, len(rec.Transitions)+1)
			if len(rec.Transitions) > 0 {
				states = append(states, string(rec.Transitions[0].From))
			}
			for _, tr := range rec.Transitions {
				states = append(states, string(tr.To))
			}
			fmt.Fprintf(&sb, "  %s  %s\n", label(rec), mutedStyle.Render(strings.Join(states, " -> ")))
		}
	}

	io.WriteString(w, sb.String())
}

func failedState(n int) models.TaskState {
	if n > 0 {
		return models.TaskFailed
	}
	return models.TaskCompleted
}

func (r *Report) writeTaskTable(sb *strings.Builder) {
	header := []string{"VARIABLE", "RANK", "STATUS", "STEPS", "ELAPSED", "WRITTEN"}
	rows := make([][]string, 0, len(r.Records))
	for _, rec := range r.Records {
		rows = append(rows, []string{
			label(rec),
			fmt.Sprint(rec.Rank),
			string(rec.Status),
			fmt.Sprint(rec.Steps),
			rec.Elapsed.Round(time.Millisecond).String(),
			humanize.IBytes(uint64(rec.BytesWritten)),
		})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = runewidth.FillRight(h, widths[i])
	}
	sb.WriteString("  " + mutedStyle.Render(strings.Join(cells, "  ")) + "\n")

	for n, row := range rows {
		for i, cell := range row {
			cells[i] = runewidth.FillRight(cell, widths[i])
		}
		cells[2] = statusStyle(r.Records[n].Status).Render(cells[2])
		sb.WriteString("  " + strings.Join(cells, "  ") + "\n")
	}
}
