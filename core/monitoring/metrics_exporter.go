package monitoring

import (
	"fmt"
	"io"
	"strings"
)

// WritePrometheus writes the report in Prometheus text exposition format so
// batch schedulers can hand it to a node exporter textfile collector.
func WritePrometheus(w io.Writer, r *Report) error {
	var sb strings.Builder

	sb.WriteString("# HELP reshaper_tasks_total Number of variable tasks by final status\n")
	sb.WriteString("# TYPE reshaper_tasks_total gauge\n")
	fmt.Fprintf(&sb, "reshaper_tasks_total{status=\"completed\"} %d\n", r.Totals.Completed)
	fmt.Fprintf(&sb, "reshaper_tasks_total{status=\"skipped\"} %d\n", r.Totals.Skipped)
	fmt.Fprintf(&sb, "reshaper_tasks_total{status=\"failed\"} %d\n", r.Totals.Failed)

	sb.WriteString("# HELP reshaper_bytes_total Bytes moved by the conversion\n")
	sb.WriteString("# TYPE reshaper_bytes_total gauge\n")
	fmt.Fprintf(&sb, "reshaper_bytes_total{kind=\"written\"} %d\n", r.Totals.BytesWritten)
	fmt.Fprintf(&sb, "reshaper_bytes_total{kind=\"requested\"} %d\n", r.Totals.BytesRequested)
	fmt.Fprintf(&sb, "reshaper_bytes_total{kind=\"actual\"} %d\n", r.Totals.BytesActual)

	sb.WriteString("# HELP reshaper_workers Number of workers in the run\n")
	sb.WriteString("# TYPE reshaper_workers gauge\n")
	fmt.Fprintf(&sb, "reshaper_workers %d\n", r.Workers)

	sb.WriteString("# HELP reshaper_task_seconds Wall time per variable task\n")
	sb.WriteString("# TYPE reshaper_task_seconds gauge\n")
	for _, rec := range r.Records {
		fmt.Fprintf(&sb, "reshaper_task_seconds{variable=\"%s\",kind=\"%s\",rank=\"%d\",status=\"%s\"} %.6f\n",
			escapeLabel(rec.Variable), rec.Kind, rec.Rank, rec.Status, rec.Elapsed.Seconds())
	}

	sb.WriteString("# HELP reshaper_task_bytes Bytes written per variable task\n")
	sb.WriteString("# TYPE reshaper_task_bytes gauge\n")
	for _, rec := range r.Records {
		fmt.Fprintf(&sb, "reshaper_task_bytes{variable=\"%s\",kind=\"%s\"} %d\n",
			escapeLabel(rec.Variable), rec.Kind, rec.BytesWritten)
	}

	sb.WriteString("# HELP reshaper_timer_seconds Named timers, maximum across workers\n")
	sb.WriteString("# TYPE reshaper_timer_seconds gauge\n")
	for _, t := range r.Timers {
		fmt.Fprintf(&sb, "reshaper_timer_seconds{timer=\"%s\"} %.6f\n", escapeLabel(t.Name), t.Duration.Seconds())
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func escapeLabel(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s)
}
