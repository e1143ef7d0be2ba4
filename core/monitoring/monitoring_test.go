package monitoring

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"slice2series/core/comm"
	"slice2series/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fakeClock(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[i]
		i++
		return t
	}
}

func TestTimeKeeper(t *testing.T) {
	base := time.Unix(0, 0)
	tk := NewTimeKeeper()
	tk.now = fakeClock(base, base.Add(2*time.Second), base.Add(10*time.Second), base.Add(11*time.Second))

	tk.Start("a")
	tk.Stop("a")
	stop := tk.Track("a")
	stop()
	tk.Add("b", time.Minute)
	tk.Stop("never-started")

	assert.Equal(t, 3*time.Second, tk.Get("a"))
	assert.Equal(t, []TimerStat{{"a", 3 * time.Second}, {"b", time.Minute}}, tk.Snapshot())
}

func TestMaxTimers(t *testing.T) {
	got := MaxTimers(
		[]TimerStat{{"x", 1}, {"y", 5}},
		[]TimerStat{{"y", 2}, {"z", 3}, {"x", 4}},
	)
	assert.Equal(t, []TimerStat{{"x", 4}, {"y", 5}, {"z", 3}}, got)
}

func record(variable string, rank int, status models.TaskState, written int64) models.DiagnosticRecord {
	return models.DiagnosticRecord{
		Variable:       variable,
		Kind:           models.TaskSeries,
		Rank:           rank,
		Status:         status,
		BytesWritten:   written,
		BytesRequested: written,
		BytesActual:    4 << 20,
	}
}

func TestAggregator_ReduceSerial(t *testing.T) {
	agg := NewAggregator(0, nil)
	agg.Record(record("T", 0, models.TaskCompleted, 100))
	agg.Record(record("U", 0, models.TaskSkipped, 0))

	r, err := agg.Reduce(context.Background(), comm.NewSerial())
	require.NoError(t, err)

	assert.False(t, r.Partial)
	assert.Equal(t, 2, r.Totals.Tasks)
	assert.Equal(t, 1, r.Completed())
	assert.Equal(t, 1, r.Skipped())
	assert.Equal(t, 0, r.Failed())
	assert.Equal(t, int64(100), r.Totals.BytesWritten)
}

func TestAggregator_ReduceGroup(t *testing.T) {
	const size = 3
	group := comm.NewLocalGroup(size)
	reports := make([]*Report, size)

	g, ctx := errgroup.WithContext(context.Background())
	for _, c := range group {
		c := c
		g.Go(func() error {
			tk := NewTimeKeeper()
			tk.Add(TimerConversion, time.Duration(c.Rank()+1)*time.Second)
			agg := NewAggregator(c.Rank(), tk)
			agg.Record(record(string(rune('A'+c.Rank())), c.Rank(), models.TaskCompleted, 10))
			if c.Rank() == 2 {
				agg.Record(record("Z", 2, models.TaskFailed, 0))
			}
			r, err := agg.Reduce(ctx, c)
			reports[c.Rank()] = r
			return err
		})
	}
	require.NoError(t, g.Wait())

	root := reports[0]
	assert.False(t, root.Partial)
	assert.Equal(t, size, root.Workers)
	assert.Equal(t, 4, root.Totals.Tasks)
	assert.Equal(t, 1, root.Failed())
	assert.Equal(t, int64(30), root.Totals.BytesWritten)
	d, ok := root.Timer(TimerConversion)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	assert.True(t, reports[1].Partial)
	assert.Equal(t, 1, reports[1].Totals.Tasks)
}

func sampleReport() *Report {
	failed := record("U", 1, models.TaskFailed, 0)
	failed.Error = "type mismatch: variable \"U\""
	failed.ErrorKind = "type_mismatch"
	skipped := record("V", 0, models.TaskSkipped, 0)
	skipped.Transitions = []models.Transition{{From: models.TaskPending, To: models.TaskSkipped, Reason: "target exists"}}
	done := record("T", 0, models.TaskCompleted, 2048)
	done.Transitions = []models.Transition{
		{From: models.TaskPending, To: models.TaskOpening},
		{From: models.TaskOpening, To: models.TaskStreaming},
		{From: models.TaskStreaming, To: models.TaskCompleted},
	}

	r := NewReport([]models.DiagnosticRecord{done, failed, skipped}, []TimerStat{{TimerConversion, 1500 * time.Millisecond}})
	r.Name = "atm"
	r.Workers = 2
	return r
}

func TestReport_PrintVerbosity(t *testing.T) {
	r := sampleReport()

	var quiet bytes.Buffer
	r.Print(&quiet, 0)
	assert.Empty(t, quiet.String())

	var summary bytes.Buffer
	r.Print(&summary, 1)
	out := summary.String()
	assert.Contains(t, out, "CONVERSION SUMMARY: atm")
	assert.Contains(t, out, "Failed: 1")
	assert.Contains(t, out, "target exists")
	assert.Contains(t, out, "type mismatch")
	assert.NotContains(t, out, "TASKS")

	var table bytes.Buffer
	r.Print(&table, 2)
	assert.Contains(t, table.String(), "TASKS")
	assert.Contains(t, table.String(), "2.0 KiB")
	assert.NotContains(t, table.String(), "TIMING DATA")

	var full bytes.Buffer
	r.Print(&full, 3)
	assert.Contains(t, full.String(), "TIMING DATA")
	assert.Contains(t, full.String(), TimerConversion)
	assert.Contains(t, full.String(), "pending -> opening -> streaming -> completed")
}

func TestWritePrometheus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, `reshaper_tasks_total{status="failed"} 1`)
	assert.Contains(t, out, `reshaper_bytes_total{kind="written"} 2048`)
	assert.Contains(t, out, `reshaper_timer_seconds{timer="Complete Conversion Process"} 1.500000`)
	assert.Equal(t, 0, strings.Count(out, "\n\n"))
}
