package monitoring

import (
	"sync"
	"time"
)

// Timer names shared by the engine and the series writer.
const (
	TimerConversion         = "Complete Conversion Process"
	TimerAnalyzeInputs      = "Analyze Input Files"
	TimerOpenOutput         = "Open Output Files"
	TimerWriteTimeInvariant = "Write Time-Invariant Metadata"
	TimerWriteTimeVariant   = "Write Time-Variant Metadata"
	TimerWriteSeries        = "Write Time-Series Variables"
	TimerCloseOutput        = "Close Output Files"
	TimerVerify             = "Verify Output Files"
)

// TimerStat is the accumulated duration of one named timer
type TimerStat struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// TimeKeeper accumulates named wall-clock timers
type TimeKeeper struct {
	mu      sync.Mutex
	order   []string
	totals  map[string]time.Duration
	started map[string]time.Time
	now     func() time.Time
}

// NewTimeKeeper creates a new time keeper
func NewTimeKeeper() *TimeKeeper {
	return &TimeKeeper{
		totals:  make(map[string]time.Duration),
		started: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Start starts (or restarts) the named timer
func (tk *TimeKeeper) Start(name string) {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	tk.register(name)
	tk.started[name] = tk.now()
}

// Stop stops the named timer and adds the elapsed time to its total
func (tk *TimeKeeper) Stop(name string) {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	start, ok := tk.started[name]
	if !ok {
		return
	}
	delete(tk.started, name)
	tk.totals[name] += tk.now().Sub(start)
}

// Track starts the named timer and returns the function that stops it
func (tk *TimeKeeper) Track(name string) func() {
	tk.Start(name)
	return func() { tk.Stop(name) }
}

// Add adds d to the named timer
func (tk *TimeKeeper) Add(name string, d time.Duration) {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	tk.register(name)
	tk.totals[name] += d
}

// Get returns the accumulated time of the named timer
func (tk *TimeKeeper) Get(name string) time.Duration {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.totals[name]
}

// Snapshot returns every timer in first-use order
func (tk *TimeKeeper) Snapshot() []TimerStat {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	out := make([]TimerStat, 0, len(tk.order))
	for _, name := range tk.order {
		out = append(out, TimerStat{Name: name, Duration: tk.totals[name]})
	}
	return out
}

func (tk *TimeKeeper) register(name string) {
	if _, ok := tk.totals[name]; !ok {
		tk.order = append(tk.order, name)
		tk.totals[name] = 0
	}
}

// MaxTimers merges timer lists by taking the largest duration per name.
// Names keep the order in which they are first seen.
func MaxTimers(lists ...[]TimerStat) []TimerStat {
	index := make(map[string]int)
	var out []TimerStat
	for _, list := range lists {
		for _, t := range list {
			i, ok := index[t.Name]
			if !ok {
				index[t.Name] = len(out)
				out = append(out, t)
				continue
			}
			if t.Duration > out[i].Duration {
				out[i].Duration = t.Duration
			}
		}
	}
	return out
}
