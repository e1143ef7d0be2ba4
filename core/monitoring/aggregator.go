package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"slice2series/core/comm"
	"slice2series/core/models"
)

// Aggregator collects one worker's diagnostic records. It is owned by a
// single engine; there is no process-wide instance.
type Aggregator struct {
	mu      sync.Mutex
	rank    int
	records []models.DiagnosticRecord
	timer   *TimeKeeper
}

// NewAggregator creates a new aggregator for rank. timer may be nil.
func NewAggregator(rank int, timer *TimeKeeper) *Aggregator {
	if timer == nil {
		timer = NewTimeKeeper()
	}
	return &Aggregator{rank: rank, timer: timer}
}

// Record adds one task outcome
func (a *Aggregator) Record(rec models.DiagnosticRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

// Records returns the records collected so far
func (a *Aggregator) Records() []models.DiagnosticRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.DiagnosticRecord(nil), a.records...)
}

// Local returns a report over this worker's records only
func (a *Aggregator) Local() *Report {
	r := NewReport(a.Records(), a.timer.Snapshot())
	r.Workers = 1
	return r
}

type shard struct {
	Rank    int                       `json:"rank"`
	Records []models.DiagnosticRecord `json:"records"`
	Timers  []TimerStat               `json:"timers"`
}

// Reduce gathers every worker's records and timers onto the manager. The
// manager gets the combined report; other ranks get their local report
// marked partial. Every rank in c must call Reduce.
func (a *Aggregator) Reduce(ctx context.Context, c comm.Comm) (*Report, error) {
	payload, err := json.Marshal(shard{Rank: a.rank, Records: a.Records(), Timers: a.timer.Snapshot()})
	if err != nil {
		return nil, err
	}

	parts, err := c.Gather(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to gather diagnostics: %w", err)
	}

	if !comm.IsManager(c) {
		r := a.Local()
		r.Workers = c.Size()
		r.Partial = true
		return r, nil
	}

	shards := make([]shard, 0, len(parts))
	for i, p := range parts {
		var s shard
		if err := json.Unmarshal(p, &s); err != nil {
			return nil, fmt.Errorf("failed to decode diagnostics from rank %d: %w", i, err)
		}
		shards = append(shards, s)
	}
	sort.SliceStable(shards, func(i, j int) bool { return shards[i].Rank < shards[j].Rank })

	var records []models.DiagnosticRecord
	timers := make([][]TimerStat, 0, len(shards))
	for _, s := range shards {
		records = append(records, s.Records...)
		timers = append(timers, s.Timers)
	}

	r := NewReport(records, MaxTimers(timers...))
	r.Workers = c.Size()
	return r, nil
}
