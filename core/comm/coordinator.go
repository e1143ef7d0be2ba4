package comm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Op names a collective operation.
type Op string

const (
	OpBarrier   Op = "barrier"
	OpBroadcast Op = "broadcast"
	OpGather    Op = "gather"
)

// ParseOp parses an operation name.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpBarrier, OpBroadcast, OpGather:
		return op, nil
	}
	return "", fmt.Errorf("unknown collective %q", s)
}

// Coordinator is the rendezvous point behind every multi-worker group.
// Each collective is identified by a sequence number that every rank
// increments in lockstep. The latest completed collective is kept for
// repeated requests.
type Coordinator struct {
	size int

	mu     sync.Mutex
	rounds map[uint64]*round
}

type round struct {
	op      Op
	parts   [][]byte
	arrived []bool
	waiting []int
	count   int
	done    chan struct{}
}

func (r *round) complete() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// RoundStatus describes an open collective.
type RoundStatus struct {
	Seq     uint64 `json:"seq"`
	Op      Op     `json:"op"`
	Arrived int    `json:"arrived"`
	Size    int    `json:"size"`
}

// NewCoordinator creates a new coordinator for size ranks
func NewCoordinator(size int) *Coordinator {
	return &Coordinator{
		size:   size,
		rounds: make(map[uint64]*round),
	}
}

// Size returns the group size.
func (c *Coordinator) Size() int { return c.size }

// Exchange records rank's contribution to collective seq and blocks until
// all ranks have contributed. It returns the parts this rank should see.
//
// A rank may post the same contribution again, as the HTTP client does when
// a request fails: the repeat joins the wait of the first one, or returns
// the result at once if the collective has completed. A rank whose every
// waiting call gives up before completion withdraws its contribution.
func (c *Coordinator) Exchange(ctx context.Context, seq uint64, op Op, rank int, payload []byte) ([][]byte, error) {
	if rank < 0 || rank >= c.size {
		return nil, fmt.Errorf("rank %d out of range for group of %d", rank, c.size)
	}

	c.mu.Lock()
	r, ok := c.rounds[seq]
	if !ok {
		r = &round{
			op:      op,
			parts:   make([][]byte, c.size),
			arrived: make([]bool, c.size),
			waiting: make([]int, c.size),
			done:    make(chan struct{}),
		}
		c.rounds[seq] = r
	}
	if r.op != op {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: collective %d is %s, rank %d called %s", ErrCollectiveMismatch, seq, r.op, rank, op)
	}
	if !r.arrived[rank] {
		r.arrived[rank] = true
		r.parts[rank] = payload
		r.count++
		if r.count == c.size {
			close(r.done)
			c.prune(seq)
		}
	}
	r.waiting[rank]++
	c.mu.Unlock()

	var waitErr error
	select {
	case <-r.done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	r.waiting[rank]--
	if !r.complete() {
		if r.waiting[rank] == 0 {
			r.arrived[rank] = false
			r.parts[rank] = nil
			r.count--
			if r.count == 0 {
				delete(c.rounds, seq)
			}
		}
		return nil, waitErr
	}
	return r.result(op, rank), nil
}

// prune drops completed collectives before seq. Every rank has contributed
// to seq, so every rank has already received their results.
func (c *Coordinator) prune(seq uint64) {
	for s, r := range c.rounds {
		if s < seq && r.complete() {
			delete(c.rounds, s)
		}
	}
}

func (r *round) result(op Op, rank int) [][]byte {
	switch op {
	case OpBroadcast:
		return [][]byte{r.parts[ManagerRank]}
	case OpGather:
		if rank != ManagerRank {
			return nil
		}
		return append([][]byte(nil), r.parts...)
	default:
		return nil
	}
}

// Pending lists collectives still waiting for ranks.
func (c *Coordinator) Pending() []RoundStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]RoundStatus, 0, len(c.rounds))
	for seq, r := range c.rounds {
		if r.complete() {
			continue
		}
		out = append(out, RoundStatus{Seq: seq, Op: r.op, Arrived: r.count, Size: c.size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
