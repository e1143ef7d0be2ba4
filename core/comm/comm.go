// Package comm provides the collective operations workers use to agree on
// the input inventory and to gather diagnostics. Rank 0 is the manager.
package comm

import (
	"context"
	"errors"
)

// ManagerRank is the rank that analyzes inputs and receives gathered data.
const ManagerRank = 0

// ErrCollectiveMismatch is returned when ranks disagree on which collective
// a sequence number belongs to.
var ErrCollectiveMismatch = errors.New("collective mismatch")

// Comm is a fixed group of workers. Every rank must call the collectives in
// the same order.
type Comm interface {
	Rank() int
	Size() int
	// Barrier blocks until every rank has entered it.
	Barrier(ctx context.Context) error
	// Broadcast returns the manager's payload on every rank. Non-manager
	// payloads are ignored.
	Broadcast(ctx context.Context, payload []byte) ([]byte, error)
	// Gather returns every rank's payload, indexed by rank, on the manager
	// and nil elsewhere.
	Gather(ctx context.Context, payload []byte) ([][]byte, error)
	Close() error
}

// IsManager reports whether c is the manager rank.
func IsManager(c Comm) bool {
	return c.Rank() == ManagerRank
}

// Serial is the single-worker group.
type Serial struct{}

// NewSerial creates a new serial group
func NewSerial() *Serial { return &Serial{} }

func (Serial) Rank() int { return 0 }
func (Serial) Size() int { return 1 }

func (Serial) Barrier(ctx context.Context) error { return ctx.Err() }

func (Serial) Broadcast(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return payload, nil
}

func (Serial) Gather(ctx context.Context, payload []byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return [][]byte{payload}, nil
}

func (Serial) Close() error { return nil }
