package comm

import "context"

// Local is one member of an in-process group. Members share a Coordinator
// and are meant to run on separate goroutines.
type Local struct {
	rank  int
	coord *Coordinator
	seq   uint64
}

// NewLocalGroup creates size members sharing one coordinator
func NewLocalGroup(size int) []Comm {
	coord := NewCoordinator(size)
	group := make([]Comm, size)
	for i := range group {
		group[i] = &Local{rank: i, coord: coord}
	}
	return group
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return l.coord.Size() }

func (l *Local) next() uint64 {
	l.seq++
	return l.seq
}

func (l *Local) Barrier(ctx context.Context) error {
	_, err := l.coord.Exchange(ctx, l.next(), OpBarrier, l.rank, nil)
	return err
}

func (l *Local) Broadcast(ctx context.Context, payload []byte) ([]byte, error) {
	if l.rank != ManagerRank {
		payload = nil
	}
	parts, err := l.coord.Exchange(ctx, l.next(), OpBroadcast, l.rank, payload)
	if err != nil {
		return nil, err
	}
	return parts[0], nil
}

func (l *Local) Gather(ctx context.Context, payload []byte) ([][]byte, error) {
	return l.coord.Exchange(ctx, l.next(), OpGather, l.rank, payload)
}

func (l *Local) Close() error { return nil }
