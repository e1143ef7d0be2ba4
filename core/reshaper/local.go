package reshaper

import (
	"context"

	"slice2series/core/comm"
	"slice2series/core/models"
	"slice2series/core/monitoring"

	"golang.org/x/sync/errgroup"
)

// RunLocal runs a conversion on workers goroutines of this process, each a
// rank of an in-process group, and returns the manager's report.
func RunLocal(ctx context.Context, spec *models.Specifier, opts Options, workers, outputLimit int, chunks map[string]int) (*monitoring.Report, error) {
	if workers < 1 {
		return nil, models.Configf("worker count %d must be positive", workers)
	}

	group := comm.NewLocalGroup(workers)
	engines := make([]*Engine, workers)

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range group {
		i, c := i, c
		o := opts
		o.Serial = false
		o.Comm = c
		if !comm.IsManager(c) {
			o.Out = nil
			o.Ledger = nil
		}
		g.Go(func() error {
			defer c.Close()
			e, err := NewWithContext(gctx, spec, o)
			if err != nil {
				return err
			}
			engines[i] = e
			return e.Convert(gctx, outputLimit, chunks)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return engines[comm.ManagerRank].Report(), nil
}
