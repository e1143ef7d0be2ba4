package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"slice2series/api/rest"
	"slice2series/core/comm"
	"slice2series/core/models"
	"slice2series/core/monitoring"
	"slice2series/core/repository"
	"slice2series/core/reshaper"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type convertFlags struct {
	spec   specFlags
	ledger ledgerFlags

	serial       bool
	workers      int
	skipExisting bool
	overwrite    bool
	appendTo     bool
	limit        int
	chunks       []string
	check        bool
	metricsFile  string
}

func newConvertCmd(a *app) *cobra.Command {
	f := &convertFlags{}
	cmd := &cobra.Command{
		Use:   "convert [flags] [slice files...]",
		Short: "Write one time-series file per variable",
		Example: `  reshaper convert -o out -m time_bnds hist/*.db
  reshaper convert --spec atm.yaml --workers 4 --chunk time=365
  RESHAPER_RANK=1 RESHAPER_SIZE=8 RESHAPER_COORDINATOR=node0:7077 reshaper convert --spec atm.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, a, f, args)
		},
	}
	f.spec.register(cmd)
	f.ledger.register(cmd)

	fl := cmd.Flags()
	fl.BoolVar(&f.serial, "serial", false, "Run on a single worker")
	fl.IntVarP(&f.workers, "workers", "w", 1, "Number of in-process workers")
	fl.BoolVar(&f.skipExisting, "skip-existing", false, "Skip variables whose output already exists")
	fl.BoolVar(&f.overwrite, "overwrite", false, "Replace existing outputs")
	fl.BoolVar(&f.appendTo, "append", false, "Append to existing outputs")
	fl.IntVarP(&f.limit, "limit", "l", 0, "Maximum number of outputs each worker writes (0 = no limit)")
	fl.StringArrayVarP(&f.chunks, "chunk", "c", nil, "Chunk size as dim=size (repeatable)")
	fl.BoolVar(&f.check, "check", false, "Compare every output with the inputs after writing")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "Write the report in Prometheus text format to this file")
	return cmd
}

func runConvert(cmd *cobra.Command, a *app, f *convertFlags, args []string) error {
	mode, err := models.WriteModeFromFlags(f.skipExisting, f.overwrite, f.appendTo)
	if err != nil {
		return err
	}
	chunks, err := parseChunks(f.chunks)
	if err != nil {
		return err
	}
	specs, err := f.spec.specifiers(args)
	if err != nil {
		return err
	}
	if f.workers < 1 {
		return models.Configf("--workers must be at least 1")
	}
	if a.cfg.Distributed() && (f.serial || f.workers > 1) {
		return models.Configf("--serial and --workers cannot be used when RESHAPER_SIZE is %d", a.cfg.Size)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := f.ledger.open(a)
	if err != nil {
		return err
	}
	var ledger *repository.RunRepository
	if db != nil {
		defer db.Close()
		ledger = repository.NewRunRepository(db)
	}

	opts := reshaper.Options{
		Verbosity:  a.verbosity,
		WriteMode:  mode,
		Once:       f.spec.once,
		Logger:     a.logger,
		Check:      f.check,
		Preprocess: f.spec.preprocess,
		Ledger:     ledger,
		Out:        cmd.OutOrStdout(),
	}

	var group comm.Comm
	if a.cfg.Distributed() {
		c, shutdown, err := a.joinGroup(db)
		if err != nil {
			return err
		}
		defer shutdown()
		group = c
	}

	failed := 0
	for i, s := range specs {
		label := specLabel(s, i)
		a.logger.Info("converting", zap.String("job", label), zap.Int("inputs", len(s.InputFiles)))

		var report *monitoring.Report
		switch {
		case group != nil:
			o := opts
			o.Comm = group
			report, err = convertWith(ctx, s, o, f.limit, chunks)
		case f.workers > 1 && !f.serial:
			report, err = reshaper.RunLocal(ctx, s, opts, f.workers, f.limit, chunks)
		default:
			o := opts
			o.Serial = true
			report, err = convertWith(ctx, s, o, f.limit, chunks)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if report.Partial {
			continue
		}
		failed += report.Failed()

		if f.metricsFile != "" {
			path := metricsPath(f.metricsFile, s.Name, i, len(specs))
			if err := writeMetrics(path, report); err != nil {
				return err
			}
		}
	}
	if failed > 0 {
		return errTasksFailed
	}
	return nil
}

func convertWith(ctx context.Context, s *models.Specifier, opts reshaper.Options, limit int, chunks map[string]int) (*monitoring.Report, error) {
	e, err := reshaper.NewWithContext(ctx, s, opts)
	if err != nil {
		return nil, err
	}
	if err := e.Convert(ctx, limit, chunks); err != nil {
		return nil, err
	}
	return e.Report(), nil
}

// joinGroup connects this process to the distributed group. Rank 0 also
// serves the coordinator, along with the ledger API when db is set.
func (a *app) joinGroup(db *repository.DB) (comm.Comm, func(), error) {
	shutdown := func() {}
	addr := a.cfg.Coordinator

	if a.cfg.Rank == comm.ManagerRank {
		srv := rest.NewServer(a.cfg.Coordinator, comm.NewCoordinator(a.cfg.Size), db, a.logger)
		bound, err := srv.Start()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start coordinator: %w", err)
		}
		addr = bound
		shutdown = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				a.logger.Warn("coordinator shutdown", zap.Error(err))
			}
		}
	}

	c, err := comm.NewHTTP(comm.HTTPConfig{
		Rank:    a.cfg.Rank,
		Size:    a.cfg.Size,
		BaseURL: addr,
		Timeout: a.cfg.CollectiveTimeout,
		Logger:  a.logger,
	})
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	return c, func() {
		c.Close()
		shutdown()
	}, nil
}

func metricsPath(base, name string, i, n int) string {
	if n == 1 {
		return base
	}
	if name == "" {
		name = fmt.Sprint(i)
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + name + ext
}

func writeMetrics(path string, report *monitoring.Report) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	if err := monitoring.WritePrometheus(file, report); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
