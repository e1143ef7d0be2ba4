package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slice2series/api/rest"
	"slice2series/core/comm"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	f := &ledgerFlags{}
	var addr string
	var size int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run ledger and, with --size, a standalone coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := f.open(a)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}
			var coord *comm.Coordinator
			if size > 0 {
				coord = comm.NewCoordinator(size)
			}

			srv := rest.NewServer(addr, coord, db, a.logger)
			if _, err := srv.Start(); err != nil {
				return err
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case <-quit:
			case err := <-waitErr(srv):
				return err
			}

			a.logger.Info("shutting down server")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				a.logger.Error("server forced to shutdown", zap.Error(err))
				return err
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", ":7077", "Listen address")
	cmd.Flags().IntVar(&size, "size", 0, "Group size for the collective coordinator (0 disables it)")
	return cmd
}

func waitErr(srv *rest.Server) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- srv.Wait() }()
	return errc
}
