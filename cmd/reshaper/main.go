// Command reshaper converts time-slice datasets into per-variable
// time-series datasets.
package main

import (
	"errors"
	"fmt"
	"os"

	"slice2series/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errTasksFailed makes the process exit non-zero after a report was printed.
var errTasksFailed = errors.New("one or more tasks failed")

// app carries the state shared by every command
type app struct {
	verbosity  int
	logFormat  string
	configPath string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "reshaper",
		Short: "Convert time-slice datasets into time-series datasets",
		Long: `reshaper reads an ordered set of time-slice dataset files, each holding every
variable for a few time steps, and writes one time-series file per variable
holding that variable's complete history.

Parallel runs either start several workers in this process (--workers) or
run one process per rank with RESHAPER_RANK, RESHAPER_SIZE and
RESHAPER_COORDINATOR set; rank 0 then serves the coordinator.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	root.PersistentFlags().CountVarP(&a.verbosity, "verbose", "v", "Increase report and log detail (repeatable)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: console or json (default from RESHAPER_LOG_FORMAT)")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML file overlaying the RESHAPER_* environment")

	root.AddCommand(newConvertCmd(a))
	root.AddCommand(newVerifyCmd(a))
	root.AddCommand(newInspectCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newServeCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFile(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.logFormat != "" {
		a.cfg.LogFormat = a.logFormat
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.logger, err = config.NewLogger(a.verbosity, a.cfg.LogFormat)
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
