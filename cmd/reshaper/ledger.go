package main

import (
	"fmt"

	"slice2series/core/repository"

	"github.com/spf13/cobra"
)

type ledgerFlags struct {
	driver string
	dsn    string
}

func (f *ledgerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.driver, "ledger-driver", "", "Run ledger driver: sqlite or postgres (default from RESHAPER_LEDGER_DRIVER)")
	cmd.Flags().StringVar(&f.dsn, "ledger-dsn", "", "Run ledger data source (default from RESHAPER_LEDGER_DSN); empty disables the ledger")
}

// open connects to the ledger and migrates it. It returns nil when no
// ledger is configured.
func (f *ledgerFlags) open(a *app) (*repository.DB, error) {
	driver, dsn := f.driver, f.dsn
	if driver == "" {
		driver = a.cfg.LedgerDriver
	}
	if dsn == "" {
		dsn = a.cfg.LedgerDSN
	}
	if dsn == "" {
		return nil, nil
	}

	db, err := repository.NewDB(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate run ledger: %w", err)
	}
	return db, nil
}
