package reshaper

import (
	"io"

	"slice2series/core/comm"
	"slice2series/core/models"
	"slice2series/core/repository"
	"slice2series/storage"

	"go.uber.org/zap"
)

// Options configure an Engine
type Options struct {
	// Serial runs on a single worker. When false, Comm must be set.
	Serial    bool
	Verbosity int
	WriteMode models.WriteMode
	// Once writes the shared metadata to its own file and leaves it out of
	// the series files.
	Once bool
	Comm comm.Comm
	// Opener defaults to the SQLite dataset format.
	Opener storage.Opener
	Logger *zap.Logger
	// Check re-reads every output after writing it.
	Check bool
	// Preprocess requires the unlimited coordinate in every input and warns
	// about variables missing from later inputs.
	Preprocess bool
	// Ledger records the run on the manager when set.
	Ledger *repository.RunRepository
	// Out receives the report at the end of Convert. Nil prints nothing.
	Out io.Writer
}

func (o Options) withDefaults() Options {
	if o.Opener == nil {
		o.Opener = storage.NewSQLiteOpener()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Serial {
		o.Comm = comm.NewSerial()
	}
	return o
}
