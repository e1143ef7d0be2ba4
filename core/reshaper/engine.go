// Package reshaper turns a set of time-slice datasets into one time-series
// dataset per variable.
package reshaper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"slice2series/core/comm"
	"slice2series/core/executor"
	"slice2series/core/models"
	"slice2series/core/monitoring"
	"slice2series/core/scheduler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine converts one specifier. Every rank of the group builds its own
// engine and calls the same methods in the same order.
type Engine struct {
	spec   *models.Specifier
	opts   Options
	comm   comm.Comm
	logger *zap.Logger
	timer  *monitoring.TimeKeeper

	runID  string
	inv    *Inventory
	report *monitoring.Report
}

// announcement is what the manager broadcasts after analyzing the inputs.
type announcement struct {
	RunID     string     `json:"run_id"`
	Inventory *Inventory `json:"inventory,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// New creates a new engine
func New(spec *models.Specifier, opts Options) (*Engine, error) {
	return NewWithContext(context.Background(), spec, opts)
}

// NewWithContext validates the specifier and analyzes the inputs on the
// manager, then shares the result with every rank. A configuration error
// on the manager fails every rank.
func NewWithContext(ctx context.Context, spec *models.Specifier, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if spec == nil {
		return nil, models.Configf("no specifier")
	}
	if opts.Comm == nil {
		return nil, models.Configf("parallel run requested but no communicator is available")
	}
	if !opts.WriteMode.Valid() {
		return nil, models.Configf("unknown write mode %v", opts.WriteMode)
	}

	e := &Engine{
		spec: spec.Normalize(),
		opts: opts,
		comm: opts.Comm,
		logger: opts.Logger.With(
			zap.Int("rank", opts.Comm.Rank()),
			zap.Int("size", opts.Comm.Size()),
		),
		timer: monitoring.NewTimeKeeper(),
	}

	var msg announcement
	var localErr error
	if comm.IsManager(e.comm) {
		stop := e.timer.Track(monitoring.TimerAnalyzeInputs)
		inv, err := e.analyze()
		stop()
		msg.RunID = uuid.New().String()
		if err != nil {
			localErr = err
			msg.Error = err.Error()
		} else {
			msg.Inventory = inv
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	payload, err = e.comm.Broadcast(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to share input inventory: %w", err)
	}
	if localErr != nil {
		return nil, localErr
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode input inventory: %w", err)
	}
	if msg.Error != "" {
		return nil, &models.ConfigurationError{Msg: "manager rejected the job: " + msg.Error}
	}
	if msg.Inventory == nil {
		return nil, errors.New("manager sent no input inventory")
	}

	e.runID = msg.RunID
	e.inv = msg.Inventory
	e.logger = e.logger.With(zap.String("run", e.runID))
	for _, w := range e.inv.Warnings {
		e.logger.Warn(w)
	}
	e.logger.Info("inputs analyzed",
		zap.Int("files", len(e.inv.InputFiles)),
		zap.Int("steps", e.inv.TotalSteps()),
		zap.Int("series", len(e.inv.Series)),
	)
	return e, nil
}

func (e *Engine) analyze() (*Inventory, error) {
	if err := e.spec.Validate(); err != nil {
		return nil, err
	}
	if err := e.spec.CheckPaths(); err != nil {
		return nil, err
	}
	a := &analyzer{
		opener:     e.opts.Opener,
		spec:       e.spec,
		preprocess: e.opts.Preprocess,
		once:       e.opts.Once,
	}
	return a.analyze()
}

// RunID identifies this conversion in logs, reports and the ledger.
func (e *Engine) RunID() string { return e.runID }

// Inventory returns the analyzed inputs.
func (e *Engine) Inventory() *Inventory { return e.inv }

// Specifier returns the normalized specifier.
func (e *Engine) Specifier() *models.Specifier { return e.spec }

// Tasks returns the series tasks in declaration order with the given chunk
// policy.
func (e *Engine) Tasks(chunks models.ChunkPolicy) []models.VariableTask {
	inputs := e.sources()
	tasks := make([]models.VariableTask, len(e.inv.Series))
	for i, s := range e.inv.Series {
		tasks[i] = models.VariableTask{
			Index:      i,
			Variable:   s.Name,
			Kind:       models.TaskSeries,
			OutputPath: e.spec.OutputPath(s.Name),
			Inputs:     inputs,
			Chunks:     chunks,
			Weight:     s.Bytes,
		}
	}
	return tasks
}

// OnceTask returns the task writing the shared metadata file.
func (e *Engine) OnceTask() models.VariableTask {
	return models.VariableTask{
		Index:      -1,
		Variable:   e.spec.OnceFileName,
		Kind:       models.TaskOnce,
		OutputPath: e.spec.OutputPath(e.spec.OnceFileName),
		Inputs:     e.sources(),
	}
}

func (e *Engine) sources() []models.SliceSource {
	out := make([]models.SliceSource, len(e.inv.InputFiles))
	for i, path := range e.inv.InputFiles {
		out[i] = models.SliceSource{Path: path, Count: e.inv.Steps[i]}
	}
	return out
}

// Layout returns the variable classification shared by every task.
func (e *Engine) Layout() executor.Layout {
	return executor.Layout{
		OnceSet:        e.inv.OnceSet(),
		SeriesMetadata: !e.opts.Once,
	}
}

// Convert writes this worker's share of the outputs. outputLimit caps the
// number of series tasks this worker runs (0 means no cap). chunks overrides
// the specifier's chunk policy per dimension. Task failures end up in the
// report; the returned error covers bad arguments and failed collectives.
func (e *Engine) Convert(ctx context.Context, outputLimit int, chunks map[string]int) error {
	if outputLimit < 0 {
		return models.Configf("output limit %d must not be negative", outputLimit)
	}
	override := models.ChunkPolicy(chunks)
	if err := override.Validate(); err != nil {
		return err
	}
	policy := models.ResolveChunks(override, e.spec.Chunks)

	if err := e.comm.Barrier(ctx); err != nil {
		return fmt.Errorf("failed to synchronize workers: %w", err)
	}
	started := time.Now()
	stop := e.timer.Track(monitoring.TimerConversion)

	writer := executor.NewSeriesWriter(e.opts.Opener, e.Layout(),
		executor.WithCompression(e.spec.Compression),
		executor.WithCheck(e.opts.Check),
		executor.WithRank(e.comm.Rank()),
		executor.WithTimer(e.timer),
		executor.WithLogger(e.logger),
	)
	agg := monitoring.NewAggregator(e.comm.Rank(), e.timer)

	if e.opts.Once && comm.IsManager(e.comm) {
		agg.Record(writer.Write(ctx, e.OnceTask(), e.opts.WriteMode))
	}

	sched := scheduler.NewScheduler(e.spec.Partition, e.logger)
	plan, err := sched.Plan(e.Tasks(policy), e.comm.Size(), e.comm.Rank(), outputLimit)
	if err != nil {
		stop()
		return err
	}
	for _, task := range plan.Run {
		agg.Record(writer.Write(ctx, task, e.opts.WriteMode))
	}
	if len(plan.Deferred) > 0 {
		e.logger.Info("output limit reached", zap.Int("limit", outputLimit), zap.Int("deferred", len(plan.Deferred)))
	}
	stop()

	report, err := agg.Reduce(ctx, e.comm)
	if err != nil {
		return err
	}
	report.RunID = e.runID
	report.Name = e.spec.Name
	e.report = report

	if comm.IsManager(e.comm) {
		e.record(report, started)
		if e.opts.Out != nil {
			report.Print(e.opts.Out, e.opts.Verbosity)
		}
	}
	return nil
}

// record saves the run in the ledger. Ledger errors are logged only.
func (e *Engine) record(report *monitoring.Report, started time.Time) {
	if e.opts.Ledger == nil {
		return
	}
	run := &models.Run{
		ID:           e.runID,
		Name:         e.spec.Name,
		WriteMode:    e.opts.WriteMode.String(),
		Workers:      report.Workers,
		StartedAt:    started,
		FinishedAt:   time.Now(),
		Tasks:        report.Totals.Tasks,
		Completed:    report.Totals.Completed,
		Skipped:      report.Totals.Skipped,
		Failed:       report.Totals.Failed,
		BytesWritten: report.Totals.BytesWritten,
	}
	if err := e.opts.Ledger.SaveRun(run, report.Records); err != nil {
		e.logger.Error("failed to record run", zap.Error(err))
	}
}

// Report returns the report of the last Convert: the full report on the
// manager, this worker's records elsewhere. Nil before Convert.
func (e *Engine) Report() *monitoring.Report {
	return e.report
}

// PrintDiagnostics writes the report at the engine's verbosity. Only the
// manager prints.
func (e *Engine) PrintDiagnostics(w io.Writer) {
	if e.report == nil || !comm.IsManager(e.comm) {
		return
	}
	e.report.Print(w, e.opts.Verbosity)
}

// Verify compares this worker's outputs with the inputs. It checks the last
// records of every output, where the latest conversion wrote.
func (e *Engine) Verify(ctx context.Context) error {
	sched := scheduler.NewScheduler(e.spec.Partition, e.logger)
	plan, err := sched.Plan(e.Tasks(e.spec.Chunks), e.comm.Size(), e.comm.Rank(), 0)
	if err != nil {
		return err
	}
	tasks := plan.Run
	if e.opts.Once && comm.IsManager(e.comm) {
		tasks = append([]models.VariableTask{e.OnceTask()}, tasks...)
	}

	layout := e.Layout()
	var errs []error
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop := e.timer.Track(monitoring.TimerVerify)
		err := executor.VerifyTail(e.opts.Opener, layout, task)
		stop()
		if err != nil {
			e.logger.Warn("verification failed", zap.String("variable", task.Variable), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		e.logger.Debug("verified", zap.String("variable", task.Variable))
	}
	return errors.Join(errs...)
}
