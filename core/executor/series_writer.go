package executor

import (
	"context"
	"fmt"
	"time"

	"slice2series/core/models"
	"slice2series/core/monitoring"
	"slice2series/storage"

	"go.uber.org/zap"
)

// blockSize is the assumed file system block used for the actual byte count.
const blockSize = 4 << 20

// Layout is the job-wide variable classification every task shares. It is
// computed once from the reference input.
type Layout struct {
	models.OnceSet
	// SeriesMetadata is false when a once file carries the metadata and the
	// series files hold only their own variable.
	SeriesMetadata bool
}

// Variables returns the variables a task copies once (time-invariant) and
// the ones it streams along the unlimited dimension.
func (l Layout) Variables(task models.VariableTask) (copied, streamed []string) {
	if task.Kind == models.TaskOnce {
		return l.TimeInvariant, l.TimeVariant
	}
	streamed = []string{task.Variable}
	if l.SeriesMetadata {
		copied = l.TimeInvariant
		streamed = append(streamed, l.TimeVariant...)
	}
	return copied, streamed
}

// SeriesWriter produces one output file per task
type SeriesWriter struct {
	opener      storage.Opener
	layout      Layout
	compression int
	check       bool
	rank        int
	timer       *monitoring.TimeKeeper
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a SeriesWriter
type Option func(*SeriesWriter)

// WithCompression sets the zlib level of new outputs
func WithCompression(level int) Option {
	return func(w *SeriesWriter) { w.compression = level }
}

// WithCheck re-reads every finished output and compares it to the inputs
func WithCheck(check bool) Option {
	return func(w *SeriesWriter) { w.check = check }
}

// WithRank sets the rank stamped on records
func WithRank(rank int) Option {
	return func(w *SeriesWriter) { w.rank = rank }
}

// WithTimer sets the time keeper
func WithTimer(tk *monitoring.TimeKeeper) Option {
	return func(w *SeriesWriter) { w.timer = tk }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(w *SeriesWriter) { w.logger = logger }
}

// NewSeriesWriter creates a new series writer
func NewSeriesWriter(opener storage.Opener, layout Layout, opts ...Option) *SeriesWriter {
	w := &SeriesWriter{
		opener: opener,
		layout: layout,
		timer:  monitoring.NewTimeKeeper(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write runs one task to completion and returns its record. Task failures
// are reported in the record, never returned.
func (w *SeriesWriter) Write(ctx context.Context, task models.VariableTask, mode models.WriteMode) models.DiagnosticRecord {
	start := w.now()
	run := newTaskRun(task, w.rank, w.now)
	logger := w.logger.With(zap.String("variable", task.Variable), zap.String("output", task.OutputPath))

	if err := w.write(ctx, run, task, mode); err != nil {
		run.fail(err)
		logger.Warn("task failed", zap.String("kind", run.rec.ErrorKind), zap.Error(err))
	} else {
		logger.Info("task finished", zap.String("status", string(run.rec.Status)), zap.Int("steps", run.rec.Steps))
	}
	run.rec.Elapsed = w.now().Sub(start)
	return *run.rec
}

func (w *SeriesWriter) write(ctx context.Context, run *taskRun, task models.VariableTask, mode models.WriteMode) error {
	exists, err := w.opener.Exists(task.OutputPath)
	if err != nil {
		return err
	}

	reason := "create"
	switch mode {
	case models.WriteSkip:
		if exists {
			return run.to(models.TaskSkipped, "target exists")
		}
	case models.WriteNormal:
		if exists {
			return &models.TargetExistsError{Path: task.OutputPath}
		}
	case models.WriteOverwrite:
		if exists {
			reason = "overwrite"
		}
	case models.WriteAppend:
		if exists {
			reason = "append"
		}
	default:
		return models.Configf("unknown write mode %v", mode)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := run.to(models.TaskOpening, reason); err != nil {
		return err
	}

	out, offset, err := w.open(task, mode, exists)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			out.Close()
		}
	}()

	if err := run.to(models.TaskStreaming, ""); err != nil {
		return err
	}
	if err := w.stream(ctx, run.rec, out, task, offset); err != nil {
		return err
	}

	stop := w.timer.Track(monitoring.TimerCloseOutput)
	err = out.Close()
	closed = true
	stop()
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", task.OutputPath, err)
	}

	if w.check {
		stop := w.timer.Track(monitoring.TimerVerify)
		err := VerifyOutput(w.opener, w.layout, task, offset)
		stop()
		if err != nil {
			return err
		}
	}
	return run.to(models.TaskCompleted, "")
}

// open prepares the output file and returns it with the time offset at
// which new records go.
func (w *SeriesWriter) open(task models.VariableTask, mode models.WriteMode, exists bool) (storage.Dataset, int, error) {
	defer w.timer.Track(monitoring.TimerOpenOutput)()

	if mode == models.WriteOverwrite && exists {
		if err := w.opener.Remove(task.OutputPath); err != nil {
			return nil, 0, fmt.Errorf("failed to remove %s: %w", task.OutputPath, err)
		}
		exists = false
	}

	ref, err := w.opener.Open(w.layout.Reference)
	if err != nil {
		return nil, 0, err
	}
	defer ref.Close()

	if mode == models.WriteAppend && exists {
		out, err := w.opener.OpenAppend(task.OutputPath)
		if err != nil {
			return nil, 0, err
		}
		offset, err := w.checkAppend(out, ref, task)
		if err != nil {
			out.Close()
			return nil, 0, err
		}
		return out, offset, nil
	}

	out, err := w.opener.Create(task.OutputPath, storage.CreateOptions{Compression: w.compression})
	if err != nil {
		return nil, 0, err
	}
	if err := w.define(out, ref, task); err != nil {
		out.Close()
		return nil, 0, err
	}
	return out, 0, nil
}

// define lays out a new output: dimensions, global attributes, the
// time-invariant metadata with its data, and the streamed variables.
func (w *SeriesWriter) define(out storage.Dataset, ref storage.Reader, task models.VariableTask) error {
	for _, d := range ref.Dimensions() {
		if d.Unlimited {
			d.Length = 0
		}
		if err := out.DefineDimension(d); err != nil {
			return err
		}
	}
	if err := out.SetAttributes(ref.Attributes()); err != nil {
		return err
	}

	copied, streamed := w.layout.Variables(task)

	stop := w.timer.Track(monitoring.TimerWriteTimeInvariant)
	for _, name := range copied {
		v, err := ref.Variable(name)
		if err != nil {
			stop()
			return err
		}
		def := storage.VariableDef{Name: name, DType: v.DType, Dimensions: v.Dimensions, Attributes: v.Attributes}
		if err := out.DefineVariable(def); err != nil {
			stop()
			return err
		}
		arr, err := storage.ReadAll(ref, name)
		if err != nil {
			stop()
			return err
		}
		if err := out.Write(name, make([]int, len(v.Shape)), arr); err != nil {
			stop()
			return err
		}
	}
	stop()

	for _, name := range streamed {
		v, err := ref.Variable(name)
		if err != nil {
			return err
		}
		policy := task.Chunks
		if name != task.Variable || task.Kind == models.TaskOnce {
			policy = nil
		}
		def := storage.VariableDef{
			Name:       name,
			DType:      v.DType,
			Dimensions: v.Dimensions,
			Chunks:     chunkShape(v, w.layout.Unlimited, policy, task.Steps()),
			Attributes: v.Attributes,
		}
		if err := out.DefineVariable(def); err != nil {
			return err
		}
	}
	return nil
}

// checkAppend verifies an existing output can take the task's records and
// returns its current length along the unlimited dimension.
func (w *SeriesWriter) checkAppend(out storage.Dataset, ref storage.Reader, task models.VariableTask) (int, error) {
	mismatch := func(variable, format string, args ...any) error {
		return &models.AppendMismatchError{Path: task.OutputPath, Variable: variable, Reason: fmt.Sprintf(format, args...)}
	}

	unlim, ok := out.Unlimited()
	if !ok || unlim.Name != w.layout.Unlimited {
		return 0, mismatch("", "no unlimited dimension %q", w.layout.Unlimited)
	}
	outDims := out.Dimensions()
	for _, d := range ref.Dimensions() {
		if d.Unlimited {
			continue
		}
		od, ok := storage.FindDimension(outDims, d.Name)
		if ok && od.Length != d.Length {
			return 0, mismatch("", "dimension %q has length %d, inputs have %d", d.Name, od.Length, d.Length)
		}
	}

	_, streamed := w.layout.Variables(task)
	for _, name := range streamed {
		ov, err := out.Variable(name)
		if err != nil {
			return 0, mismatch(name, "variable not present")
		}
		rv, err := ref.Variable(name)
		if err != nil {
			return 0, err
		}
		if ov.DType != rv.DType {
			return 0, mismatch(name, "dtype %s, inputs have %s", ov.DType, rv.DType)
		}
		if !equalStrings(ov.Dimensions, rv.Dimensions) {
			return 0, mismatch(name, "dimensions %v, inputs have %v", ov.Dimensions, rv.Dimensions)
		}
		if name != task.Variable || task.Kind == models.TaskOnce {
			continue
		}
		want := chunkShape(rv, w.layout.Unlimited, task.Chunks, task.Steps())
		for i, dim := range rv.Dimensions {
			if _, explicit := task.Chunks[dim]; explicit && ov.Chunks[i] != want[i] {
				return 0, mismatch(name, "chunk size %d along %q, requested %d", ov.Chunks[i], dim, want[i])
			}
		}
	}
	return unlim.Length, nil
}

// stream copies every input slab of the streamed variables into out,
// starting at offset along the unlimited dimension.
func (w *SeriesWriter) stream(ctx context.Context, rec *models.DiagnosticRecord, out storage.Dataset, task models.VariableTask, offset int) error {
	_, streamed := w.layout.Variables(task)

	types := make(map[string]storage.DType, len(streamed))
	for _, name := range streamed {
		v, err := out.Variable(name)
		if err != nil {
			return err
		}
		types[name] = v.DType
	}

	pos := offset
	for _, src := range task.Inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if src.Count == 0 {
			continue
		}

		in, err := w.opener.Open(src.Path)
		if err != nil {
			return err
		}
		for _, name := range streamed {
			timer := monitoring.TimerWriteTimeVariant
			if name == task.Variable && task.Kind == models.TaskSeries {
				timer = monitoring.TimerWriteSeries
			}
			stop := w.timer.Track(timer)
			n, err := w.copySlab(in, out, name, types[name], src, pos)
			stop()
			if err != nil {
				in.Close()
				return err
			}
			rec.BytesWritten += n
			rec.BytesRequested += n
			rec.BytesActual += roundToBlock(n)
		}
		if err := in.Close(); err != nil {
			return err
		}
		pos += src.Count
		rec.Steps += src.Count
	}
	return nil
}

func (w *SeriesWriter) copySlab(in storage.Reader, out storage.Dataset, name string, want storage.DType, src models.SliceSource, pos int) (int64, error) {
	iv, err := in.Variable(name)
	if err != nil {
		return 0, err
	}
	if iv.DType != want {
		return 0, &models.TypeMismatchError{Variable: name, Path: src.Path, Want: string(want), Got: string(iv.DType)}
	}
	start, count, err := slab(iv, w.layout.Unlimited, src.Start, src.Count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", src.Path, err)
	}
	arr, err := in.Read(name, start, count)
	if err != nil {
		return 0, err
	}

	ostart := make([]int, len(start))
	ostart[iv.DimIndex(w.layout.Unlimited)] = pos
	if err := out.Write(name, ostart, arr); err != nil {
		return 0, err
	}
	return arr.Bytes(), nil
}

// slab returns the start/count selecting steps [first, first+n) of v.
func slab(v *storage.Variable, unlimited string, first, n int) ([]int, []int, error) {
	t := v.DimIndex(unlimited)
	if t < 0 {
		return nil, nil, fmt.Errorf("variable %q has no %q dimension", v.Name, unlimited)
	}
	start := make([]int, len(v.Shape))
	count := append([]int(nil), v.Shape...)
	start[t] = first
	count[t] = n
	return start, count, nil
}

// chunkShape resolves a chunk policy against a variable. Dimensions absent
// from the policy get one chunk; the unlimited one spans steps.
func chunkShape(v *storage.Variable, unlimited string, policy models.ChunkPolicy, steps int) []int {
	out := make([]int, len(v.Dimensions))
	for i, d := range v.Dimensions {
		if d == unlimited {
			out[i] = policy.Size(d, steps, true)
			continue
		}
		out[i] = policy.Size(d, v.Shape[i], false)
	}
	return out
}

func roundToBlock(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + blockSize - 1) / blockSize * blockSize
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
