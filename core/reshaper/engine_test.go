package reshaper

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"slice2series/core/comm"
	"slice2series/core/models"
	"slice2series/core/repository"
	"slice2series/storage"
	"slice2series/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSpec(t *testing.T, opts storagetest.SliceOptions) (*models.Specifier, []string) {
	t.Helper()
	paths := storagetest.WriteSlices(t, t.TempDir(), opts)
	return &models.Specifier{
		Version:         models.SpecifierVersion,
		Name:            "test",
		InputFiles:      paths,
		OutputDirectory: t.TempDir(),
		Metadata:        []string{"time_bnds"},
	}, paths
}

func variables(t *testing.T, path string) []string {
	t.Helper()
	r, err := storage.NewSQLiteOpener().Open(path)
	require.NoError(t, err)
	defer r.Close()
	return r.Variables()
}

func TestEngine_SerialRoundTrip(t *testing.T) {
	spec, paths := newSpec(t, storagetest.SliceOptions{})
	var out bytes.Buffer
	e, err := New(spec, Options{Serial: true, Verbosity: 1, Out: &out})
	require.NoError(t, err)

	inv := e.Inventory()
	assert.Equal(t, "time", inv.Unlimited)
	assert.Equal(t, []string{"time", "time_bnds"}, inv.TimeVariant)
	assert.Equal(t, []string{"area", "P0"}, inv.TimeInvariant)
	assert.Equal(t, []SeriesInfo{{"T", 12 * 6 * 4}, {"U", 12 * 6 * 8}}, inv.Series)

	require.NoError(t, e.Convert(context.Background(), 0, nil))
	report := e.Report()
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Completed())
	assert.Zero(t, report.Failed())
	assert.Equal(t, e.RunID(), report.RunID)
	assert.Contains(t, out.String(), "CONVERSION SUMMARY: test")

	for _, v := range storagetest.SeriesVariables {
		path := spec.Normalize().OutputPath(v)
		assert.Equal(t, storagetest.Concat(t, paths, v), storagetest.ReadVariable(t, path, v).Data, v)
		assert.ElementsMatch(t, []string{v, "time", "time_bnds", "area", "P0"}, variables(t, path))
	}
	for _, p := range paths {
		assert.FileExists(t, p)
	}

	_, ok := report.Timer("Complete Conversion Process")
	assert.True(t, ok)
}

func TestEngine_OutputLimit(t *testing.T) {
	spec, _ := newSpec(t, storagetest.SliceOptions{Files: 2, ExtraSeries: []string{"V1", "V2", "V3"}})
	e, err := New(spec, Options{Serial: true})
	require.NoError(t, err)
	require.Len(t, e.Inventory().Series, 5)

	require.NoError(t, e.Convert(context.Background(), 2, nil))
	assert.Equal(t, 2, e.Report().Totals.Tasks)

	norm := spec.Normalize()
	assert.FileExists(t, norm.OutputPath("T"))
	assert.FileExists(t, norm.OutputPath("U"))
	for _, v := range []string{"V1", "V2", "V3"} {
		assert.NoFileExists(t, norm.OutputPath(v))
	}

	// A second run in skip mode picks up the rest.
	e, err = New(spec, Options{Serial: true, WriteMode: models.WriteSkip})
	require.NoError(t, err)
	require.NoError(t, e.Convert(context.Background(), 0, nil))
	assert.Equal(t, 2, e.Report().Skipped())
	assert.Equal(t, 3, e.Report().Completed())
}

func TestEngine_ChunkOverride(t *testing.T) {
	spec, _ := newSpec(t, storagetest.SliceOptions{Files: 2, Steps: 5})
	spec.Chunks = models.ChunkPolicy{"time": 10, "lat": 1}
	e, err := New(spec, Options{Serial: true})
	require.NoError(t, err)
	require.NoError(t, e.Convert(context.Background(), 0, map[string]int{"time": 4}))

	r, err := storage.NewSQLiteOpener().Open(spec.Normalize().OutputPath("T"))
	require.NoError(t, err)
	defer r.Close()
	v, err := r.Variable("T")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1, 3}, v.Chunks)

	shapes, err := r.ChunkShapes("T")
	require.NoError(t, err)
	assert.Equal(t, [][]int{{4, 1, 3}, {4, 1, 3}, {4, 1, 3}, {4, 1, 3}, {2, 1, 3}, {2, 1, 3}}, shapes)
}

func TestEngine_ConvertArguments(t *testing.T) {
	spec, _ := newSpec(t, storagetest.SliceOptions{Files: 1})
	e, err := New(spec, Options{Serial: true})
	require.NoError(t, err)

	assert.ErrorIs(t, e.Convert(context.Background(), -1, nil), models.ErrConfiguration)
	assert.ErrorIs(t, e.Convert(context.Background(), 0, map[string]int{"time": 0}), models.ErrConfiguration)
	assert.Nil(t, e.Report())
}

func TestEngine_Once(t *testing.T) {
	check := func(t *testing.T, spec *models.Specifier, records []models.DiagnosticRecord) {
		norm := spec.Normalize()
		once := 0
		for _, rec := range records {
			if rec.Kind == models.TaskOnce {
				once++
				assert.Equal(t, models.TaskCompleted, rec.Status, rec.Error)
			}
		}
		assert.Equal(t, 1, once)
		assert.ElementsMatch(t, []string{"time", "time_bnds", "area", "P0"}, variables(t, norm.OutputPath("once")))

		r, err := storage.NewSQLiteOpener().Open(norm.OutputPath("once"))
		require.NoError(t, err)
		defer r.Close()
		for name, want := range map[string]string{"title": "synthetic history", "source": "storagetest"} {
			attr, ok := storage.FindAttribute(r.Attributes(), name)
			if assert.True(t, ok, name) {
				assert.Equal(t, want, attr.Value.String())
			}
		}
		timeVar, err := r.Variable("time")
		require.NoError(t, err)
		units, ok := timeVar.Attribute("units")
		if assert.True(t, ok) {
			assert.Equal(t, "days since 0001-01-01", units.Value.String())
		}
		for _, v := range storagetest.SeriesVariables {
			assert.Equal(t, []string{v}, variables(t, norm.OutputPath(v)))
		}
	}

	t.Run("serial", func(t *testing.T) {
		spec, paths := newSpec(t, storagetest.SliceOptions{})
		e, err := New(spec, Options{Serial: true, Once: true})
		require.NoError(t, err)

		layout := e.Layout()
		assert.False(t, layout.SeriesMetadata)
		assert.Equal(t, models.OnceSet{
			Reference:     paths[0],
			Unlimited:     "time",
			TimeInvariant: []string{"area", "P0"},
			TimeVariant:   []string{"time", "time_bnds"},
		}, layout.OnceSet)

		require.NoError(t, e.Convert(context.Background(), 0, nil))
		check(t, spec, e.Report().Records)
	})

	t.Run("three workers", func(t *testing.T) {
		spec, _ := newSpec(t, storagetest.SliceOptions{})
		report, err := RunLocal(context.Background(), spec, Options{Once: true}, 3, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Workers)
		assert.Equal(t, 3, report.Completed())
		check(t, spec, report.Records)
	})

	t.Run("limit does not count the once file", func(t *testing.T) {
		spec, _ := newSpec(t, storagetest.SliceOptions{})
		e, err := New(spec, Options{Serial: true, Once: true})
		require.NoError(t, err)
		require.NoError(t, e.Convert(context.Background(), 1, nil))
		assert.Equal(t, 2, e.Report().Completed())
	})
}

func TestRunLocal(t *testing.T) {
	spec, paths := newSpec(t, storagetest.SliceOptions{ExtraSeries: []string{"V1", "V2"}})
	var out bytes.Buffer
	report, err := RunLocal(context.Background(), spec, Options{Verbosity: 2, Out: &out}, 2, 0, nil)
	require.NoError(t, err)

	assert.False(t, report.Partial)
	assert.Equal(t, 4, report.Completed())
	ranks := map[string]int{}
	for _, rec := range report.Records {
		ranks[rec.Variable] = rec.Rank
	}
	assert.Equal(t, map[string]int{"T": 0, "U": 1, "V1": 0, "V2": 1}, ranks)
	assert.Contains(t, out.String(), "TASKS")

	norm := spec.Normalize()
	for _, v := range []string{"T", "V2"} {
		assert.Equal(t, storagetest.Concat(t, paths, v), storagetest.ReadVariable(t, norm.OutputPath(v), v).Data)
	}

	_, err = RunLocal(context.Background(), spec, Options{}, 0, 0, nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestEngine_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		slices storagetest.SliceOptions
		edit   func(s *models.Specifier)
		opts   Options
	}{
		{
			name: "no inputs",
			edit: func(s *models.Specifier) { s.InputFiles = nil },
		},
		{
			name: "missing input file",
			edit: func(s *models.Specifier) { s.InputFiles = append(s.InputFiles, "does-not-exist.db") },
		},
		{
			name: "missing output directory",
			edit: func(s *models.Specifier) { s.OutputDirectory = filepath.Join(s.OutputDirectory, "nope") },
		},
		{
			name: "unknown series variable",
			edit: func(s *models.Specifier) { s.SeriesVariables = []string{"T", "Q"} },
		},
		{
			name: "metadata declared as series",
			edit: func(s *models.Specifier) { s.SeriesVariables = []string{"area"} },
		},
		{
			name: "unknown metadata variable",
			edit: func(s *models.Specifier) { s.Metadata = []string{"nope"} },
		},
		{
			name: "series variable missing from a later file",
			slices: storagetest.SliceOptions{Omit: func(file int, v string) bool {
				return file == 2 && v == "U"
			}},
		},
		{
			name: "series variable collides with once file",
			edit: func(s *models.Specifier) { s.OnceFileName = "T" },
			opts: Options{Once: true},
		},
		{
			name:   "overlapping inputs",
			slices: storagetest.SliceOptions{Blocks: []int{0, 1, 1}},
			edit:   func(s *models.Specifier) { s.SortFiles = true },
		},
		{
			name: "bad chunk size",
			edit: func(s *models.Specifier) { s.Chunks = models.ChunkPolicy{"time": -1} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, _ := newSpec(t, tt.slices)
			if tt.edit != nil {
				tt.edit(spec)
			}
			opts := tt.opts
			opts.Serial = true
			_, err := New(spec, opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrConfiguration)

			if entries, statErr := os.ReadDir(spec.OutputDirectory); statErr == nil {
				assert.Empty(t, entries)
			}
		})
	}
}

func TestNew_ParallelWithoutComm(t *testing.T) {
	spec, _ := newSpec(t, storagetest.SliceOptions{Files: 1})
	_, err := New(spec, Options{Serial: false})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestNew_ManagerErrorReachesEveryRank(t *testing.T) {
	spec, _ := newSpec(t, storagetest.SliceOptions{Files: 1})
	spec.SeriesVariables = []string{"missing"}

	group := comm.NewLocalGroup(2)
	errs := make(chan error, 2)
	for _, c := range group {
		c := c
		go func() {
			_, err := New(spec, Options{Comm: c})
			errs <- err
		}()
	}
	for range group {
		assert.ErrorIs(t, <-errs, models.ErrConfiguration)
	}
}

func TestEngine_SortFiles(t *testing.T) {
	spec, paths := newSpec(t, storagetest.SliceOptions{Blocks: []int{2, 0, 1}})
	spec.SortFiles = true
	e, err := New(spec, Options{Serial: true})
	require.NoError(t, err)
	sorted := []string{paths[1], paths[2], paths[0]}
	assert.Equal(t, sorted, e.Inventory().InputFiles)

	require.NoError(t, e.Convert(context.Background(), 0, nil))
	path := spec.Normalize().OutputPath("T")
	assert.Equal(t, storagetest.Concat(t, sorted, "time"), storagetest.ReadVariable(t, path, "time").Data)
	assert.Equal(t, storagetest.Concat(t, sorted, "T"), storagetest.ReadVariable(t, path, "T").Data)
}

func TestEngine_PreprocessWarnings(t *testing.T) {
	spec, _ := newSpec(t, storagetest.SliceOptions{Omit: func(file int, v string) bool {
		return file == 1 && v == "area"
	}})
	e, err := New(spec, Options{Serial: true, Preprocess: true})
	require.NoError(t, err)
	require.Len(t, e.Inventory().Warnings, 1)
	assert.Contains(t, e.Inventory().Warnings[0], `"area"`)
}

func TestEngine_AppendAcrossRuns(t *testing.T) {
	spec, paths := newSpec(t, storagetest.SliceOptions{})
	first := *spec
	first.InputFiles = paths[:2]
	e, err := New(&first, Options{Serial: true})
	require.NoError(t, err)
	require.NoError(t, e.Convert(context.Background(), 0, nil))

	second := *spec
	second.InputFiles = paths[2:]
	e, err = New(&second, Options{Serial: true, WriteMode: models.WriteAppend, Check: true})
	require.NoError(t, err)
	require.NoError(t, e.Convert(context.Background(), 0, nil))
	require.Zero(t, e.Report().Failed())

	path := spec.Normalize().OutputPath("U")
	assert.Equal(t, storagetest.Concat(t, paths, "U"), storagetest.ReadVariable(t, path, "U").Data)
	require.NoError(t, e.Verify(context.Background()))
}

func TestEngine_Verify(t *testing.T) {
	spec, _ := newSpec(t, storagetest.SliceOptions{})
	e, err := New(spec, Options{Serial: true, Once: true})
	require.NoError(t, err)
	require.NoError(t, e.Convert(context.Background(), 0, nil))
	require.NoError(t, e.Verify(context.Background()))

	path := spec.Normalize().OutputPath("U")
	ds, err := storage.NewSQLiteOpener().OpenAppend(path)
	require.NoError(t, err)
	require.NoError(t, ds.Write("U", []int{0, 0, 0}, storage.Float64s([]int{1, 2, 3}, []float64{9, 9, 9, 9, 9, 9})))
	require.NoError(t, ds.Close())

	err = e.Verify(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrVerification))
}

func TestEngine_Ledger(t *testing.T) {
	db, err := repository.NewDB(repository.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())
	runs := repository.NewRunRepository(db)

	spec, _ := newSpec(t, storagetest.SliceOptions{Files: 1})
	e, err := New(spec, Options{Serial: true, Ledger: runs})
	require.NoError(t, err)
	require.NoError(t, e.Convert(context.Background(), 0, nil))

	run, err := runs.GetRun(e.RunID())
	require.NoError(t, err)
	assert.Equal(t, "test", run.Name)
	assert.Equal(t, 2, run.Completed)

	results, err := runs.GetTaskResults(e.RunID())
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
