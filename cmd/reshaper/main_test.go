package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"slice2series/core/models"
	"slice2series/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"RESHAPER_RANK", "RESHAPER_SIZE", "RESHAPER_COORDINATOR", "RESHAPER_COLLECTIVE_TIMEOUT",
		"RESHAPER_LEDGER_DRIVER", "RESHAPER_LEDGER_DSN", "RESHAPER_LOG_FORMAT"} {
		t.Setenv(k, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConvert_FromFlags(t *testing.T) {
	clearEnv(t)
	paths := storagetest.WriteSlices(t, t.TempDir(), storagetest.SliceOptions{})
	out := t.TempDir()

	args := append([]string{"convert", "-v", "--name", "atm", "-o", out, "-m", "time_bnds", "--check"}, paths...)
	stdout, err := execute(t, args...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "CONVERSION SUMMARY: atm")

	for _, v := range storagetest.SeriesVariables {
		path := filepath.Join(out, "tseries."+v+".db")
		assert.Equal(t, storagetest.Concat(t, paths, v), storagetest.ReadVariable(t, path, v).Data)
	}

	// Normal mode refuses to touch the existing outputs.
	stdout, err = execute(t, args...)
	assert.ErrorIs(t, err, errTasksFailed)
	assert.Contains(t, stdout, "FAILED")

	_, err = execute(t, append([]string{"convert", "--skip-existing", "-o", out, "-m", "time_bnds"}, paths...)...)
	assert.NoError(t, err)
}

func TestConvert_SpecFileWithWorkers(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	paths := storagetest.WriteSlices(t, dir, storagetest.SliceOptions{ExtraSeries: []string{"V"}})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "b"), 0o755))

	var files []string
	for _, p := range paths {
		files = append(files, filepath.Base(p))
	}
	doc := fmt.Sprintf(`
specs:
  - version: 1
    name: first
    input:
      files: [%[1]s]
    output:
      directory: a
    variables:
      metadata: [time_bnds]
    chunks:
      time: 4
  - version: 1
    name: second
    input:
      files: [%[1]s]
    output:
      directory: b
      compression: 6
    variables:
      series: [V]
      metadata: [time_bnds]
    partition: weighted
`, strings.Join(files, ", "))
	specPath := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(doc), 0o644))
	metrics := filepath.Join(dir, "metrics.prom")

	_, err := execute(t, "convert", "--spec", specPath, "--workers", "2", "--metrics-file", metrics)
	require.NoError(t, err)

	for _, v := range []string{"T", "U", "V"} {
		assert.FileExists(t, filepath.Join(dir, "a", "tseries."+v+".db"))
	}
	assert.FileExists(t, filepath.Join(dir, "b", "tseries.V.db"))
	assert.NoFileExists(t, filepath.Join(dir, "b", "tseries.T.db"))

	data, err := os.ReadFile(filepath.Join(dir, "metrics.first.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `reshaper_tasks_total{status="completed"} 3`)
	assert.Contains(t, string(data), "reshaper_workers 2")
	assert.FileExists(t, filepath.Join(dir, "metrics.second.prom"))
}

func TestConvert_BadArguments(t *testing.T) {
	clearEnv(t)
	paths := storagetest.WriteSlices(t, t.TempDir(), storagetest.SliceOptions{Files: 1})

	tests := []struct {
		name string
		args []string
	}{
		{"append and overwrite", []string{"convert", "--append", "--overwrite", paths[0]}},
		{"bad chunk", []string{"convert", "--chunk", "time", paths[0]}},
		{"no inputs", []string{"convert"}},
		{"spec and files", []string{"convert", "--spec", "x.yaml", paths[0]}},
		{"zero workers", []string{"convert", "--workers", "0", paths[0]}},
		{"unknown series", []string{"convert", "--series", "Q", "-o", t.TempDir(), paths[0]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrConfiguration)
		})
	}
}

func TestInspectAndVerify(t *testing.T) {
	clearEnv(t)
	paths := storagetest.WriteSlices(t, t.TempDir(), storagetest.SliceOptions{})
	out := t.TempDir()
	args := append([]string{"-o", out, "-m", "time_bnds", "--once"}, paths...)

	_, err := execute(t, append([]string{"convert"}, args...)...)
	require.NoError(t, err)

	stdout, err := execute(t, "inspect", "--chunks", filepath.Join(out, "tseries.T.db"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "time = UNLIMITED (12 currently)")
	assert.Contains(t, stdout, "f4(time, lat, lon)")
	assert.Contains(t, stdout, ":units = K")
	assert.NotContains(t, stdout, "area")

	stdout, err = execute(t, "inspect", filepath.Join(out, "tseries.once.db"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "area")

	stdout, err = execute(t, append([]string{"verify"}, args...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "OK")

	_, err = execute(t, "inspect", filepath.Join(out, "missing.db"))
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	clearEnv(t)
	paths := storagetest.WriteSlices(t, t.TempDir(), storagetest.SliceOptions{Files: 2})
	ledger := filepath.Join(t.TempDir(), "ledger.db")

	_, err := execute(t, append([]string{"convert", "--name", "ocean", "-o", t.TempDir(), "-m", "time_bnds", "--ledger-dsn", ledger}, paths...)...)
	require.NoError(t, err)

	stdout, err := execute(t, "history", "--ledger-dsn", ledger)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ocean")

	fields := strings.Fields(strings.Split(stdout, "\n")[1])
	require.NotEmpty(t, fields)
	stdout, err = execute(t, "history", "--ledger-dsn", ledger, "--events", fields[0])
	require.NoError(t, err)
	assert.Contains(t, stdout, "streaming -> completed")

	_, err = execute(t, "history", "--ledger-dsn", ledger, "00000000-0000-0000-0000-000000000000")
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, "history")
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestMetricsPath(t *testing.T) {
	assert.Equal(t, "m.prom", metricsPath("m.prom", "atm", 0, 1))
	assert.Equal(t, "m.atm.prom", metricsPath("m.prom", "atm", 0, 2))
	assert.Equal(t, "m.1.prom", metricsPath("m.prom", "", 1, 2))
}
