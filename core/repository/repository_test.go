package repository

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"slice2series/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestDB_Rebind(t *testing.T) {
	assert.Equal(t, "SELECT ?1, ?2, ?1", (&DB{driver: DriverSQLite}).Rebind("SELECT $1, $2, $1"))
	assert.Equal(t, "SELECT $1", (&DB{driver: DriverPostgres}).Rebind("SELECT $1"))
}

func TestNewDB_UnknownDriver(t *testing.T) {
	_, err := NewDB("mysql", "x")
	assert.Error(t, err)
}

func TestRunRepository_SaveAndLoad(t *testing.T) {
	db := newTestDB(t)
	runs := NewRunRepository(db)
	events := NewEventRepository(db)

	start := time.UnixMilli(1_700_000_000_000)
	run := &models.Run{
		Name:         "atm",
		WriteMode:    "normal",
		Workers:      2,
		StartedAt:    start,
		FinishedAt:   start.Add(3 * time.Second),
		Tasks:        2,
		Completed:    1,
		Failed:       1,
		BytesWritten: 4096,
	}
	records := []models.DiagnosticRecord{
		{
			Variable: "T", Kind: models.TaskSeries, OutputPath: "out/tseries.T.db", Rank: 0,
			Status: models.TaskCompleted, Elapsed: time.Second, Steps: 12, BytesWritten: 4096,
			Transitions: []models.Transition{
				{From: models.TaskPending, To: models.TaskOpening, At: start},
				{From: models.TaskOpening, To: models.TaskStreaming, At: start},
				{From: models.TaskStreaming, To: models.TaskCompleted, At: start},
			},
		},
		{
			Variable: "U", Kind: models.TaskSeries, OutputPath: "out/tseries.U.db", Rank: 1,
			Status: models.TaskFailed, Error: "boom", ErrorKind: "io",
			Transitions: []models.Transition{
				{From: models.TaskPending, To: models.TaskFailed, At: start, Reason: "boom"},
			},
		},
	}

	require.NoError(t, runs.SaveRun(run, records))
	require.NotEmpty(t, run.ID)

	got, err := runs.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "atm", got.Name)
	assert.Equal(t, 2, got.Workers)
	assert.True(t, got.FinishedAt.Equal(start.Add(3*time.Second)))

	list, err := runs.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, run.ID, list[0].ID)

	results, err := runs.GetTaskResults(run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "T", results[0].Variable)
	assert.Equal(t, models.TaskFailed, results[1].Status)
	assert.Equal(t, time.Second, results[0].Elapsed)

	all, err := events.GetTaskEvents(run.ID, "", 100)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	forU, err := events.GetTaskEvents(run.ID, "U", 100)
	require.NoError(t, err)
	require.Len(t, forU, 1)
	assert.Equal(t, models.TaskFailed, forU[0].ToState)
	require.NotNil(t, forU[0].FromState)
	assert.Equal(t, models.TaskPending, *forU[0].FromState)
	assert.Equal(t, "boom", forU[0].Reason)

	_, err = runs.GetRun("00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
