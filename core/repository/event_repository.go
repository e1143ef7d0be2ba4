package repository

import (
	"database/sql"
	"time"

	"slice2series/core/models"
)

// EventRepository handles database operations for task events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetTaskEvents retrieves events for a run in the order they happened. An
// empty variable returns the events of every task.
func (r *EventRepository) GetTaskEvents(runID, variable string, limit int) ([]models.TaskEvent, error) {
	query := `
		SELECT id, run_id, variable, at, from_state, to_state, reason
		FROM task_events
		WHERE run_id = $1 AND ($2 = '' OR variable = $2)
		ORDER BY id
		LIMIT $3
	`

	rows, err := r.db.Query(query, runID, variable, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.TaskEvent
	for rows.Next() {
		var event models.TaskEvent
		var fromState sql.NullString
		var toState string
		var at int64

		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Variable,
			&at,
			&fromState,
			&toState,
			&event.Reason,
		)
		if err != nil {
			return nil, err
		}

		event.At = time.UnixMilli(at)
		event.ToState = models.TaskState(toState)
		if fromState.Valid {
			state := models.TaskState(fromState.String)
			event.FromState = &state
		}
		events = append(events, event)
	}

	return events, rows.Err()
}
