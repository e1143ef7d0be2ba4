package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"slice2series/core/models"
	"slice2series/core/repository"

	"github.com/gorilla/mux"
)

// RunHandler serves the run ledger
type RunHandler struct {
	runRepo   *repository.RunRepository
	eventRepo *repository.EventRepository
}

// NewRunHandler creates a new run handler
func NewRunHandler(runRepo *repository.RunRepository, eventRepo *repository.EventRepository) *RunHandler {
	return &RunHandler{runRepo: runRepo, eventRepo: eventRepo}
}

// RunResponse represents a run in API responses
type RunResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	WriteMode    string    `json:"write_mode"`
	Workers      int       `json:"workers"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Tasks        int       `json:"tasks"`
	Completed    int       `json:"completed"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	BytesWritten int64     `json:"bytes_written"`
}

func toRunResponse(run *models.Run) RunResponse {
	return RunResponse{
		ID:           run.ID,
		Name:         run.Name,
		WriteMode:    run.WriteMode,
		Workers:      run.Workers,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Tasks:        run.Tasks,
		Completed:    run.Completed,
		Skipped:      run.Skipped,
		Failed:       run.Failed,
		BytesWritten: run.BytesWritten,
	}
}

// ListRuns handles GET /v1/runs
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	runs, err := h.runRepo.ListRuns(limit)
	if err != nil {
		http.Error(w, "Failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"runs": out})
}

// GetRun handles GET /v1/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := h.runRepo.GetRun(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	results, err := h.runRepo.GetTaskResults(id)
	if err != nil {
		http.Error(w, "Failed to get task results: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run":   toRunResponse(run),
		"tasks": results,
	})
}

// GetRunEvents handles GET /v1/runs/{id}/events
func (h *RunHandler) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	variable := r.URL.Query().Get("variable")

	events, err := h.eventRepo.GetTaskEvents(id, variable, 500)
	if err != nil {
		http.Error(w, "Failed to get events: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"events": events})
}
