package routes

import (
	"net/http"

	"slice2series/api/rest/handlers"
	"slice2series/core/comm"
	"slice2series/core/repository"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SetupRoutes configures all API routes. db may be nil when no ledger is
// configured; the run endpoints are then omitted.
func SetupRoutes(r *mux.Router, coord *comm.Coordinator, db *repository.DB, logger *zap.Logger) {
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	if coord != nil {
		collectives := handlers.NewCollectiveHandler(coord, logger)
		api.HandleFunc("/collectives", collectives.ListPending).Methods("GET")
		api.HandleFunc("/collectives/{seq:[0-9]+}/{op}/ranks/{rank:[0-9]+}", collectives.Exchange).Methods("POST")
	}

	if db != nil {
		runs := handlers.NewRunHandler(repository.NewRunRepository(db), repository.NewEventRepository(db))
		api.HandleFunc("/runs", runs.ListRuns).Methods("GET")
		api.HandleFunc("/runs/{id}", runs.GetRun).Methods("GET")
		api.HandleFunc("/runs/{id}/events", runs.GetRunEvents).Methods("GET")
	}
}
