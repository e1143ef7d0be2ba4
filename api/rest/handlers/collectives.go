package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"slice2series/core/comm"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxPayload bounds one contribution. Gathered diagnostics are small, the
// broadcast inventory grows with the number of input files.
const maxPayload = 64 << 20

// CollectiveHandler serves the coordinator rendezvous to HTTP workers
type CollectiveHandler struct {
	coord  *comm.Coordinator
	logger *zap.Logger
}

// NewCollectiveHandler creates a new collective handler
func NewCollectiveHandler(coord *comm.Coordinator, logger *zap.Logger) *CollectiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectiveHandler{coord: coord, logger: logger}
}

// Exchange handles POST /v1/collectives/{seq}/{op}/ranks/{rank}
func (h *CollectiveHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	seq, err := strconv.ParseUint(vars["seq"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid sequence number", http.StatusBadRequest)
		return
	}
	op, err := comm.ParseOp(vars["op"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rank, err := strconv.Atoi(vars["rank"])
	if err != nil {
		http.Error(w, "Invalid rank", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayload+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(payload) > maxPayload {
		http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(payload) == 0 {
		payload = nil
	}

	parts, err := h.coord.Exchange(r.Context(), seq, op, rank, payload)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, comm.ErrCollectiveMismatch):
			status = http.StatusConflict
		case r.Context().Err() != nil:
			status = http.StatusRequestTimeout
		}
		h.logger.Warn("collective failed", zap.Uint64("seq", seq), zap.String("op", string(op)), zap.Int("rank", rank), zap.Error(err))
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(comm.ExchangeResponse{Parts: parts})
}

// ListPending handles GET /v1/collectives
func (h *CollectiveHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"size":    h.coord.Size(),
		"pending": h.coord.Pending(),
	})
}
