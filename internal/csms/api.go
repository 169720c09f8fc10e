package csms

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

type remoteStartBody struct {
	ConnectorID *int   `json:"connector_id"`
	IdTag       string `json:"id_tag"`
}

type remoteStopBody struct {
	TransactionID int `json:"transaction_id"`
}

// Routes registers the bench API on mux:
//
//	GET  /stations
//	GET  /stations/{id}
//	POST /stations/{id}/remote-start  {"connector_id":1,"id_tag":"TAG"}
//	POST /stations/{id}/remote-stop   {"transaction_id":1}
func (cs *CentralSystem) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"connected": cs.Connected()})
	})

	mux.HandleFunc("GET /stations/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		snapshot, ok := cs.registry.Snapshot(id)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown station")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"station":      snapshot,
			"transactions": cs.registry.Transactions(id),
		})
	})

	mux.HandleFunc("POST /stations/{id}/remote-start", func(w http.ResponseWriter, r *http.Request) {
		var body remoteStartBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IdTag == "" {
			writeError(w, http.StatusBadRequest, "id_tag is required")
			return
		}
		resp, err := cs.RemoteStart(r.Context(), r.PathValue("id"), body.ConnectorID, body.IdTag)
		if err != nil {
			cs.commandFailed(w, "remote start", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("POST /stations/{id}/remote-stop", func(w http.ResponseWriter, r *http.Request) {
		var body remoteStopBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TransactionID <= 0 {
			writeError(w, http.StatusBadRequest, "transaction_id is required")
			return
		}
		resp, err := cs.RemoteStop(r.Context(), r.PathValue("id"), body.TransactionID)
		if err != nil {
			cs.commandFailed(w, "remote stop", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func (cs *CentralSystem) commandFailed(w http.ResponseWriter, command string, err error) {
	if errors.Is(err, ErrNotConnected) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	cs.logger.Warn("command failed", zap.String("command", command), zap.Error(err))
	writeError(w, http.StatusBadGateway, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
