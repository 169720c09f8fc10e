package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"chargepoint/internal/repository"
	"chargepoint/internal/station"
)

type connectorView struct {
	ID            int    `json:"id"`
	Status        string `json:"status"`
	ErrorCode     string `json:"error_code,omitempty"`
	Info          string `json:"info,omitempty"`
	TransactionID *int   `json:"transaction_id,omitempty"`
}

// SessionLister reads the session journal.
type SessionLister interface {
	Recent(ctx context.Context, limit int) ([]repository.SessionEntry, error)
}

// HealthHandler answers 200 while registered with the central system and 503 otherwise. The
// body reports the session state either way.
func HealthHandler(registered func() bool, state *station.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok := registered()
		status := http.StatusOK
		body := map[string]interface{}{
			"status":       "ok",
			"registered":   ok,
			"transactions": len(state.Transactions()),
		}
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "offline"
		}
		writeJSON(w, status, body)
	}
}

// ConnectorsHandler lists connectors with their open transaction.
func ConnectorsHandler(state *station.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connectors := state.Connectors()
		views := make([]connectorView, 0, len(connectors))
		for _, c := range connectors {
			v := connectorView{
				ID:        c.ID,
				Status:    string(c.Status),
				ErrorCode: string(c.ErrorCode),
				Info:      c.Info,
			}
			if tx, ok := state.Transaction(c.ID); ok {
				id := tx.ID
				v.TransactionID = &id
			}
			views = append(views, v)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// SessionsHandler returns the newest journal entries. ?limit=N picks how many.
func SessionsHandler(journal SessionLister, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			limit = n
		}

		entries, err := journal.Recent(r.Context(), limit)
		if err != nil {
			logger.Error("list sessions", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
			return
		}
		if entries == nil {
			entries = []repository.SessionEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
