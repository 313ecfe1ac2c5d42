package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/pauricg23/SOIL-TEMP/internal/utils"
)

// ConnectionState reports whether a background link (MQTT) is up.
type ConnectionState interface {
	IsConnected() bool
}

// ReadingCounter reports how many readings are stored.
type ReadingCounter interface {
	TotalReadings(ctx context.Context) (int, error)
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	db       *sql.DB
	mqtt     ConnectionState
	readings ReadingCounter
}

func NewHealthchecker(db *sql.DB, mqtt ConnectionState, readings ReadingCounter) healthchecker {
	return &healthcheckerImpl{db: db, mqtt: mqtt, readings: readings}
}

// handleHealthz fails only on the database. A broker outage degrades
// ingestion but HTTP keeps serving, so it is reported, not fatal.
func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var ok int
	if err := h.db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}

	mqttStatus := "disabled"
	if h.mqtt != nil {
		mqttStatus = "disconnected"
		if h.mqtt.IsConnected() {
			mqttStatus = "connected"
		}
	}
	body := map[string]any{
		"status":   "ok",
		"database": "connected",
		"mqtt":     mqttStatus,
	}
	if h.readings != nil {
		total, err := h.readings.TotalReadings(ctx)
		if err != nil {
			slog.Error("failed to count readings", "error", err)
			utils.WriteError(w, http.StatusInternalServerError, "failed to count readings")
			return
		}
		body["total_readings"] = total
	}
	utils.WriteJSON(w, http.StatusOK, body)
}

func registerHealthcheck(mux *http.ServeMux, db *sql.DB, mqtt ConnectionState, readings ReadingCounter) {
	healthchecker := NewHealthchecker(db, mqtt, readings)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
