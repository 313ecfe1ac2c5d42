package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/pauricg23/SOIL-TEMP/internal/metrics"
)

// NewMux returns a mux with the operational routes. mqtt may be nil when
// the broker is disabled; readings nil leaves total_readings out of /healthz.
func NewMux(db *sql.DB, m *metrics.Metrics, mqtt ConnectionState, readings ReadingCounter) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, mqtt, readings)
	mux.Handle("GET /metrics", m.Handler())
	return mux
}
