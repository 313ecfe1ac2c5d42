package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/service"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/types"
)

// SoilService is the part of service.Service the HTTP layer uses.
type SoilService interface {
	Record(ctx context.Context, value float64, opts ...service.RecordOption) (types.Reading, error)
	CurrentStatus(ctx context.Context, sensorID string) (types.Reading, error)
	History(ctx context.Context, sensorID string, window time.Duration) ([]types.Reading, error)
	Stats(ctx context.Context, sensorID string, window time.Duration) (types.Stats, error)
	Sensors(ctx context.Context) ([]string, error)
	DefaultSensor() string
	Now() time.Time
}

type SoilController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type soilControllerImpl struct {
	service SoilService
}

func NewSoilController(service SoilService) SoilController {
	return &soilControllerImpl{service: service}
}

func (c *soilControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /submit", c.handleSubmit)
	mux.HandleFunc("POST /api/v1/readings", c.handleSubmit)
	mux.HandleFunc("GET /api/v1/readings", c.handleReadings)
	mux.HandleFunc("GET /api/v1/readings/latest", c.handleLatest)
	mux.HandleFunc("GET /api/v1/stats", c.handleStats)
	mux.HandleFunc("GET /api/v1/sensors", c.handleSensors)

	mux.HandleFunc("GET /", c.handleDashboard)
	mux.HandleFunc("GET /partials/current", c.handleCurrentPartial)
	mux.HandleFunc("GET /partials/history", c.handleHistoryPartial)
}
