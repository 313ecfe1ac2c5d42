package controller

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/repository"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/service"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/types"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/views"
	"github.com/pauricg23/SOIL-TEMP/internal/utils"
)

// submitResponse is the top probe's reading; readings of the deeper probes
// of the same submission follow in Depths.
type submitResponse struct {
	types.Reading
	Depths []types.Reading `json:"depths,omitempty"`
}

func (c *soilControllerImpl) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes))
	if err := dec.Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sensorID := req.SensorID
	if sensorID == "" {
		sensorID = c.service.DefaultSensor()
	}
	probes, err := req.probes(sensorID)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	battery, err := req.battery()
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ts := req.timestamp()
	if ts.IsZero() && len(req.TS) > 0 && string(req.TS) != "null" {
		slog.Warn("submit: unparseable ts, using server time", "ts", string(req.TS))
	}
	if ts.IsZero() {
		// One instant for every probe of the submission.
		ts = c.service.Now()
	}

	readings := make([]types.Reading, 0, len(probes))
	for _, p := range probes {
		reading, err := c.service.Record(r.Context(), p.value,
			service.WithSensorID(p.sensorID),
			service.WithSource("http"),
			service.WithTimestamp(ts),
			service.WithBattery(battery, req.BatteryStatus),
		)
		if err != nil {
			writeServiceError(w, "submit", err)
			return
		}
		readings = append(readings, reading)
	}
	utils.WriteJSON(w, http.StatusCreated, submitResponse{Reading: readings[0], Depths: readings[1:]})
}

func (c *soilControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading, err := c.service.CurrentStatus(r.Context(), sensorParam(r))
	if err != nil {
		writeServiceError(w, "latest", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, reading)
}

func (c *soilControllerImpl) handleReadings(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := c.service.History(r.Context(), sensorParam(r), window)
	if err != nil {
		writeServiceError(w, "readings", err)
		return
	}

	points := make([]types.Point, 0, len(readings))
	for _, reading := range readings {
		points = append(points, reading.Point())
	}
	utils.WriteJSON(w, http.StatusOK, points)
}

func (c *soilControllerImpl) handleStats(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := c.service.Stats(r.Context(), sensorParam(r), window)
	if err != nil {
		writeServiceError(w, "stats", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}

func (c *soilControllerImpl) handleSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := c.service.Sensors(r.Context())
	if err != nil {
		writeServiceError(w, "sensors", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, sensors)
}

// writeServiceError maps service and storage errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNoData):
		utils.WriteError(w, http.StatusNotFound, service.ErrNoData.Error())
	case service.IsClientError(err):
		utils.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrStorage):
		slog.Error(op+": storage failure", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "storage error")
	default:
		slog.Error(op+": unexpected error", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (c *soilControllerImpl) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()

	sensors, err := c.service.Sensors(ctx)
	if err != nil {
		slog.Error("dashboard: get sensors failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load sensors")
		return
	}
	selectedID := c.selectSensor(sensorParam(r), sensors)

	rangeKey := r.URL.Query().Get("range")
	rangeInfo, ok := resolveHistoryRange(rangeKey)
	if !ok {
		slog.Warn("dashboard: invalid range", "range", rangeKey)
	}

	data := views.DashboardData{
		SelectedSensorID: selectedID,
		RangeKey:         rangeInfo.Key,
		RangeLabel:       rangeInfo.Label,
		Current:          views.CurrentData{SensorID: selectedID},
	}
	for _, id := range sensors {
		data.Sensors = append(data.Sensors, views.SensorOption{ID: id, Selected: id == selectedID})
	}
	for _, key := range historyRangeOrder {
		info := historyRanges[key]
		data.Ranges = append(data.Ranges, views.RangeOption{Key: key, Label: info.Label, Selected: key == rangeInfo.Key})
	}

	current, err := c.service.CurrentStatus(ctx, selectedID)
	switch {
	case err == nil:
		data.Current.Reading = &current
	case !errors.Is(err, service.ErrNoData):
		slog.Error("dashboard: get current failed", "sensor_id", selectedID, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load reading")
		return
	}

	stats, err := c.service.Stats(ctx, selectedID, rangeInfo.Duration)
	switch {
	case err == nil:
		data.Stats = &stats
	case !errors.Is(err, service.ErrNoData):
		slog.Error("dashboard: get stats failed", "sensor_id", selectedID, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}

	history, err := c.historyData(r, selectedID, rangeInfo, 1)
	if err != nil {
		slog.Error("dashboard: get history failed", "sensor_id", selectedID, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	data.History = history

	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, &data); err != nil {
		slog.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	utils.WriteHTML(w, buf.Bytes())
}

func (c *soilControllerImpl) handleCurrentPartial(w http.ResponseWriter, r *http.Request) {
	sensorID := sensorParam(r)
	if sensorID == "" {
		sensorID = c.service.DefaultSensor()
	}

	data := views.CurrentData{SensorID: sensorID}
	reading, err := c.service.CurrentStatus(r.Context(), sensorID)
	switch {
	case err == nil:
		data.Reading = &reading
	case !errors.Is(err, service.ErrNoData):
		slog.Error("current partial: get latest failed", "sensor_id", sensorID, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load reading")
		return
	}

	var buf bytes.Buffer
	if err := views.RenderCurrentPartial(&buf, &data); err != nil {
		slog.Error("current partial render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render")
		return
	}
	utils.WriteHTML(w, buf.Bytes())
}

func (c *soilControllerImpl) handleHistoryPartial(w http.ResponseWriter, r *http.Request) {
	sensorID := sensorParam(r)
	if sensorID == "" {
		sensorID = c.service.DefaultSensor()
	}
	rangeKey := r.URL.Query().Get("range")
	rangeInfo, ok := resolveHistoryRange(rangeKey)
	if !ok {
		slog.Warn("history: invalid range", "range", rangeKey)
	}

	data, err := c.historyData(r, sensorID, rangeInfo, parseHistoryPage(r))
	if err != nil {
		slog.Error("history: get readings failed", "sensor_id", sensorID, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}

	var buf bytes.Buffer
	if err := views.RenderHistoryPartial(&buf, &data); err != nil {
		slog.Error("history partial render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render")
		return
	}
	utils.WriteHTML(w, buf.Bytes())
}

// historyData pages the window newest first. Pages past the end clamp to
// the last page.
func (c *soilControllerImpl) historyData(r *http.Request, sensorID string, rangeInfo historyRange, page int) (views.HistoryData, error) {
	readings, err := c.service.History(r.Context(), sensorID, rangeInfo.Duration)
	if err != nil {
		return views.HistoryData{}, err
	}

	totalPages := (len(readings) + historyPageSize - 1) / historyPageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	newestFirst := make([]types.Reading, len(readings))
	for i, reading := range readings {
		newestFirst[len(readings)-1-i] = reading
	}
	start := (page - 1) * historyPageSize
	end := min(start+historyPageSize, len(newestFirst))

	return views.HistoryData{
		SensorID:    sensorID,
		RangeLabel:  rangeInfo.Label,
		RangeKey:    rangeInfo.Key,
		Readings:    newestFirst[start:end],
		CurrentPage: page,
		TotalPages:  totalPages,
		HasPrev:     page > 1,
		HasNext:     page < totalPages,
		PrevPage:    page - 1,
		NextPage:    page + 1,
		PageItems:   buildHistoryPageItems(totalPages, page),
	}, nil
}

// buildHistoryPageItems returns page numbers and ellipsis for the pagination bar.
func buildHistoryPageItems(totalPages, currentPage int) []views.PaginationItem {
	if totalPages <= 0 {
		return nil
	}
	const window = 2
	show := map[int]bool{1: true, totalPages: true}
	for p := currentPage - window; p <= currentPage+window; p++ {
		if p >= 1 && p <= totalPages {
			show[p] = true
		}
	}
	var items []views.PaginationItem
	prev := 0
	for p := 1; p <= totalPages; p++ {
		if !show[p] {
			continue
		}
		if prev != 0 && p > prev+1 {
			items = append(items, views.PaginationItem{Ellipsis: true})
		}
		items = append(items, views.PaginationItem{Page: p})
		prev = p
	}
	return items
}

// selectSensor keeps an explicit choice, then prefers the default sensor,
// then the first sensor with data.
func (c *soilControllerImpl) selectSensor(requested string, sensors []string) string {
	if requested != "" {
		return requested
	}
	def := c.service.DefaultSensor()
	for _, id := range sensors {
		if id == def {
			return def
		}
	}
	if len(sensors) > 0 {
		return sensors[0]
	}
	return def
}
