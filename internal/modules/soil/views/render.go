package views

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"time"

	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/types"
)

var dashboardTmpl *template.Template

var funcs = template.FuncMap{
	"celsius": func(v float64) string { return fmt.Sprintf("%.1f °C", v) },
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02 15:04:05 UTC")
	},
	"iso": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	"volts": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.2f V", *v)
	},
}

// loadTemplatesFromFS loads dashboard templates from the given fs and dir.
// Used by LoadTemplates and by tests to simulate failure scenarios.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	tmpl, err := template.New("soil").Funcs(funcs).ParseFS(sub, "*.html", "partials/*.html")
	if err != nil {
		return err
	}
	dashboardTmpl = tmpl
	return nil
}

// LoadTemplates loads embedded dashboard templates. Call during startup before
// serving requests; if it returns an error, do not start the server.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// SensorOption is the view model for a sensor in the dashboard selector.
type SensorOption struct {
	ID       string
	Selected bool
}

// RangeOption is one entry of the history range selector.
type RangeOption struct {
	Key      string
	Label    string
	Selected bool
}

// CurrentData is the view model for the current reading card. A nil
// Reading renders "no data yet".
type CurrentData struct {
	SensorID string
	Reading  *types.Reading
}

// DashboardData is the view model for the full page.
type DashboardData struct {
	Sensors          []SensorOption
	SelectedSensorID string
	Ranges           []RangeOption
	RangeKey         string
	RangeLabel       string
	Current          CurrentData
	Stats            *types.Stats
	History          HistoryData
}

// PaginationItem is one entry in the pagination bar: either a page number or an ellipsis.
type PaginationItem struct {
	Page     int
	Ellipsis bool
}

// HistoryData is the view model for the history partial.
type HistoryData struct {
	SensorID    string // for pagination links
	RangeLabel  string
	RangeKey    string // for pagination links, e.g. "24h"
	Readings    []types.Reading
	CurrentPage int
	TotalPages  int
	HasPrev     bool
	HasNext     bool
	PrevPage    int
	NextPage    int
	PageItems   []PaginationItem
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}

// RenderCurrentPartial executes only the current reading card into w.
// Use for HTMX fragment refresh.
func RenderCurrentPartial(w io.Writer, data *CurrentData) error {
	if dashboardTmpl == nil {
		return errors.New("current template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "partials/current.html", data)
}

// RenderHistoryPartial executes only the history partial into w.
func RenderHistoryPartial(w io.Writer, data *HistoryData) error {
	if dashboardTmpl == nil {
		return errors.New("history template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "partials/history.html", data)
}
