package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/types"
)

func TestWriteJSON(t *testing.T) {
	t.Run("sets headers and status", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusCreated, types.Reading{SensorID: "heap-1", Value: 20.5})

		if got := w.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
			t.Errorf("Content-Type = %q; want application/json; charset=utf-8", got)
		}
		if got := w.Header().Get("Cache-Control"); got != "no-store" {
			t.Errorf("Cache-Control = %q; want no-store", got)
		}
		if w.Code != http.StatusCreated {
			t.Errorf("Code = %d; want %d", w.Code, http.StatusCreated)
		}
	})

	t.Run("encodes body as JSON", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusOK, []types.Point{{Value: 20}, {Value: 21}})

		var got []types.Point
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("body is not valid JSON: %v", err)
		}
		if len(got) != 2 || got[1].Value != 21 {
			t.Errorf("points = %+v", got)
		}
	})
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusNotFound, "no data yet")

	if w.Code != http.StatusNotFound {
		t.Errorf("Code = %d; want %d", w.Code, http.StatusNotFound)
	}

	var got ErrorBody
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if got.Error != "Not Found" || got.Message != "no data yet" {
		t.Errorf("body = %+v", got)
	}
}

func TestWriteHTML(t *testing.T) {
	w := httptest.NewRecorder()
	WriteHTML(w, []byte("<p>20.5 °C</p>"))

	if got := w.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if w.Code != http.StatusOK || w.Body.String() != "<p>20.5 °C</p>" {
		t.Errorf("Code = %d body = %q", w.Code, w.Body.String())
	}
}
