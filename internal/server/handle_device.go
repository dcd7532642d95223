package server

import (
	"net/http"

	"github.com/surveysgeo/fieldagent/internal/geo"
	"github.com/surveysgeo/fieldagent/internal/location"
)

type PermissionRequest struct {
	Granted bool `json:"granted"`
}

type PositionRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

type DeviceResponse struct {
	Permission string `json:"permission"`
}

// The device handlers feed the location provider when the companion is not
// pinned to a fixed position.
func handlePermission(feed *location.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if feed == nil {
			writeError(w, http.StatusConflict, "device feed disabled")
			return
		}
		var req PermissionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		feed.SetPermission(req.Granted)
		writeJSON(w, http.StatusOK, DeviceResponse{Permission: feed.Permission().String()})
	}
}

func handlePosition(feed *location.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if feed == nil {
			writeError(w, http.StatusConflict, "device feed disabled")
			return
		}
		var req PositionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		err := feed.Push(location.Fix{
			Coordinate:     geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
			AccuracyMeters: req.Accuracy,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
