package server

import (
	"log/slog"
	"net/http"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/geo"
	"github.com/surveysgeo/fieldagent/internal/roster"
)

type LeadersResponse struct {
	Lideres    []roster.Entry       `json:"lideres"`
	Statistics fieldwork.Statistics `json:"statistics"`
}

// handleLeaders fetches the gestor's roster and shapes it with the filter,
// q and near query parameters.
func handleLeaders(remote RemoteAPI, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter, err := roster.ParseFilter(q.Get("filter"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		query := roster.Query{Filter: filter, Search: q.Get("q")}
		if near := q.Get("near"); near != "" {
			c, err := geo.Parse(near)
			if err != nil {
				writeError(w, http.StatusBadRequest, "near must be lat,lng")
				return
			}
			query.Near = &c
		}

		res, err := remote.Leaders(r.Context(), sessionFrom(r).Token)
		if err != nil {
			writeFailure(w, logger, err)
			return
		}

		stats := res.Statistics
		if stats.Total == 0 {
			stats = roster.Stats(res.Lideres)
		}
		writeJSON(w, http.StatusOK, LeadersResponse{
			Lideres:    roster.Apply(res.Lideres, query),
			Statistics: stats,
		})
	}
}
