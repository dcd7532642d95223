package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/surveysgeo/fieldagent/internal/proximity"
	"github.com/surveysgeo/fieldagent/internal/survey"
)

// snapshot is the first event a new subscriber receives.
func snapshot(wf *survey.Workflow) []byte {
	st := wf.Engine().State()
	p := proximity.Present(st, wf.Engine().MinDistance())
	g := wf.Gate()
	id, _ := wf.SurveyID()
	data, _ := json.Marshal(Event{Type: EventProximity, Proximity: &st, Presentation: &p, Gate: &g, SurveyID: id})
	return data
}

func handleEvents(broker *Broker, registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		done, err := registry.Done(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "survey not found")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := broker.Subscribe(id)
		defer broker.Unsubscribe(id, ch)

		fmt.Fprintf(w, "event: survey\ndata: %s\n\n", snapshot(workflowFrom(r)))
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				fmt.Fprintf(w, "event: survey\ndata: %s\n\n", data)
				flusher.Flush()
			case <-done:
				fmt.Fprintf(w, "event: survey\ndata: {\"type\":%q}\n\n", EventClosed)
				flusher.Flush()
				return
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
