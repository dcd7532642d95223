// Package roster filters, searches and orders the leaders assigned to a gestor.
package roster

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/geo"
)

type Filter string

const (
	FilterAll     Filter = "todos"
	FilterPending Filter = "pendientes"
	FilterVisited Filter = "visitados"
)

// ParseFilter accepts the three filter names; empty means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterPending, FilterVisited:
		return f, nil
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

func (f Filter) match(l fieldwork.Leader) bool {
	switch f {
	case FilterPending:
		return l.Status == fieldwork.StatusPending
	case FilterVisited:
		return l.Status == fieldwork.StatusVisited
	}
	return true
}

// Entry is a leader with its distance from the reference point, if any.
type Entry struct {
	fieldwork.Leader
	DistanceMeters *float64 `json:"distance_m,omitempty"`
}

type Query struct {
	Filter Filter
	Search string
	Near   *geo.Coordinate
}

// Apply filters leaders by status and search text. With Near set the result
// is ordered nearest first; leaders without usable coordinates go last.
func Apply(leaders []fieldwork.Leader, q Query) []Entry {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]Entry, 0, len(leaders))
	for _, l := range leaders {
		if !q.Filter.match(l) || !matches(l, needle) {
			continue
		}
		e := Entry{Leader: l}
		if q.Near != nil {
			c := geo.Coordinate(l.Coordinates)
			if c.Valid() && !(c.Latitude == 0 && c.Longitude == 0) {
				d := geo.Distance(*q.Near, c)
				e.DistanceMeters = &d
			}
		}
		out = append(out, e)
	}

	if q.Near != nil {
		slices.SortStableFunc(out, func(a, b Entry) int {
			return compareDistance(a.DistanceMeters, b.DistanceMeters)
		})
	}
	return out
}

func compareDistance(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if *a < *b {
		return -1
	}
	if *a > *b {
		return 1
	}
	return 0
}

func matches(l fieldwork.Leader, needle string) bool {
	if needle == "" {
		return true
	}
	for _, field := range []string{l.Nombres, l.Apellidos, l.FullName(), l.Cedula, l.Barrio, l.Direccion} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// Stats counts leaders by status. The percentage is rounded to one decimal.
func Stats(leaders []fieldwork.Leader) fieldwork.Statistics {
	var s fieldwork.Statistics
	s.Total = len(leaders)
	for _, l := range leaders {
		switch l.Status {
		case fieldwork.StatusPending:
			s.Pendientes++
		case fieldwork.StatusVisited:
			s.Visitados++
		}
	}
	if s.Total > 0 {
		s.PorcentajeCompletado = math.Round(float64(s.Visitados)/float64(s.Total)*1000) / 10
	}
	return s
}

// Find returns the leader with id.
func Find(leaders []fieldwork.Leader, id int) (fieldwork.Leader, bool) {
	i := slices.IndexFunc(leaders, func(l fieldwork.Leader) bool { return l.ID == id })
	if i < 0 {
		return fieldwork.Leader{}, false
	}
	return leaders[i], true
}
