package roster

import (
	"testing"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/geo"
)

var leaders = []fieldwork.Leader{
	{ID: 1, Nombres: "Luis", Apellidos: "Pérez", Cedula: "1001", Barrio: "El Prado", Status: fieldwork.StatusPending,
		Coordinates: fieldwork.Coordinates{Latitude: 10.99, Longitude: -74.79}},
	{ID: 2, Nombres: "Rosa", Apellidos: "Gómez", Cedula: "2002", Barrio: "Boston", Status: fieldwork.StatusVisited,
		Coordinates: fieldwork.Coordinates{Latitude: 10.9640, Longitude: -74.7965}},
	{ID: 3, Nombres: "Ana", Apellidos: "Luna", Cedula: "3003", Direccion: "Calle 72", Status: fieldwork.StatusPending},
}

func ids(entries []Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestApply(t *testing.T) {
	here := geo.Coordinate{Latitude: 10.9639, Longitude: -74.7964}
	tests := []struct {
		name string
		q    Query
		want []int
	}{
		{"all", Query{Filter: FilterAll}, []int{1, 2, 3}},
		{"pending", Query{Filter: FilterPending}, []int{1, 3}},
		{"visited", Query{Filter: FilterVisited}, []int{2}},
		{"search name case-insensitive", Query{Search: "LU"}, []int{1, 3}},
		{"search full name", Query{Search: "rosa gómez"}, []int{2}},
		{"search cedula", Query{Search: "3003"}, []int{3}},
		{"search barrio with filter", Query{Filter: FilterPending, Search: "prado"}, []int{1}},
		{"search address", Query{Search: "calle"}, []int{3}},
		{"no match", Query{Search: "zzz"}, []int{}},
		{"nearest first, missing last", Query{Near: &here}, []int{2, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(Apply(leaders, tt.q)); !equal(got, tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyDistances(t *testing.T) {
	here := geo.Coordinate{Latitude: 10.9639, Longitude: -74.7964}
	got := Apply(leaders, Query{Near: &here})
	if got[0].DistanceMeters == nil || *got[0].DistanceMeters > 20 {
		t.Errorf("nearest distance = %v", got[0].DistanceMeters)
	}
	if got[2].DistanceMeters != nil {
		t.Errorf("leader without coordinates has distance %v", *got[2].DistanceMeters)
	}
	if Apply(leaders, Query{})[0].DistanceMeters != nil {
		t.Error("distance set without a reference point")
	}
}

func TestParseFilter(t *testing.T) {
	for in, want := range map[string]Filter{"": FilterAll, "todos": FilterAll, "Pendientes": FilterPending, "visitados": FilterVisited} {
		got, err := ParseFilter(in)
		if err != nil || got != want {
			t.Errorf("ParseFilter(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
	if _, err := ParseFilter("done"); err == nil {
		t.Error("ParseFilter(done) error = nil")
	}
}

func TestStats(t *testing.T) {
	s := Stats(leaders)
	want := fieldwork.Statistics{Total: 3, Pendientes: 2, Visitados: 1, PorcentajeCompletado: 33.3}
	if s != want {
		t.Fatalf("Stats() = %+v, want %+v", s, want)
	}
	if s := Stats(nil); s != (fieldwork.Statistics{}) {
		t.Errorf("Stats(nil) = %+v", s)
	}
}

func TestFind(t *testing.T) {
	if l, ok := Find(leaders, 2); !ok || l.Nombres != "Rosa" {
		t.Errorf("Find(2) = %+v, %v", l, ok)
	}
	if _, ok := Find(leaders, 9); ok {
		t.Error("Find(9) ok = true")
	}
}
