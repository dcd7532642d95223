package geo

import (
	"errors"
	"math"
	"testing"
)

var (
	barranquilla = Coordinate{Latitude: 10.9639, Longitude: -74.7964}
	northPoint   = Coordinate{Latitude: 10.9878, Longitude: -74.7889}
)

func TestDistanceKnownPair(t *testing.T) {
	d := Distance(barranquilla, northPoint)
	if d < 2750 || d > 2800 {
		t.Fatalf("Distance() = %.2f, want within [2750, 2800]", d)
	}
}

func TestDistanceSymmetricAndZero(t *testing.T) {
	pairs := [][2]Coordinate{
		{barranquilla, northPoint},
		{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 1}},
		{{Latitude: -33.8688, Longitude: 151.2093}, {Latitude: 51.5074, Longitude: -0.1278}},
		{{Latitude: 89.9, Longitude: 10}, {Latitude: -89.9, Longitude: -170}},
	}

	for _, p := range pairs {
		ab, ba := Distance(p[0], p[1]), Distance(p[1], p[0])
		if ab != ba {
			t.Errorf("Distance(%v, %v) = %v, reverse = %v", p[0], p[1], ab, ba)
		}
		if ab < 0 {
			t.Errorf("Distance(%v, %v) = %v, want non-negative", p[0], p[1], ab)
		}
		if d := Distance(p[0], p[0]); d != 0 {
			t.Errorf("Distance(%v, itself) = %v, want 0", p[0], d)
		}
	}
}

func TestDistanceAlongMeridian(t *testing.T) {
	// One degree of latitude on a sphere of radius R is R*pi/180.
	a := Coordinate{Latitude: 10, Longitude: -74}
	b := Coordinate{Latitude: 11, Longitude: -74}
	want := EarthRadiusMeters * math.Pi / 180
	if got := Distance(a, b); math.Abs(got-want) > 1e-6 {
		t.Fatalf("Distance() = %v, want %v", got, want)
	}
}

func TestDistanceNonFinite(t *testing.T) {
	got := Distance(Coordinate{Latitude: math.NaN(), Longitude: 0}, barranquilla)
	if !math.IsNaN(got) {
		t.Fatalf("Distance() = %v, want NaN", got)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		c    Coordinate
		want bool
	}{
		{"ok", barranquilla, true},
		{"nan", Coordinate{Latitude: math.NaN()}, false},
		{"inf", Coordinate{Longitude: math.Inf(1)}, false},
		{"lat range", Coordinate{Latitude: 91}, false},
		{"lng range", Coordinate{Longitude: -181}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStringAndParse(t *testing.T) {
	s := barranquilla.String()
	if s != "10.9639,-74.7964" {
		t.Fatalf("String() = %q", s)
	}

	got, err := Parse(" 10.9639 , -74.7964 ")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got != barranquilla {
		t.Errorf("Parse() = %v, want %v", got, barranquilla)
	}

	for _, bad := range []string{"", "10.9", "a,b", "95,0", "1,NaN"} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalidCoordinate) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidCoordinate", bad, err)
		}
	}
}
