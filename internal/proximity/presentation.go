package proximity

import (
	"fmt"
	"strconv"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
)

const (
	ColorNeutral = "#95a5a6"
	ColorFar     = "#e74c3c"
	ColorNear    = "#f39c12"
	ColorInRange = "#27ae60"
)

const (
	IconLoading = "⏳"
	IconFailed  = "❌"
	IconIdle    = "📍"
	IconInRange = "✅"
	IconNear    = "⚠️"
)

const (
	nearThreshold  = 20
	closeThreshold = 50
)

const permissionHint = "Ve a Configuración → Aplicaciones → SurveysGeo → Permisos → Ubicación"

// Presentation is the display model of a State.
type Presentation struct {
	Color        string `json:"color"`
	Icon         string `json:"icon"`
	StatusText   string `json:"status_text"`
	HelpText     string `json:"help_text"`
	ErrorText    string `json:"error_text,omitempty"`
	ErrorHint    string `json:"error_hint,omitempty"`
	Distance     *int   `json:"distance_m,omitempty"`
	UserLocation string `json:"user_location,omitempty"`
}

// Present derives what the status card shows for st. It has no side effects.
func Present(st State, minDistance float64) Presentation {
	minText := formatMeters(minDistance)
	p := Presentation{
		Color:    ColorNeutral,
		HelpText: fmt.Sprintf("Distancia mínima requerida: %sm", minText),
	}

	switch st.Kind {
	case Loading:
		p.Icon = IconLoading
		p.StatusText = "Verificando ubicación..."
		return p
	case Failed:
		p.Color = ColorFar
		p.Icon = IconFailed
		p.StatusText = "Error GPS"
		p.ErrorText = st.Message
		if st.Reason == fieldwork.KindPermissionDenied {
			p.ErrorHint = permissionHint
		}
		return p
	case Evaluated:
	default:
		p.Icon = IconIdle
		p.StatusText = "Ubicación no disponible"
		return p
	}

	d := st.DisplayDistance()
	p.Distance = &d
	if st.UserLocation != nil {
		p.UserLocation = fmt.Sprintf("%.6f, %.6f", st.UserLocation.Latitude, st.UserLocation.Longitude)
	}

	if st.InRange {
		p.Color = ColorInRange
		p.Icon = IconInRange
		p.StatusText = fmt.Sprintf("✅ En rango (%dm)", d)
		p.HelpText = "¡Perfecto! Puedes realizar la encuesta"
		return p
	}

	needed := st.MetersNeeded(minDistance)
	p.StatusText = fmt.Sprintf("❌ Muy lejos (%dm) - Acércate %sm", d, formatMeters(needed))
	switch {
	case needed <= nearThreshold:
		p.Color = ColorNear
		p.Icon = IconNear
		p.HelpText = "¡Casi! Te falta muy poco"
	case needed <= closeThreshold:
		p.Color = ColorFar
		p.Icon = IconFailed
		p.HelpText = "Camina un poco más hacia el líder"
	default:
		p.Color = ColorFar
		p.Icon = IconFailed
		p.HelpText = "Necesitas acercarte más al líder"
	}
	return p
}

func formatMeters(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64)
}
