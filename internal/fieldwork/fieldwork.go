// Package fieldwork defines the core domain types shared by the field agent
// packages. It has no external dependencies.
package fieldwork

import (
	"errors"
	"time"
)

type LeaderStatus string

const (
	StatusPending LeaderStatus = "pendiente"
	StatusVisited LeaderStatus = "visitado"
)

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Leader is a survey subject assigned to the logged-in gestor.
type Leader struct {
	ID                  int          `json:"id"`
	Cedula              string       `json:"cedula"`
	Nombres             string       `json:"nombres"`
	Apellidos           string       `json:"apellidos"`
	Celular             string       `json:"celular"`
	Direccion           string       `json:"direccion"`
	Barrio              string       `json:"barrio"`
	MunicipioResidencia string       `json:"municipio_residencia"`
	MunicipioOperacion  string       `json:"municipio_operacion"`
	Status              LeaderStatus `json:"status"`
	FechaEncuesta       *string      `json:"fecha_encuesta"`
	Grupo               string       `json:"grupo"`
	Meta                int          `json:"meta"`
	Coordinates         Coordinates  `json:"coordinates"`
}

func (l Leader) FullName() string {
	switch {
	case l.Apellidos == "":
		return l.Nombres
	case l.Nombres == "":
		return l.Apellidos
	}
	return l.Nombres + " " + l.Apellidos
}

type Statistics struct {
	Total                int     `json:"total"`
	Pendientes           int     `json:"pendientes"`
	Visitados            int     `json:"visitados"`
	PorcentajeCompletado float64 `json:"porcentaje_completado"`
}

// User is the gestor profile returned by login.
type User struct {
	ID        int    `json:"id"`
	Nombres   string `json:"nombres"`
	Apellidos string `json:"apellidos"`
	Documento int64  `json:"documento"`
	Telefono  string `json:"telefono"`
	Email     string `json:"email"`
	Usuario   string `json:"usuario"`
	Perfil    string `json:"perfil"`
}

// SurveyPayload is the body of a survey creation request. Answers are 'S' or
// 'N'; Ubicacion is "lat,lng".
type SurveyPayload struct {
	IDLider   int    `json:"id_lider"`
	Pregunta1 string `json:"pregunta1"`
	Pregunta2 string `json:"pregunta2"`
	Pregunta3 string `json:"pregunta3"`
	Ubicacion string `json:"ubicacion"`
}

type SubmissionRecord struct {
	LeaderID    int       `json:"leader_id"`
	SurveyID    string    `json:"survey_id"`
	Ubicacion   string    `json:"ubicacion"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ErrorKind classifies failures the agent can recover from.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindPermissionDenied    ErrorKind = "permission_denied"
	KindLocationUnavailable ErrorKind = "location_unavailable"
	KindTargetUnavailable   ErrorKind = "target_unavailable"
	KindNetworkFailure      ErrorKind = "network_failure"
	KindAPIRejected         ErrorKind = "api_rejected"
	KindValidationBlocked   ErrorKind = "validation_blocked"
)

type kinded interface {
	Kind() ErrorKind
}

// KindOf returns the kind carried by err or any error it wraps.
func KindOf(err error) ErrorKind {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindNone
}
