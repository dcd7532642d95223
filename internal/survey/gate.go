// Package survey gates and submits the three-question leader survey.
package survey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/proximity"
)

type Question string

const (
	Pregunta1 Question = "pregunta1"
	Pregunta2 Question = "pregunta2"
	Pregunta3 Question = "pregunta3"
)

// Answer is a nullable yes/no. The zero value is unanswered.
type Answer string

const (
	Unanswered Answer = ""
	Yes        Answer = "S"
	No         Answer = "N"
)

func (a Answer) Valid() bool { return a == Unanswered || a == Yes || a == No }

func (a Answer) MarshalJSON() ([]byte, error) {
	if a == Unanswered {
		return []byte("null"), nil
	}
	return json.Marshal(string(a))
}

func (a *Answer) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*a = Unanswered
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decoding answer: %w", err)
	}
	v := Answer(s)
	if v == Unanswered || !v.Valid() {
		return fmt.Errorf("invalid answer %q: want \"S\", \"N\" or null", s)
	}
	*a = v
	return nil
}

type Answers struct {
	Pregunta1 Answer `json:"pregunta1"`
	Pregunta2 Answer `json:"pregunta2"`
	Pregunta3 Answer `json:"pregunta3"`
}

func (a *Answers) field(q Question) (*Answer, error) {
	switch q {
	case Pregunta1:
		return &a.Pregunta1, nil
	case Pregunta2:
		return &a.Pregunta2, nil
	case Pregunta3:
		return &a.Pregunta3, nil
	}
	return nil, fmt.Errorf("unknown question %q", q)
}

func IsFormComplete(a Answers) bool {
	return a.Pregunta1 != Unanswered && a.Pregunta2 != Unanswered && a.Pregunta3 != Unanswered
}

func MayToSubmit(a Answers, st proximity.State, submitting bool) bool {
	return IsFormComplete(a) && st.IsEvaluated() && st.InRange && !submitting
}

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonSubmitting       Reason = "submitting"
	ReasonOutOfRange       Reason = "out_of_range"
	ReasonAwaitingLocation Reason = "awaiting_location"
	ReasonFormIncomplete   Reason = "form_incomplete"
)

// Block says why submission is not allowed. MetersNeeded is set only for
// ReasonOutOfRange.
type Block struct {
	Reason       Reason  `json:"reason"`
	MetersNeeded float64 `json:"meters_needed,omitempty"`
}

// BlockingReason reports the highest-priority reason submission is blocked:
// submitting, then location, then the form.
func BlockingReason(a Answers, st proximity.State, submitting bool, minDistance float64) Block {
	switch {
	case submitting:
		return Block{Reason: ReasonSubmitting}
	case st.IsEvaluated() && !st.InRange:
		return Block{Reason: ReasonOutOfRange, MetersNeeded: st.MetersNeeded(minDistance)}
	case !st.IsEvaluated():
		return Block{Reason: ReasonAwaitingLocation}
	case !IsFormComplete(a):
		return Block{Reason: ReasonFormIncomplete}
	}
	return Block{}
}

// Label is the call-to-action text of the submit button.
func (b Block) Label() string {
	switch b.Reason {
	case ReasonSubmitting:
		return "Enviando..."
	case ReasonOutOfRange:
		return "Acércate " + strconv.FormatFloat(b.MetersNeeded, 'f', -1, 64) + "m más"
	case ReasonAwaitingLocation:
		return "Verificando ubicación..."
	case ReasonFormIncomplete:
		return "Responde todas las preguntas"
	}
	return "Enviar encuesta"
}

// BlockedError is returned when a local precondition stops an action.
type BlockedError struct {
	Block Block
}

func (e *BlockedError) Error() string {
	if e.Block.Reason == ReasonOutOfRange {
		return fmt.Sprintf("survey blocked: %s (%sm needed)", e.Block.Reason, strconv.FormatFloat(e.Block.MetersNeeded, 'f', -1, 64))
	}
	return "survey blocked: " + string(e.Block.Reason)
}

func (e *BlockedError) Kind() fieldwork.ErrorKind { return fieldwork.KindValidationBlocked }

// Gate is the full submission eligibility of a survey screen.
type Gate struct {
	FormComplete  bool    `json:"form_complete"`
	InRange       bool    `json:"in_range"`
	Submitting    bool    `json:"submitting"`
	MayToSubmit   bool    `json:"may_to_submit"`
	Reason        Reason  `json:"reason,omitempty"`
	MetersNeeded  float64 `json:"meters_needed,omitempty"`
	Label         string  `json:"label"`
	InputsEnabled bool    `json:"inputs_enabled"`
}

func NewGate(a Answers, st proximity.State, submitting bool, minDistance float64) Gate {
	b := BlockingReason(a, st, submitting, minDistance)
	inRange := st.IsEvaluated() && st.InRange
	return Gate{
		FormComplete:  IsFormComplete(a),
		InRange:       inRange,
		Submitting:    submitting,
		MayToSubmit:   MayToSubmit(a, st, submitting),
		Reason:        b.Reason,
		MetersNeeded:  b.MetersNeeded,
		Label:         b.Label(),
		InputsEnabled: inRange && !submitting,
	}
}

// BuildPayload encodes answers and the location of an in-range Evaluated state.
func BuildPayload(leaderID int, a Answers, st proximity.State, minDistance float64) (fieldwork.SurveyPayload, error) {
	if !IsFormComplete(a) {
		return fieldwork.SurveyPayload{}, &BlockedError{Block: Block{Reason: ReasonFormIncomplete}}
	}
	if !st.IsEvaluated() || st.UserLocation == nil {
		return fieldwork.SurveyPayload{}, &BlockedError{Block: Block{Reason: ReasonAwaitingLocation}}
	}
	if !st.InRange {
		return fieldwork.SurveyPayload{}, &BlockedError{Block: Block{Reason: ReasonOutOfRange, MetersNeeded: st.MetersNeeded(minDistance)}}
	}
	return fieldwork.SurveyPayload{
		IDLider:   leaderID,
		Pregunta1: string(a.Pregunta1),
		Pregunta2: string(a.Pregunta2),
		Pregunta3: string(a.Pregunta3),
		Ubicacion: st.UserLocation.String(),
	}, nil
}
