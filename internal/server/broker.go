package server

import (
	"encoding/json"
	"sync"

	"github.com/surveysgeo/fieldagent/internal/proximity"
	"github.com/surveysgeo/fieldagent/internal/survey"
)

const (
	EventProximity = "proximity"
	EventGate      = "gate"
	EventSubmitted = "submitted"
	EventClosed    = "closed"
)

// Event is the payload published to the subscribers of one survey.
type Event struct {
	Type         string                  `json:"type"`
	Proximity    *proximity.State        `json:"proximity,omitempty"`
	Presentation *proximity.Presentation `json:"presentation,omitempty"`
	Gate         *survey.Gate            `json:"gate,omitempty"`
	SurveyID     string                  `json:"survey_id,omitempty"`
}

// Broker is an in-process pub/sub for survey events, keyed by workflow ID.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives JSON-encoded events for the survey.
func (b *Broker) Subscribe(id string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[id] == nil {
		b.subs[id] = make(map[chan []byte]struct{})
	}
	b.subs[id][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(id string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[id], ch)
	if len(b.subs[id]) == 0 {
		delete(b.subs, id)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of the survey.
func (b *Broker) Publish(id string, event Event) {
	data, _ := json.Marshal(event)
	b.mu.RLock()
	for ch := range b.subs[id] {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}

func (b *Broker) subscribers(id string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[id])
}
