package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/surveysgeo/fieldagent/internal/proximity"
	"github.com/surveysgeo/fieldagent/internal/survey"
)

type entry struct {
	workflow    *survey.Workflow
	unsubscribe func()
	done        chan struct{}
}

// Registry holds the open survey workflows and forwards their proximity
// states to the broker.
type Registry struct {
	broker *Broker
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry(broker *Broker, logger *slog.Logger) *Registry {
	return &Registry{
		broker:  broker,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Add registers w under a new ID.
func (r *Registry) Add(w *survey.Workflow) string {
	id := uuid.NewString()
	e := &entry{workflow: w, done: make(chan struct{})}
	e.unsubscribe = w.Engine().Subscribe(func(st proximity.State) {
		g := w.Gate()
		p := proximity.Present(st, w.Engine().MinDistance())
		r.broker.Publish(id, Event{Type: EventProximity, Proximity: &st, Presentation: &p, Gate: &g})
	})

	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
	return id
}

func (r *Registry) Get(id string) (*survey.Workflow, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	return e.workflow, nil
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Done returns a channel closed when the survey is closed.
func (r *Registry) Done(id string) (<-chan struct{}, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	return e.done, nil
}

// Close closes the workflow and tells its subscribers.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	e.unsubscribe()
	e.workflow.Close()
	r.broker.Publish(id, Event{Type: EventClosed})
	close(e.done)
	return nil
}

func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_ = r.Close(id)
	}
	if len(ids) > 0 {
		r.logger.Info("closed open surveys", "count", len(ids))
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
