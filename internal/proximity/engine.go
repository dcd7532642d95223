// Package proximity decides whether the device is close enough to a survey
// target. An Engine samples the device position, measures the distance to its
// target and publishes a State; Present turns that State into display text.
package proximity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/surveysgeo/fieldagent/internal/fieldwork"
	"github.com/surveysgeo/fieldagent/internal/geo"
	"github.com/surveysgeo/fieldagent/internal/location"
	"github.com/surveysgeo/fieldagent/internal/metrics"
)

const (
	DefaultMinDistance     = 80.0
	DefaultRefreshInterval = 10 * time.Second
	DefaultTimeout         = 15 * time.Second
)

const (
	msgPermissionDenied  = "Permisos de ubicación denegados"
	msgTimeout           = "Timeout GPS - Verifica tu conexión"
	msgUnavailable       = "Error obteniendo ubicación"
	msgTargetUnavailable = "Ubicación objetivo no disponible"
)

type Kind int

const (
	Idle Kind = iota
	Loading
	Evaluated
	Failed
)

func (k Kind) String() string {
	switch k {
	case Loading:
		return "loading"
	case Evaluated:
		return "evaluated"
	case Failed:
		return "failed"
	}
	return "idle"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for _, c := range []Kind{Idle, Loading, Evaluated, Failed} {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown proximity state %q", b)
}

// State is a snapshot of the engine. Distance, InRange and UserLocation are
// set only when Kind is Evaluated; Reason and Message only when Failed.
type State struct {
	Kind           Kind                `json:"kind"`
	Distance       float64             `json:"distance_m,omitempty"`
	InRange        bool                `json:"in_range"`
	UserLocation   *geo.Coordinate     `json:"user_location,omitempty"`
	AccuracyMeters float64             `json:"accuracy_m,omitempty"`
	Reason         fieldwork.ErrorKind `json:"reason,omitempty"`
	Message        string              `json:"message,omitempty"`
	Seq            uint64              `json:"seq"`
}

func (s State) IsEvaluated() bool { return s.Kind == Evaluated }

// DisplayDistance is the distance rounded to the nearest meter. The in-range
// decision always uses the raw Distance.
func (s State) DisplayDistance() int {
	return int(math.Round(s.Distance))
}

// MetersNeeded is how much closer the agent has to get, computed from the
// displayed distance.
func (s State) MetersNeeded(minDistance float64) float64 {
	return float64(s.DisplayDistance()) - minDistance
}

type Options struct {
	MinDistance float64
	Timeout     time.Duration
	Accuracy    location.Accuracy
	Logger      *slog.Logger
}

// Engine owns the proximity State for one target. It is created when a survey
// screen opens and closed when it goes away; after Close no result is applied.
type Engine struct {
	provider    location.Provider
	minDistance float64
	timeout     time.Duration
	accuracy    location.Accuracy
	logger      *slog.Logger

	life   context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	// notifyMu orders state changes and listener delivery.
	notifyMu sync.Mutex

	mu        sync.Mutex
	target    geo.Coordinate
	state     State
	gen       uint64
	next      uint64
	applied   uint64
	closed    bool
	listeners map[int]func(State)
	nextID    int
	refresher *Refresher
}

func NewEngine(provider location.Provider, target geo.Coordinate, opts Options) *Engine {
	if opts.MinDistance <= 0 {
		opts.MinDistance = DefaultMinDistance
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Accuracy == location.AccuracyBalanced {
		opts.Accuracy = location.AccuracyHigh
	}
	life, cancel := context.WithCancel(context.Background())
	return &Engine{
		provider:    provider,
		minDistance: opts.MinDistance,
		timeout:     opts.Timeout,
		accuracy:    opts.Accuracy,
		logger:      opts.Logger,
		life:        life,
		cancel:      cancel,
		target:      target,
		listeners:   make(map[int]func(State)),
	}
}

func (e *Engine) MinDistance() float64 { return e.minDistance }

func (e *Engine) Target() geo.Coordinate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers fn to receive every published State. fn runs on the
// publishing goroutine and must not block or call Evaluate.
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// SetTarget starts a new evaluation cycle from Idle. Results of evaluations
// started for the previous target are discarded.
func (e *Engine) SetTarget(target geo.Coordinate) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.target = target
	e.gen++
	e.applied = e.next
	e.state = State{Kind: Idle, Seq: e.next}
	st, ls := e.state, e.listenersLocked()
	e.mu.Unlock()

	for _, fn := range ls {
		fn(st)
	}
}

// Evaluate samples the device position and returns the resulting State.
// Concurrent calls share a single in-flight sample. If ctx ends first the
// current State is returned and the sample still completes in the background.
func (e *Engine) Evaluate(ctx context.Context) State {
	e.mu.Lock()
	if e.closed {
		st := e.state
		e.mu.Unlock()
		return st
	}
	gen := e.gen
	e.mu.Unlock()

	ch := e.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return e.run(gen), nil
	})
	select {
	case res := <-ch:
		return res.Val.(State)
	case <-ctx.Done():
		return e.State()
	}
}

func (e *Engine) run(gen uint64) State {
	started := time.Now()

	e.mu.Lock()
	if e.closed || gen != e.gen {
		st := e.state
		e.mu.Unlock()
		return st
	}
	e.next++
	seq := e.next
	target := e.target
	e.mu.Unlock()

	e.publish(State{Kind: Loading, Seq: seq}, gen, seq)

	ctx, cancel := context.WithTimeout(e.life, e.timeout)
	defer cancel()

	st := e.sample(ctx, target)
	st.Seq = seq

	if !e.publish(st, gen, seq) {
		e.logger.Debug("discarding proximity result", "seq", seq)
		metrics.ObserveEvaluation("discarded", started)
		return e.State()
	}

	switch st.Kind {
	case Evaluated:
		e.logger.Info("proximity evaluated",
			"distance_m", st.DisplayDistance(),
			"min_distance_m", e.minDistance,
			"in_range", st.InRange,
		)
		if st.InRange {
			metrics.ObserveEvaluation("in_range", started)
		} else {
			metrics.ObserveEvaluation("out_of_range", started)
		}
	case Failed:
		e.logger.Warn("proximity evaluation failed", "reason", st.Reason, "message", st.Message)
		metrics.ObserveEvaluation(string(st.Reason), started)
	}
	return st
}

// sample runs one permission, fix, distance cycle in that order.
func (e *Engine) sample(ctx context.Context, target geo.Coordinate) State {
	if !target.Valid() {
		return failed(fieldwork.KindTargetUnavailable, msgTargetUnavailable)
	}

	perm, err := e.provider.RequestPermission(ctx)
	if err != nil {
		return unavailable(err)
	}
	if perm != location.PermissionGranted {
		return failed(fieldwork.KindPermissionDenied, msgPermissionDenied)
	}

	fix, err := e.provider.CurrentPosition(ctx, e.accuracy)
	if err != nil {
		if errors.Is(err, location.ErrPermissionDenied) {
			return failed(fieldwork.KindPermissionDenied, msgPermissionDenied)
		}
		return unavailable(err)
	}
	if !fix.Coordinate.Valid() {
		return failed(fieldwork.KindLocationUnavailable, msgUnavailable)
	}

	user := fix.Coordinate
	d := geo.Distance(user, target)
	return State{
		Kind:           Evaluated,
		Distance:       d,
		InRange:        d <= e.minDistance,
		UserLocation:   &user,
		AccuracyMeters: fix.AccuracyMeters,
	}
}

func failed(reason fieldwork.ErrorKind, msg string) State {
	return State{Kind: Failed, Reason: reason, Message: msg}
}

func unavailable(err error) State {
	if errors.Is(err, context.DeadlineExceeded) {
		return failed(fieldwork.KindLocationUnavailable, msgTimeout)
	}
	return failed(fieldwork.KindLocationUnavailable, msgUnavailable)
}

// publish applies st unless the engine is closed, the target changed, or a
// newer evaluation has already been applied.
func (e *Engine) publish(st State, gen, seq uint64) bool {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	if e.closed || gen != e.gen || seq < e.applied {
		e.mu.Unlock()
		return false
	}
	e.applied = seq
	e.state = st
	ls := e.listenersLocked()
	e.mu.Unlock()

	for _, fn := range ls {
		fn(st)
	}
	return true
}

func (e *Engine) listenersLocked() []func(State) {
	ls := make([]func(State), 0, len(e.listeners))
	for _, fn := range e.listeners {
		ls = append(ls, fn)
	}
	return ls
}

// Refresher is the handle of a running Start loop.
type Refresher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop ends the loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.once.Do(r.cancel)
	<-r.done
}

// Start evaluates once immediately and then, if interval > 0, on every tick.
// A tick that fires while an evaluation is running is dropped, so at most one
// evaluation is in flight. Starting again stops the previous loop.
func (e *Engine) Start(interval time.Duration) *Refresher {
	ctx, cancel := context.WithCancel(e.life)
	r := &Refresher{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	prev := e.refresher
	e.refresher = r
	e.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	go func() {
		defer close(r.done)

		e.Evaluate(ctx)
		if interval <= 0 {
			return
		}

		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				e.Evaluate(ctx)
			}
		}
	}()
	return r
}

// Close stops any refresh loop, aborts the in-flight sample and discards its
// result. The engine keeps its last State.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	r := e.refresher
	e.refresher = nil
	e.mu.Unlock()

	e.cancel()
	if r != nil {
		r.Stop()
	}
}
