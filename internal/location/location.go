// Package location defines how the agent obtains the device position.
//
// A Provider mirrors the platform location service: a permission prompt
// followed by a one-shot position request. Feed is backed by fixes the device
// front-end pushes over HTTP; Static always reports the same coordinate.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/surveysgeo/fieldagent/internal/geo"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location unavailable")
)

type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	}
	return "undetermined"
}

type Accuracy int

const (
	AccuracyBalanced Accuracy = iota
	AccuracyHigh
)

type Fix struct {
	Coordinate     geo.Coordinate
	AccuracyMeters float64
	Timestamp      time.Time
}

type Provider interface {
	RequestPermission(ctx context.Context) (Permission, error)
	CurrentPosition(ctx context.Context, accuracy Accuracy) (Fix, error)
}

// Feed is a Provider fed by the device. Permission decisions and fixes are
// pushed in; requests block until a usable answer arrives or ctx ends.
type Feed struct {
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	perm    Permission
	fix     Fix
	hasFix  bool
	changed chan struct{}
}

// NewFeed returns a Feed that reuses a pushed fix for at most maxAge.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{
		maxAge:  maxAge,
		now:     time.Now,
		changed: make(chan struct{}),
	}
}

// notifyLocked wakes every waiter. Caller must hold f.mu.
func (f *Feed) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *Feed) SetPermission(granted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if granted {
		f.perm = PermissionGranted
	} else {
		f.perm = PermissionDenied
	}
	f.notifyLocked()
}

func (f *Feed) Permission() Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perm
}

// Push records a device fix. A zero timestamp is stamped with the current time.
func (f *Feed) Push(fix Fix) error {
	if !fix.Coordinate.Valid() {
		return fmt.Errorf("pushing fix: %w", geo.ErrInvalidCoordinate)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if fix.Timestamp.IsZero() {
		fix.Timestamp = f.now()
	}
	f.fix = fix
	f.hasFix = true
	f.notifyLocked()
	return nil
}

func (f *Feed) RequestPermission(ctx context.Context) (Permission, error) {
	for {
		f.mu.Lock()
		perm, ch := f.perm, f.changed
		f.mu.Unlock()

		if perm != PermissionUndetermined {
			return perm, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return PermissionUndetermined, fmt.Errorf("awaiting permission decision: %w", ctx.Err())
		}
	}
}

// CurrentPosition returns the latest fix if it is fresh enough, otherwise it
// waits for the next push. The device chooses its own accuracy.
func (f *Feed) CurrentPosition(ctx context.Context, _ Accuracy) (Fix, error) {
	for {
		f.mu.Lock()
		perm, fix, ok, ch := f.perm, f.fix, f.hasFix, f.changed
		f.mu.Unlock()

		if perm == PermissionDenied {
			return Fix{}, ErrPermissionDenied
		}
		if ok && f.now().Sub(fix.Timestamp) <= f.maxAge {
			return fix, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return Fix{}, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
	}
}

// Static reports a fixed position with permission already granted.
type Static struct {
	Coordinate geo.Coordinate
}

func (s Static) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (s Static) CurrentPosition(ctx context.Context, _ Accuracy) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return Fix{Coordinate: s.Coordinate, Timestamp: time.Now()}, nil
}
