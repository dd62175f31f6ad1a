package upvoteclient

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultGrace    = 800 * time.Millisecond
	DefaultDebounce = 300 * time.Millisecond
)

// Toggler performs the toggle call. *Client implements it.
type Toggler interface {
	Toggle(ctx context.Context, t Target) (ToggleResult, error)
}

// Reconciler owns the displayed upvote state of every target on screen.
// All changes go through Reduce under one lock, whichever goroutine they come
// from: the caller, a grace timer or the feed.
type Reconciler struct {
	toggler  Toggler
	grace    time.Duration
	debounce time.Duration
	now      func() time.Time
	onChange func(Target, TargetState)

	mu     sync.Mutex
	states map[Target]TargetState
	timers map[Target]*time.Timer
	closed bool
}

type Option func(*Reconciler)

func WithGrace(d time.Duration) Option    { return func(r *Reconciler) { r.grace = d } }
func WithDebounce(d time.Duration) Option { return func(r *Reconciler) { r.debounce = d } }
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// OnChange is called after every accepted state change, outside the lock.
func OnChange(fn func(Target, TargetState)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

func NewReconciler(toggler Toggler, opts ...Option) *Reconciler {
	r := &Reconciler{
		toggler:  toggler,
		grace:    DefaultGrace,
		debounce: DefaultDebounce,
		now:      time.Now,
		states:   make(map[Target]TargetState),
		timers:   make(map[Target]*time.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current state of t.
func (r *Reconciler) State(t Target) (TargetState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[t]
	return s, ok
}

// Load seeds t with the membership and count fetched on page load.
func (r *Reconciler) Load(t Target, upvoted bool, count int) bool {
	return r.apply(t, Loaded{Upvoted: upvoted, Count: count})
}

// Broadcast applies a feed count for t. It is ignored unless t is idle.
func (r *Reconciler) Broadcast(t Target, count int) bool {
	return r.apply(t, Broadcast{Count: count})
}

// ApplyChange feeds a live feed change in. Deleted targets are forgotten.
func (r *Reconciler) ApplyChange(ch Change) bool {
	if ch.Action == "delete" {
		r.mu.Lock()
		defer r.mu.Unlock()
		if timer, ok := r.timers[ch.Target]; ok {
			timer.Stop()
			delete(r.timers, ch.Target)
		}
		_, ok := r.states[ch.Target]
		delete(r.states, ch.Target)
		return ok
	}
	return r.Broadcast(ch.Target, ch.UpvoteCount)
}

// Toggle optimistically flips t and calls the server. It returns ErrBusy
// without calling the server when a toggle of t is in flight or was
// dispatched within the debounce window. On failure the state reverts to the
// last confirmed value and the error is returned.
//
// The optimistic flip reaches OnChange before the server answers, so a target
// that turns out to be gone (ErrNotFound) is shown flipped and then reverted.
func (r *Reconciler) Toggle(ctx context.Context, t Target) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	next, ok := Reduce(r.states[t], Dispatch{At: r.now(), Debounce: r.debounce})
	if !ok {
		r.mu.Unlock()
		return ErrBusy
	}
	r.states[t] = next
	r.mu.Unlock()
	r.notify(t, next)

	res, err := r.toggler.Toggle(ctx, t)
	if err != nil {
		r.apply(t, Failed{})
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	next, ok = Reduce(r.states[t], Succeeded{Upvoted: res.IsUpvoted, Count: res.CurrentCount})
	if ok {
		r.states[t] = next
		r.startGrace(t, next.Generation)
	}
	r.mu.Unlock()
	if ok {
		r.notify(t, next)
	}
	return nil
}

// startGrace must be called with r.mu held.
func (r *Reconciler) startGrace(t Target, gen uint64) {
	if old, ok := r.timers[t]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		if r.timers[t] == timer {
			delete(r.timers, t)
		}
		r.mu.Unlock()
		r.apply(t, GraceElapsed{Generation: gen})
	})
	r.timers[t] = timer
}

func (r *Reconciler) apply(t Target, a Action) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	next, ok := Reduce(r.states[t], a)
	if ok {
		r.states[t] = next
	}
	r.mu.Unlock()

	if ok {
		r.notify(t, next)
	}
	return ok
}

func (r *Reconciler) notify(t Target, s TargetState) {
	if r.onChange != nil {
		r.onChange(t, s)
	}
}

// Close stops every timer. Results that arrive afterwards are dropped.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for t, timer := range r.timers {
		timer.Stop()
		delete(r.timers, t)
	}
}

// Follow feeds every change from the client's live feed into the reconciler
// until ctx is cancelled or the stream breaks.
func (r *Reconciler) Follow(ctx context.Context, c *Client) error {
	return c.Follow(ctx, func(ch Change) {
		r.ApplyChange(ch)
	})
}
