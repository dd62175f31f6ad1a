package upvoteclient

import (
	"fmt"
	"time"
)

// Phase is where a target is in its toggle cycle.
type Phase int

const (
	// Idle accepts live feed counts.
	Idle Phase = iota
	// Toggling has a toggle call in flight.
	Toggling
	// Settling ignores the feed for a short grace period after the response,
	// since a broadcast queued before it may still arrive.
	Settling
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Toggling:
		return "toggling"
	case Settling:
		return "settling"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// TargetState is everything the UI shows for one target, plus what it needs
// to undo an optimistic update.
type TargetState struct {
	Phase   Phase
	Upvoted bool
	Count   int

	// Last values confirmed by the server, restored when a toggle fails.
	ConfirmedUpvoted bool
	ConfirmedCount   int

	LastDispatch time.Time
	// Generation increments on every toggle response; a grace timer only
	// ends the settling period it was started for.
	Generation uint64
}

// Action is an input to Reduce.
type Action interface {
	action()
}

// Loaded sets the initial membership and count from a check call.
type Loaded struct {
	Upvoted bool
	Count   int
}

// Dispatch is the user asking to toggle.
type Dispatch struct {
	At       time.Time
	Debounce time.Duration
}

// Succeeded carries the toggle call's response.
type Succeeded struct {
	Upvoted bool
	Count   int
}

// Failed means the toggle call returned an error; nothing is known to have changed.
type Failed struct{}

// GraceElapsed ends the settling period started by the response of Generation.
type GraceElapsed struct {
	Generation uint64
}

// Broadcast is a counter value pushed by the live feed.
type Broadcast struct {
	Count int
}

func (Loaded) action()       {}
func (Dispatch) action()     {}
func (Succeeded) action()    {}
func (Failed) action()       {}
func (GraceElapsed) action() {}
func (Broadcast) action()    {}

// Reduce is the only way a TargetState changes. It returns the next state and
// whether the action was accepted; rejected actions return s unchanged.
func Reduce(s TargetState, a Action) (TargetState, bool) {
	switch a := a.(type) {
	case Loaded:
		if s.Phase != Idle {
			return s, false
		}
		s.Upvoted, s.Count = a.Upvoted, clamp(a.Count)
		s.ConfirmedUpvoted, s.ConfirmedCount = s.Upvoted, s.Count
		return s, true

	case Dispatch:
		if s.Phase == Toggling {
			return s, false
		}
		if !s.LastDispatch.IsZero() && a.At.Sub(s.LastDispatch) < a.Debounce {
			return s, false
		}
		s.ConfirmedUpvoted, s.ConfirmedCount = s.Upvoted, s.Count
		s.Upvoted = !s.Upvoted
		if s.Upvoted {
			s.Count++
		} else {
			s.Count = clamp(s.Count - 1)
		}
		s.Phase = Toggling
		s.LastDispatch = a.At
		return s, true

	case Succeeded:
		if s.Phase != Toggling {
			return s, false
		}
		s.Upvoted = a.Upvoted
		s.Count = settledCount(s.ConfirmedCount, a)
		s.ConfirmedUpvoted, s.ConfirmedCount = s.Upvoted, s.Count
		s.Phase = Settling
		s.Generation++
		return s, true

	case Failed:
		if s.Phase != Toggling {
			return s, false
		}
		s.Upvoted, s.Count = s.ConfirmedUpvoted, s.ConfirmedCount
		s.Phase = Idle
		return s, true

	case GraceElapsed:
		if s.Phase != Settling || a.Generation != s.Generation {
			return s, false
		}
		s.Phase = Idle
		return s, true

	case Broadcast:
		if s.Phase != Idle {
			return s, false
		}
		s.Count = clamp(a.Count)
		s.ConfirmedCount = s.Count
		return s, true
	}
	return s, false
}

// settledCount trusts the server except for a zero that contradicts a
// nonzero count seen before the toggle; then it steps from that count.
func settledCount(before int, res Succeeded) int {
	count := clamp(res.Count)
	if count != 0 || before == 0 {
		return count
	}
	if res.Upvoted {
		return before + 1
	}
	return clamp(before - 1)
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
