// Package upvote is the upvote ledger: it flips an actor's membership on an
// issue or comment and keeps the target's counter equal to the membership
// count.
package upvote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"civicmap/internal/feed"
	"civicmap/internal/logger"
	"civicmap/internal/metrics"
	"civicmap/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	toggleTimeout    = 10 * time.Second
	checkConcurrency = 8
	MaxBatchTargets  = 200
)

// Scheduler queues a target for a counter recount.
type Scheduler interface {
	ScheduleUpdate(target models.Target)
}

type Service struct {
	store     Store
	publisher feed.Publisher
	recounter Scheduler
	metrics   *metrics.Metrics
	log       *logrus.Entry
	validate  *validator.Validate

	flights  singleflight.Group
	onChange []func(models.Target)
}

// NewService wires the ledger. publisher and recounter may be nil.
func NewService(store Store, publisher feed.Publisher, recounter Scheduler, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		recounter: recounter,
		metrics:   m,
		log:       log.Component("upvote"),
		validate:  validator.New(),
	}
}

// OnChange registers a callback run after every committed toggle.
// Register callbacks before the service starts taking requests.
func (s *Service) OnChange(fn func(models.Target)) {
	s.onChange = append(s.onChange, fn)
}

// Toggle flips the actor's membership on target and returns the committed state.
//
// Identical requests that overlap in time on this instance share one store
// call and one result, so a double submit is a single flip. Requests that do
// not overlap, or that land on different instances, each flip.
func (s *Service) Toggle(ctx context.Context, target models.Target, actorID uint) (Result, error) {
	if err := s.check(target, actorID); err != nil {
		s.metrics.Toggles.WithLabelValues(string(target.Kind), "invalid").Inc()
		return Result{}, err
	}

	key := fmt.Sprintf("%d|%s", actorID, target)
	start := time.Now()

	ch := s.flights.DoChan(key, func() (any, error) {
		// The flight outlives any single caller, so it runs on its own deadline.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), toggleTimeout)
		defer cancel()

		res, err := s.store.Toggle(fctx, target, actorID)
		if err != nil {
			return Result{}, classify(err)
		}
		s.afterToggle(fctx, target, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case r := <-ch:
		s.metrics.ToggleDuration.WithLabelValues(string(target.Kind)).Observe(time.Since(start).Seconds())
		if r.Shared {
			s.metrics.ToggleCoalesced.WithLabelValues(string(target.Kind)).Inc()
		}
		if r.Err != nil {
			s.metrics.Toggles.WithLabelValues(string(target.Kind), outcome(r.Err)).Inc()
			s.log.WithError(r.Err).WithFields(logrus.Fields{
				"target": target.String(),
				"actor":  actorID,
			}).Warn("toggle failed")
			return Result{}, r.Err
		}

		res := r.Val.(Result)
		if res.IsUpvoted {
			s.metrics.Toggles.WithLabelValues(string(target.Kind), "upvoted").Inc()
		} else {
			s.metrics.Toggles.WithLabelValues(string(target.Kind), "removed").Inc()
		}
		return res, nil
	}
}

func (s *Service) afterToggle(ctx context.Context, target models.Target, res Result) {
	if res.Drifted {
		s.log.WithField("target", target.String()).Warn("counter was already zero on removal, scheduling recount")
		if s.recounter != nil {
			s.recounter.ScheduleUpdate(target)
		}
	}

	for _, fn := range s.onChange {
		fn(target)
	}

	if s.publisher == nil {
		return
	}
	var ev feed.Event
	if target.Kind == models.KindComment {
		ev = feed.CommentChanged(feed.ActionUpdate, res.Comment)
	} else {
		ev = feed.IssueChanged(feed.ActionUpdate, res.Issue)
	}
	result := "ok"
	if err := s.publisher.Publish(ctx, ev); err != nil {
		// The toggle already committed; subscribers catch up on the next change.
		s.log.WithError(err).WithField("target", target.String()).Warn("feed publish failed")
		result = "error"
	}
	s.metrics.FeedPublished.WithLabelValues(string(target.Kind), result).Inc()
}

// HasUpvoted reports whether the actor currently holds a membership on target.
func (s *Service) HasUpvoted(ctx context.Context, target models.Target, actorID uint) (bool, error) {
	if err := s.check(target, actorID); err != nil {
		return false, err
	}
	ok, err := s.store.HasUpvoted(ctx, target, actorID)
	if err != nil {
		err = classify(err)
		s.metrics.MembershipChecks.WithLabelValues(string(target.Kind), outcome(err)).Inc()
		return false, err
	}
	s.metrics.MembershipChecks.WithLabelValues(string(target.Kind), "ok").Inc()
	return ok, nil
}

// HasUpvotedMany checks every target concurrently and merges the answers once
// all of them are in. Any failure fails the whole batch.
func (s *Service) HasUpvotedMany(ctx context.Context, targets []models.Target, actorID uint) (map[models.Target]bool, error) {
	if len(targets) > MaxBatchTargets {
		return nil, fmt.Errorf("%w: at most %d targets per batch", ErrInvalidInput, MaxBatchTargets)
	}
	for _, t := range targets {
		if err := s.check(t, actorID); err != nil {
			return nil, err
		}
	}

	answers := make([]bool, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)
	for i, t := range targets {
		g.Go(func() error {
			ok, err := s.HasUpvoted(gctx, t, actorID)
			if err != nil {
				return err
			}
			answers[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[models.Target]bool, len(targets))
	for i, t := range targets {
		out[t] = answers[i]
	}
	return out, nil
}

func (s *Service) check(target models.Target, actorID uint) error {
	if actorID == 0 {
		return fmt.Errorf("%w: missing actor", ErrInvalidInput)
	}
	if err := s.validate.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "unavailable"
	}
}
