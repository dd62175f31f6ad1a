package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"civicmap/internal/feed"
	"civicmap/internal/logger"
	"civicmap/internal/metrics"
	"civicmap/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recountQueueSize = 1000

// RecountService recomputes upvote counters from the membership table in the
// background. Toggles keep counters exact on their own; this repairs drift
// left by manual edits or restores.
type RecountService struct {
	db        *gorm.DB
	publisher feed.Publisher
	metrics   *metrics.Metrics
	log       *logrus.Entry
	interval  time.Duration
	batchSize int

	queue   chan models.Target
	pending map[models.Target]bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewRecountService builds the worker. publisher may be nil.
func NewRecountService(db *gorm.DB, publisher feed.Publisher, m *metrics.Metrics, log *logger.Logger, interval time.Duration, batchSize int) *RecountService {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &RecountService{
		db:        db,
		publisher: publisher,
		metrics:   m,
		log:       log.Component("recount"),
		interval:  interval,
		batchSize: batchSize,
		queue:     make(chan models.Target, recountQueueSize),
		pending:   make(map[models.Target]bool),
	}
}

// ScheduleUpdate queues target unless it is already waiting. Never blocks.
func (s *RecountService) ScheduleUpdate(target models.Target) {
	s.mu.Lock()
	if s.pending[target] {
		s.mu.Unlock()
		return
	}
	s.pending[target] = true
	s.mu.Unlock()

	select {
	case s.queue <- target:
	default:
		s.mu.Lock()
		delete(s.pending, target)
		s.mu.Unlock()
		s.log.WithField("target", target.String()).Warn("recount queue full, skipping")
	}
}

// Start runs the queue worker until ctx is cancelled.
func (s *RecountService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(ctx)
	}()
}

// Wait blocks until every goroutine started by Start and StartNightly returned.
func (s *RecountService) Wait() {
	s.wg.Wait()
}

func (s *RecountService) worker(ctx context.Context) {
	batch := make([]models.Target, 0, s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case target := <-s.queue:
			batch = append(batch, target)
			if len(batch) >= s.batchSize {
				s.processBatch(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.processBatch(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *RecountService) processBatch(ctx context.Context, targets []models.Target) {
	for _, target := range targets {
		if _, err := s.Recount(ctx, target); err != nil {
			s.log.WithError(err).WithField("target", target.String()).Warn("recount failed")
		}

		s.mu.Lock()
		delete(s.pending, target)
		s.mu.Unlock()
	}
}

// Recount sets the target's counter to its membership count and reports
// whether the stored value was wrong. It takes the same row lock as a toggle.
func (s *RecountService) Recount(ctx context.Context, target models.Target) (bool, error) {
	var (
		changed bool
		ev      feed.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		record := target.NewRecord()
		if err := q.First(record, target.ID).Error; err != nil {
			return err
		}

		var members int64
		if err := tx.Model(&models.Upvote{}).
			Where(target.Column()+" = ?", target.ID).
			Count(&members).Error; err != nil {
			return err
		}

		switch r := record.(type) {
		case *models.Issue:
			if r.UpvoteCount == int(members) {
				return nil
			}
			r.UpvoteCount = int(members)
			ev = feed.IssueChanged(feed.ActionUpdate, r)
		case *models.Comment:
			if r.UpvoteCount == int(members) {
				return nil
			}
			r.UpvoteCount = int(members)
			ev = feed.CommentChanged(feed.ActionUpdate, r)
		}

		changed = true
		return tx.Model(target.NewRecord()).
			Where("id = ?", target.ID).
			UpdateColumn("upvote_count", members).Error
	})
	if err != nil {
		s.metrics.Recounts.WithLabelValues("failed").Inc()
		return false, fmt.Errorf("recount %s: %w", target, err)
	}
	if !changed {
		s.metrics.Recounts.WithLabelValues("unchanged").Inc()
		return false, nil
	}

	s.metrics.Recounts.WithLabelValues("repaired").Inc()
	s.log.WithFields(logrus.Fields{
		"target": target.String(),
		"count":  ev.UpvoteCount(),
	}).Info("counter repaired")
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.log.WithError(err).Warn("feed publish failed")
		}
	}
	return true, nil
}

// RecountAll checks every issue and comment and returns how many were repaired.
func (s *RecountService) RecountAll(ctx context.Context) (int, error) {
	repaired := 0
	for _, kind := range []models.TargetKind{models.KindIssue, models.KindComment} {
		var ids []uint
		probe := models.Target{Kind: kind}
		if err := s.db.WithContext(ctx).Model(probe.NewRecord()).Order("id").Pluck("id", &ids).Error; err != nil {
			return repaired, fmt.Errorf("list %s ids: %w", kind, err)
		}
		for _, id := range ids {
			changed, err := s.Recount(ctx, models.Target{Kind: kind, ID: id})
			if err != nil {
				return repaired, err
			}
			if changed {
				repaired++
			}
		}
	}
	return repaired, nil
}

// StartNightly runs RecountAll every day at 3am until ctx is cancelled.
func (s *RecountService) StartNightly(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			timer := time.NewTimer(time.Until(nextNightlyRun(time.Now())))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			s.log.Info("starting nightly recount")
			repaired, err := s.RecountAll(ctx)
			if err != nil {
				s.log.WithError(err).Error("nightly recount failed")
				continue
			}
			s.log.WithField("repaired", repaired).Info("nightly recount completed")
		}
	}()
}

func nextNightlyRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
	if !now.Before(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
