package upvote

import (
	"context"

	"civicmap/internal/models"
	"civicmap/internal/services"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxAttempts = 3

// Store owns the upvote memberships and the counters they feed.
type Store interface {
	Toggle(ctx context.Context, target models.Target, actorID uint) (Result, error)
	HasUpvoted(ctx context.Context, target models.Target, actorID uint) (bool, error)
}

// Result is the authoritative state right after a toggle committed.
type Result struct {
	IsUpvoted    bool `json:"isUpvoted"`
	CurrentCount int  `json:"currentCount"`

	// Full record as committed, for the live feed.
	Issue   *models.Issue   `json:"-"`
	Comment *models.Comment `json:"-"`

	// Drifted is set when a decrement found the counter already at zero.
	Drifted bool `json:"-"`
}

// GormStore runs each toggle as one transaction serialized on the target row.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Toggle(ctx context.Context, target models.Target, actorID uint) (Result, error) {
	var (
		res Result
		err error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err = s.toggleOnce(ctx, target, actorID)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return res, classify(err)
}

func (s *GormStore) toggleOnce(ctx context.Context, target models.Target, actorID uint) (Result, error) {
	var res Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Every toggle of this target queues here until the previous one commits.
		authorID, err := res.load(tx, target, true)
		if err != nil {
			return err
		}

		var existing models.Upvote
		found := tx.Where("user_id = ?", actorID).
			Where(target.Column()+" = ?", target.ID).
			Limit(1).
			Find(&existing)
		if found.Error != nil {
			return found.Error
		}

		if found.RowsAffected > 0 {
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
			dec := tx.Model(target.NewRecord()).
				Where("id = ? AND upvote_count > 0", target.ID).
				UpdateColumn("upvote_count", gorm.Expr("upvote_count - 1"))
			if dec.Error != nil {
				return dec.Error
			}
			res.Drifted = dec.RowsAffected == 0
			res.IsUpvoted = false
		} else {
			membership := models.Upvote{UserID: actorID}
			id := target.ID
			if target.Kind == models.KindComment {
				membership.CommentID = &id
			} else {
				membership.IssueID = &id
			}
			if err := tx.Create(&membership).Error; err != nil {
				return err
			}
			if err := tx.Model(target.NewRecord()).
				Where("id = ?", target.ID).
				UpdateColumn("upvote_count", gorm.Expr("upvote_count + 1")).Error; err != nil {
				return err
			}
			res.IsUpvoted = true
		}

		if authorID != actorID {
			action, amount := services.UpvoteAction(target.Kind, res.IsUpvoted)
			if err := services.AddReputation(tx, authorID, amount, action); err != nil {
				return err
			}
		}

		_, err = res.load(tx, target, false)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// load reads the target into the result and returns its author.
func (r *Result) load(tx *gorm.DB, target models.Target, lock bool) (uint, error) {
	q := tx
	if lock && tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	if target.Kind == models.KindComment {
		var comment models.Comment
		if err := q.First(&comment, target.ID).Error; err != nil {
			return 0, err
		}
		r.Comment = &comment
		r.CurrentCount = comment.UpvoteCount
		return comment.UserID, nil
	}

	var issue models.Issue
	if err := q.First(&issue, target.ID).Error; err != nil {
		return 0, err
	}
	r.Issue = &issue
	r.CurrentCount = issue.UpvoteCount
	return issue.UserID, nil
}

func (s *GormStore) HasUpvoted(ctx context.Context, target models.Target, actorID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Upvote{}).
		Where("user_id = ?", actorID).
		Where(target.Column()+" = ?", target.ID).
		Count(&count).Error
	if err != nil {
		return false, classify(err)
	}
	return count > 0, nil
}
