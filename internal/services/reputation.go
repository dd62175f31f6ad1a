package services

import (
	"fmt"

	"civicmap/internal/models"

	"gorm.io/gorm"
)

// Reputation actions
const (
	ActionIssueUpvoted   = "issue upvoted"
	ActionIssueUnvoted   = "issue upvote withdrawn"
	ActionCommentUpvoted = "comment upvoted"
	ActionCommentUnvoted = "comment upvote withdrawn"
	ActionIssueResolved  = "issue resolved"
)

const (
	PointsUpvoteReceived = 1
	PointsIssueResolved  = 5
)

// AddReputation writes a log row and moves the user's balance.
// It must run inside the caller's transaction so the change commits with the
// event that caused it.
func AddReputation(tx *gorm.DB, userID uint, amount int, action string) error {
	entry := models.ReputationLog{
		UserID: userID,
		Amount: amount,
		Action: action,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("reputation log: %w", err)
	}

	if err := tx.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("reputation", gorm.Expr("reputation + ?", amount)).
		Error; err != nil {
		return fmt.Errorf("reputation balance: %w", err)
	}
	return nil
}

// UpvoteAction picks the reputation action and amount for a toggle outcome.
func UpvoteAction(kind models.TargetKind, upvoted bool) (string, int) {
	switch {
	case kind == models.KindComment && upvoted:
		return ActionCommentUpvoted, PointsUpvoteReceived
	case kind == models.KindComment:
		return ActionCommentUnvoted, -PointsUpvoteReceived
	case upvoted:
		return ActionIssueUpvoted, PointsUpvoteReceived
	default:
		return ActionIssueUnvoted, -PointsUpvoteReceived
	}
}
