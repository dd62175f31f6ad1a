package models

import (
	"time"
)

// Upvote is one actor's membership on exactly one issue or comment.
// NULLs are distinct in both unique indexes, so each index only constrains its own target kind.
type Upvote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index;uniqueIndex:idx_upvote_user_issue,priority:1;uniqueIndex:idx_upvote_user_comment,priority:1" json:"userId"`
	IssueID   *uint     `gorm:"index;uniqueIndex:idx_upvote_user_issue,priority:2;check:(issue_id IS NULL) <> (comment_id IS NULL)" json:"issueId,omitempty"`
	Issue     *Issue    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CommentID *uint     `gorm:"index;uniqueIndex:idx_upvote_user_comment,priority:2" json:"commentId,omitempty"`
	Comment   *Comment  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}
