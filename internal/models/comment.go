package models

import (
	"time"
)

type Comment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	IssueID     uint      `gorm:"not null;index" json:"issueId"`
	Issue       Issue     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID      uint      `gorm:"not null;index" json:"userId"`
	User        User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	UpvoteCount int       `gorm:"not null;default:0" json:"upvoteCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Author *Author `gorm:"-" json:"author,omitempty"`
}

// Author is the public slice of a user shown next to their comments.
type Author struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
