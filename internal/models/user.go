package models

import (
	"time"
)

type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Email          string    `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName    string    `gorm:"size:100" json:"displayName"`
	Password       string    `gorm:"not null" json:"-"` // bcrypt hash
	AvatarURL      string    `json:"avatarUrl,omitempty"`
	Bio            string    `gorm:"size:200" json:"bio,omitempty"`
	City           string    `gorm:"size:100" json:"city,omitempty"`
	IsAdmin        bool      `gorm:"default:false;not null" json:"isAdmin"`
	Reputation     int       `gorm:"default:0;not null" json:"reputation"`
	IssuesReported int       `gorm:"default:0;not null" json:"issuesReported"`
	IssuesResolved int       `gorm:"default:0;not null" json:"issuesResolved"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
