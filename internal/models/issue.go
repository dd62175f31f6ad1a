package models

import (
	"time"
)

type IssueStatus string

const (
	StatusOpen       IssueStatus = "open"
	StatusInProgress IssueStatus = "in_progress"
	StatusResolved   IssueStatus = "resolved"
)

func (s IssueStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

type Location struct {
	Lat float64 `gorm:"column:lat;not null" json:"lat"`
	Lng float64 `gorm:"column:lng;not null" json:"lng"`
}

type Issue struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text;not null" json:"description"`
	Location    Location       `gorm:"embedded" json:"location"`
	Address     string         `gorm:"not null" json:"address"`
	Category    string         `gorm:"not null;index" json:"category"`
	Status      IssueStatus    `gorm:"type:varchar(20);not null;default:'open';index" json:"status"`
	UserID      uint           `gorm:"not null;index" json:"userId"`
	User        User           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ImageURL    *string        `json:"imageUrl,omitempty"`
	UpvoteCount int            `gorm:"not null;default:0" json:"upvoteCount"`
	ContactInfo map[string]any `gorm:"serializer:json;type:text" json:"contactInfo,omitempty"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"` // first resolution; kept when reopened
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`

	// Filled on detail reads only.
	DescriptionHTML string `gorm:"-" json:"descriptionHtml,omitempty"`
}
