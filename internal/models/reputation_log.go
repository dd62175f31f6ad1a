package models

import (
	"time"
)

// ReputationLog records every change to a user's reputation.
type ReputationLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"userId"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Amount    int       `gorm:"not null" json:"amount"` // negative on removal
	Action    string    `gorm:"size:100;not null" json:"action"`
	CreatedAt time.Time `json:"createdAt"`
}
