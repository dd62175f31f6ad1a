package models

import (
	"time"
)

type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null;unique" json:"name" yaml:"name"`
	Color     string    `gorm:"size:20;not null" json:"color" yaml:"color"`
	Icon      string    `gorm:"size:50;not null" json:"icon" yaml:"icon"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}
