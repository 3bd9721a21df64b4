package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel contains the timestamp columns shared by all persisted entities.
// created_time is immutable after creation; updated_time is bumped on every write.
type BaseModel struct {
	CreatedAt time.Time `gorm:"column:created_time" json:"createdTime"`
	UpdatedAt time.Time `gorm:"column:updated_time" json:"updatedTime"`
}

// BeforeCreate sets both timestamps if they have not been set explicitly
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	return nil
}

// BeforeUpdate bumps the updated_time timestamp
func (b *BaseModel) BeforeUpdate(tx *gorm.DB) error {
	b.UpdatedAt = time.Now().UTC()
	return nil
}
