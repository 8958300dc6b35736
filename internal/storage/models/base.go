// internal/storage/models/base.go
package models

import "time"

// BaseModel replaces gorm.Model; journal rows are never soft-deleted.
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
