package model

import "time"

// User owns study documents; retrieval is always scoped to the owner, so the
// id here is the partition key for everything in the vector index.
type User struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Username     string          `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email        string          `gorm:"size:128;not null;uniqueIndex" json:"email"`
	PasswordHash string          `gorm:"size:255;not null" json:"-"`
	Documents    []StudyDocument `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
