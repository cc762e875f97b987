package model

import "time"

const (
	DocumentStatusPending = "pending"
	DocumentStatusIndexed = "indexed"
	DocumentStatusFailed  = "failed"
)

// StudyDocument is the registry row for an ingested study material. The
// chunk contents themselves live in the vector index side tables, not here.
type StudyDocument struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	Name       string    `gorm:"size:256;not null" json:"name"`
	Source     string    `gorm:"size:256" json:"source"`
	Status     string    `gorm:"size:16;not null;default:pending" json:"status"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
