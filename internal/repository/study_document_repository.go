package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"studyrag/internal/model"
)

type StudyDocumentRepository struct {
	db *gorm.DB
}

func NewStudyDocumentRepository(db *gorm.DB) *StudyDocumentRepository {
	return &StudyDocumentRepository{db: db}
}

func (r *StudyDocumentRepository) Create(doc *model.StudyDocument) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create study document failed: %w", err)
	}
	return nil
}

func (r *StudyDocumentRepository) GetByIDAndUserID(id, userID uint) (*model.StudyDocument, error) {
	var doc model.StudyDocument
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query study document failed: %w", err)
	}
	return &doc, nil
}

func (r *StudyDocumentRepository) ListByUserID(userID uint) ([]model.StudyDocument, error) {
	var docs []model.StudyDocument
	if err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list study documents failed: %w", err)
	}
	return docs, nil
}

func (r *StudyDocumentRepository) UpdateStatus(id uint, status string, chunkCount int) error {
	updates := map[string]interface{}{"status": status, "chunk_count": chunkCount}
	if err := r.db.Model(&model.StudyDocument{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update study document status failed: %w", err)
	}
	return nil
}

func (r *StudyDocumentRepository) Delete(id, userID uint) error {
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.StudyDocument{}).Error; err != nil {
		return fmt.Errorf("delete study document failed: %w", err)
	}
	return nil
}
