package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"studyrag/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *model.User) error {
	if err := r.db.Create(user).Error; err != nil {
		return fmt.Errorf("create user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByUsername(username string) (*model.User, error) {
	return r.findOne("username = ?", username)
}

func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	return r.findOne("email = ?", email)
}

func (r *UserRepository) GetByID(id uint) (*model.User, error) {
	return r.findOne("id = ?", id)
}

// findOne maps gorm's not-found error to (nil, nil) so callers can branch on
// presence without errors.Is boilerplate.
func (r *UserRepository) findOne(query string, arg any) (*model.User, error) {
	var user model.User
	if err := r.db.Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user failed: %w", err)
	}
	return &user, nil
}
