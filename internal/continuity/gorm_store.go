// internal/continuity/gorm_store.go
package continuity

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/Corphon/StoryReel/internal/errors"
	"github.com/Corphon/StoryReel/internal/models"
)

// GormStore keeps characters in the characters table. The primary key on
// Key makes concurrent inserts of one name fail for all but one writer,
// and appearance updates are a single atomic UPDATE.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, key string) (*models.Character, error) {
	var c models.Character
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("character "+key, nil)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("load character "+key, err)
	}
	return &c, nil
}

func (s *GormStore) Insert(ctx context.Context, character *models.Character) error {
	err := s.db.WithContext(ctx).Create(character).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.NewConflictError("character "+character.Key+" already exists", err)
	}
	if err != nil {
		return apperrors.NewPersistenceError("insert character "+character.Key, err)
	}
	return nil
}

func (s *GormStore) AddAppearances(ctx context.Context, key string, delta int) (*models.Character, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Character{}).
		Where("key = ?", key).
		UpdateColumn("appearances", gorm.Expr("appearances + ?", delta))
	if result.Error != nil {
		return nil, apperrors.NewPersistenceError("update character "+key, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NewNotFoundError("character "+key, nil)
	}
	return s.Get(ctx, key)
}

func (s *GormStore) List(ctx context.Context) ([]*models.Character, error) {
	var characters []*models.Character
	if err := s.db.WithContext(ctx).Order("created_at").Find(&characters).Error; err != nil {
		return nil, apperrors.NewPersistenceError("list characters", err)
	}
	return characters, nil
}
