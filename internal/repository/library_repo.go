package repository

import (
	"context"
	"fmt"

	"github.com/reencodarr/reencodarr/internal/models"
	"gorm.io/gorm"
)

// libraryRepo implements LibraryRepository using GORM.
type libraryRepo struct {
	db *gorm.DB
}

// NewLibraryRepository creates a new LibraryRepository.
func NewLibraryRepository(db *gorm.DB) *libraryRepo {
	return &libraryRepo{db: db}
}

func (r *libraryRepo) Create(ctx context.Context, library *models.Library) error {
	if err := r.db.WithContext(ctx).Create(library).Error; err != nil {
		return fmt.Errorf("creating library: %w", err)
	}
	return nil
}

func (r *libraryRepo) GetByPath(ctx context.Context, path string) (*models.Library, error) {
	var library models.Library
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&library).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting library by path: %w", err)
	}
	return &library, nil
}

func (r *libraryRepo) List(ctx context.Context) ([]*models.Library, error) {
	var libraries []*models.Library
	if err := r.db.WithContext(ctx).Order("path ASC").Find(&libraries).Error; err != nil {
		return nil, fmt.Errorf("listing libraries: %w", err)
	}
	return libraries, nil
}
