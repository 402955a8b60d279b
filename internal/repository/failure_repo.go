package repository

import (
	"context"
	"fmt"

	"github.com/reencodarr/reencodarr/internal/models"
	"gorm.io/gorm"
)

// failureRepo implements FailureRepository using GORM. Failures are
// append-only per §6's persisted-state layout; there is deliberately no
// Update or Delete here.
type failureRepo struct {
	db *gorm.DB
}

// NewFailureRepository creates a new FailureRepository.
func NewFailureRepository(db *gorm.DB) *failureRepo {
	return &failureRepo{db: db}
}

func (r *failureRepo) Create(ctx context.Context, failure *models.FailureRecord) error {
	if err := r.db.WithContext(ctx).Create(failure).Error; err != nil {
		return fmt.Errorf("creating failure record: %w", err)
	}
	return nil
}

func (r *failureRepo) ListByVideo(ctx context.Context, videoID uint) ([]*models.FailureRecord, error) {
	var failures []*models.FailureRecord
	err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("created_at DESC").
		Find(&failures).Error
	if err != nil {
		return nil, fmt.Errorf("listing failures by video: %w", err)
	}
	return failures, nil
}
