package repository

import (
	"context"
	"fmt"

	"github.com/reencodarr/reencodarr/internal/models"
	"gorm.io/gorm"
)

// vmafRepo implements VmafRepository using GORM.
type vmafRepo struct {
	db *gorm.DB
}

// NewVmafRepository creates a new VmafRepository.
func NewVmafRepository(db *gorm.DB) *vmafRepo {
	return &vmafRepo{db: db}
}

// Upsert writes a Vmaf row, keyed on (video_id, crf) per the unique
// constraint in §6's persisted-state layout: update in place if a trial at
// this crf already exists, insert otherwise.
func (r *vmafRepo) Upsert(ctx context.Context, vmaf *models.Vmaf) error {
	existing, err := r.GetByVideoAndCRF(ctx, vmaf.VideoID, vmaf.CRF)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := r.db.WithContext(ctx).Create(vmaf).Error; err != nil {
			return fmt.Errorf("creating vmaf: %w", err)
		}
		return nil
	}
	vmaf.ID = existing.ID
	if err := r.db.WithContext(ctx).Save(vmaf).Error; err != nil {
		return fmt.Errorf("updating vmaf: %w", err)
	}
	return nil
}

func (r *vmafRepo) GetByVideoAndCRF(ctx context.Context, videoID uint, crf float64) (*models.Vmaf, error) {
	var vmaf models.Vmaf
	err := r.db.WithContext(ctx).
		Where("video_id = ? AND crf = ?", videoID, crf).
		First(&vmaf).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting vmaf by video and crf: %w", err)
	}
	return &vmaf, nil
}

func (r *vmafRepo) ListByVideo(ctx context.Context, videoID uint) ([]*models.Vmaf, error) {
	var vmafs []*models.Vmaf
	err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("crf ASC").
		Find(&vmafs).Error
	if err != nil {
		return nil, fmt.Errorf("listing vmafs by video: %w", err)
	}
	return vmafs, nil
}

func (r *vmafRepo) GetChosen(ctx context.Context, videoID uint) (*models.Vmaf, error) {
	var vmaf models.Vmaf
	err := r.db.WithContext(ctx).
		Where("video_id = ? AND chosen = ?", videoID, true).
		First(&vmaf).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting chosen vmaf: %w", err)
	}
	return &vmaf, nil
}

// MarkChosen clears any prior chosen=true row for videoID and sets the row
// at id, inside a transaction so no two rows for the same video are ever
// simultaneously chosen.
func (r *vmafRepo) MarkChosen(ctx context.Context, videoID, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Vmaf{}).
			Where("video_id = ? AND chosen = ?", videoID, true).
			Update("chosen", false).Error; err != nil {
			return fmt.Errorf("clearing prior chosen vmaf: %w", err)
		}
		result := tx.Model(&models.Vmaf{}).
			Where("id = ? AND video_id = ?", id, videoID).
			Update("chosen", true)
		if result.Error != nil {
			return fmt.Errorf("marking vmaf chosen: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("marking vmaf chosen: no row id=%d for video_id=%d", id, videoID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}
