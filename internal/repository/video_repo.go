package repository

import (
	"context"
	"fmt"

	"github.com/reencodarr/reencodarr/internal/models"
	"gorm.io/gorm"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db     *gorm.DB
	driver string // "sqlite", "postgres", or "mysql"
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *videoRepo {
	driver := ""
	if db.Dialector != nil {
		driver = db.Dialector.Name()
	}
	return &videoRepo{db: db, driver: driver}
}

func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

func (r *videoRepo) GetByID(ctx context.Context, id uint) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).First(&video, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by id: %w", err)
	}
	return &video, nil
}

func (r *videoRepo) GetByPath(ctx context.Context, path string) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by path: %w", err)
	}
	return &video, nil
}

func (r *videoRepo) Update(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		return fmt.Errorf("updating video: %w", err)
	}
	return nil
}

func (r *videoRepo) VideosNeedingAnalysis(ctx context.Context, limit int) ([]*models.Video, error) {
	var videos []*models.Video
	err := r.db.WithContext(ctx).
		Where("state = ?", models.StateNeedsAnalysis).
		Order("created_at ASC").
		Limit(limit).
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("listing videos needing analysis: %w", err)
	}
	return videos, nil
}

// VideosForCRFSearch excludes codec-fast-pathed videos in SQL and applies
// the caller's exclude predicate in memory, since glob evaluation is out of
// scope for the store (§1 Non-goals) — fetches a larger page to absorb
// predicate rejections without a second round trip in the common case.
func (r *videoRepo) VideosForCRFSearch(ctx context.Context, limit int, exclude func(path string) bool) ([]*models.Video, error) {
	var candidates []*models.Video
	err := r.db.WithContext(ctx).
		Where("state = ?", models.StateAnalyzed).
		Where("video_codecs NOT LIKE ?", `%"AV1"%`).
		Where("audio_codecs NOT LIKE ?", `%"Opus"%`).
		Order("size DESC, created_at ASC").
		Limit(limit * 4).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("listing videos for crf search: %w", err)
	}

	videos := make([]*models.Video, 0, limit)
	for _, v := range candidates {
		if exclude != nil && exclude(v.Path) {
			continue
		}
		videos = append(videos, v)
		if len(videos) >= limit {
			break
		}
	}
	return videos, nil
}

func (r *videoRepo) VideosForEncoding(ctx context.Context, limit int) ([]*models.Video, error) {
	var videos []*models.Video
	err := r.db.WithContext(ctx).
		Where("state = ? AND chosen_vmaf_id IS NOT NULL", models.StateCRFSearched).
		Order("created_at ASC").
		Limit(limit).
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("listing videos for encoding: %w", err)
	}
	return videos, nil
}

func (r *videoRepo) ChosenVmafExists(ctx context.Context, videoID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Vmaf{}).
		Where("video_id = ? AND chosen = ?", videoID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking chosen vmaf: %w", err)
	}
	return count > 0, nil
}

func (r *videoRepo) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	stats := &DashboardStats{CountByState: make(map[models.State]int64)}

	var rows []struct {
		State models.State
		Count int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Video{}).
		Select("state, count(*) as count").
		Group("state").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting videos by state: %w", err)
	}
	for _, row := range rows {
		stats.CountByState[row.State] = row.Count
	}

	var totalSize int64
	if err := r.db.WithContext(ctx).Model(&models.Video{}).
		Select("COALESCE(SUM(size), 0)").Scan(&totalSize).Error; err != nil {
		return nil, fmt.Errorf("summing video size: %w", err)
	}
	stats.TotalSize = totalSize

	var vmafCount int64
	if err := r.db.WithContext(ctx).Model(&models.Vmaf{}).Count(&vmafCount).Error; err != nil {
		return nil, fmt.Errorf("counting vmafs: %w", err)
	}
	stats.VmafCount = vmafCount

	var totalSavings int64
	if err := r.db.WithContext(ctx).Model(&models.Vmaf{}).
		Where("chosen = ?", true).
		Select("COALESCE(SUM(savings), 0)").Scan(&totalSavings).Error; err != nil {
		return nil, fmt.Errorf("summing predicted savings: %w", err)
	}
	stats.TotalSavings = totalSavings

	return stats, nil
}

func (r *videoRepo) ResetOrphanedCRFSearching(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("state = ?", models.StateCRFSearching).
		Update("state", models.StateAnalyzed)
	if result.Error != nil {
		return 0, fmt.Errorf("resetting orphaned crf_searching videos: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ResetOrphanedEncoding resets `encoding` videos to `crf_searched` when a
// chosen Vmaf exists, else to `analyzed`. Two UPDATEs (split on the join
// condition) rather than a single CASE expression, to stay portable across
// sqlite/postgres/mysql without dialect-specific SQL.
func (r *videoRepo) ResetOrphanedEncoding(ctx context.Context) (int64, error) {
	withChosen := r.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("state = ? AND chosen_vmaf_id IS NOT NULL", models.StateEncoding).
		Update("state", models.StateCRFSearched)
	if withChosen.Error != nil {
		return 0, fmt.Errorf("resetting orphaned encoding videos (with chosen vmaf): %w", withChosen.Error)
	}

	withoutChosen := r.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("state = ? AND chosen_vmaf_id IS NULL", models.StateEncoding).
		Update("state", models.StateAnalyzed)
	if withoutChosen.Error != nil {
		return 0, fmt.Errorf("resetting orphaned encoding videos (without chosen vmaf): %w", withoutChosen.Error)
	}

	return withChosen.RowsAffected + withoutChosen.RowsAffected, nil
}

func (r *videoRepo) ResetCRFSearchedWithoutVmaf(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("state = ? AND chosen_vmaf_id IS NULL", models.StateCRFSearched).
		Update("state", models.StateAnalyzed)
	if result.Error != nil {
		return 0, fmt.Errorf("resetting crf_searched videos without vmaf: %w", result.Error)
	}
	return result.RowsAffected, nil
}
