// Package repository implements persistence for the encoding pipeline core
// on top of GORM, with driver-aware atomic claim semantics for the queue
// queries producers poll.
package repository

import (
	"context"
	"time"

	"github.com/reencodarr/reencodarr/internal/models"
)

// DashboardStats aggregates counts and sizes across all videos, for
// get_dashboard_stats.
type DashboardStats struct {
	CountByState map[models.State]int64
	TotalSize    int64
	VmafCount    int64
	TotalSavings int64
}

// VideoRepository persists Video records and exposes the stage queue
// queries described in the external interfaces.
type VideoRepository interface {
	Create(ctx context.Context, video *models.Video) error
	GetByID(ctx context.Context, id uint) (*models.Video, error)
	GetByPath(ctx context.Context, path string) (*models.Video, error)
	Update(ctx context.Context, video *models.Video) error

	// VideosNeedingAnalysis returns up to limit Videos in needs_analysis.
	VideosNeedingAnalysis(ctx context.Context, limit int) ([]*models.Video, error)

	// VideosForCRFSearch returns up to limit Videos in analyzed state that
	// are not fast-pathed and pass the caller-supplied exclude predicate
	// (glob evaluation is out of scope here — see §1 Non-goals).
	VideosForCRFSearch(ctx context.Context, limit int, exclude func(path string) bool) ([]*models.Video, error)

	// VideosForEncoding returns up to limit Videos in crf_searched state
	// with a chosen Vmaf.
	VideosForEncoding(ctx context.Context, limit int) ([]*models.Video, error)

	// ChosenVmafExists reports whether videoID has a Vmaf with chosen=true.
	ChosenVmafExists(ctx context.Context, videoID uint) (bool, error)

	// DashboardStats aggregates counts/sizes across all videos.
	DashboardStats(ctx context.Context) (*DashboardStats, error)

	// ResetOrphanedCRFSearching resets every crf_searching Video to
	// analyzed, returning the count affected.
	ResetOrphanedCRFSearching(ctx context.Context) (int64, error)

	// ResetOrphanedEncoding resets every encoding Video to crf_searched (if
	// a chosen Vmaf exists) or analyzed, returning the count affected.
	ResetOrphanedEncoding(ctx context.Context) (int64, error)

	// ResetCRFSearchedWithoutVmaf resets every crf_searched Video lacking a
	// chosen Vmaf to analyzed, returning the count affected.
	ResetCRFSearchedWithoutVmaf(ctx context.Context) (int64, error)
}

// VmafRepository persists Vmaf trial rows.
type VmafRepository interface {
	Upsert(ctx context.Context, vmaf *models.Vmaf) error
	GetByVideoAndCRF(ctx context.Context, videoID uint, crf float64) (*models.Vmaf, error)
	ListByVideo(ctx context.Context, videoID uint) ([]*models.Vmaf, error)
	GetChosen(ctx context.Context, videoID uint) (*models.Vmaf, error)

	// MarkChosen clears any existing chosen=true row for videoID and sets
	// the row at id chosen=true, atomically.
	MarkChosen(ctx context.Context, videoID, id uint) error
}

// FailureRepository records append-only failures.
type FailureRepository interface {
	Create(ctx context.Context, failure *models.FailureRecord) error
	ListByVideo(ctx context.Context, videoID uint) ([]*models.FailureRecord, error)
}

// LibraryRepository persists path<->id bookkeeping for discovery roots.
type LibraryRepository interface {
	Create(ctx context.Context, library *models.Library) error
	GetByPath(ctx context.Context, path string) (*models.Library, error)
	List(ctx context.Context) ([]*models.Library, error)
}

// Clock is the injectable current-time source, so tests can control
// CreatedAt/UpdatedAt-sensitive ordering without sleeping.
type Clock func() time.Time
