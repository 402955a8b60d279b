package orphan

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/reencodarr/reencodarr/internal/models"
	"github.com/reencodarr/reencodarr/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupReaperTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Video{}, &models.Vmaf{}, &models.FailureRecord{}, &models.Library{}))
	return db
}

func TestReaper_Run_ResetsOrphanedStates(t *testing.T) {
	db := setupReaperTestDB(t)
	videoRepo := repository.NewVideoRepository(db)
	ctx := context.Background()

	stuck := models.NewVideo("/a.mkv")
	stuck.State = models.StateCRFSearching
	require.NoError(t, videoRepo.Create(ctx, stuck))

	encodingNoVmaf := models.NewVideo("/b.mkv")
	encodingNoVmaf.State = models.StateEncoding
	require.NoError(t, videoRepo.Create(ctx, encodingNoVmaf))

	reaper := New(videoRepo, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	result, err := reaper.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.ResetCRFSearching)
	assert.Equal(t, int64(1), result.ResetEncoding)
	assert.Equal(t, 0, result.KilledProcesses)

	got, err := videoRepo.GetByID(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAnalyzed, got.State)

	got, err = videoRepo.GetByID(ctx, encodingNoVmaf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateAnalyzed, got.State)
}

func TestReaper_MatchesPrefix(t *testing.T) {
	r := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), []string{"ab-av1"})

	assert.True(t, r.matchesPrefix("ab-av1"))
	assert.True(t, r.matchesPrefix("/usr/local/bin/ab-av1"))
	assert.False(t, r.matchesPrefix("ffmpeg"))
}

func TestReaper_NoPrefixesSkipsProcessScan(t *testing.T) {
	db := setupReaperTestDB(t)
	videoRepo := repository.NewVideoRepository(db)
	ctx := context.Background()

	reaper := New(videoRepo, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	result, err := reaper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.KilledProcesses)
}
