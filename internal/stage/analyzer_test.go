package stage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/reencodarr/reencodarr/internal/eventbus"
	"github.com/reencodarr/reencodarr/internal/mediainfo"
	"github.com/reencodarr/reencodarr/internal/models"
	"github.com/reencodarr/reencodarr/internal/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Video{}, &models.Vmaf{}, &models.FailureRecord{}, &models.Library{}))
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnalyzer_ApplyMetadata_TransitionsToAnalyzed(t *testing.T) {
	db := testDB(t)
	videos := repository.NewVideoRepository(db)
	failures := repository.NewFailureRepository(db)
	bus := eventbus.New(testLogger())
	ctx := context.Background()

	v := models.NewVideo("/media/a.mkv")
	require.NoError(t, videos.Create(ctx, v))

	a := NewAnalyzer(videos, failures, bus, testLogger(), "mediainfo", 2)
	a.applyMetadata(ctx, v, mediainfo.Metadata{
		Path:        "/media/a.mkv",
		Width:       1920,
		Height:      1080,
		Duration:    120,
		Bitrate:     5_000_000,
		Size:        1_000_000_000,
		VideoCodecs: []string{"H264"},
		AudioCodecs: []string{"AC-3"},
	})

	got, err := videos.GetByPath(ctx, "/media/a.mkv")
	require.NoError(t, err)
	require.Equal(t, models.StateAnalyzed, got.State)
}

func TestAnalyzer_ApplyMetadata_CodecFastPath(t *testing.T) {
	db := testDB(t)
	videos := repository.NewVideoRepository(db)
	failures := repository.NewFailureRepository(db)
	bus := eventbus.New(testLogger())
	ctx := context.Background()

	v := models.NewVideo("/media/b.mkv")
	require.NoError(t, videos.Create(ctx, v))

	a := NewAnalyzer(videos, failures, bus, testLogger(), "mediainfo", 2)
	a.applyMetadata(ctx, v, mediainfo.Metadata{
		Path:        "/media/b.mkv",
		Width:       1920,
		Height:      1080,
		Duration:    120,
		Bitrate:     5_000_000,
		Size:        1_000_000_000,
		VideoCodecs: []string{"AV1"},
		AudioCodecs: []string{"Opus"},
	})

	got, err := videos.GetByPath(ctx, "/media/b.mkv")
	require.NoError(t, err)
	require.Equal(t, models.StateEncoded, got.State)
}

func TestAnalyzer_RecordFailure_MarksFailedAndPersists(t *testing.T) {
	db := testDB(t)
	videos := repository.NewVideoRepository(db)
	failures := repository.NewFailureRepository(db)
	bus := eventbus.New(testLogger())
	ctx := context.Background()

	v := models.NewVideo("/media/c.mkv")
	require.NoError(t, videos.Create(ctx, v))

	a := NewAnalyzer(videos, failures, bus, testLogger(), "mediainfo", 2)
	a.recordFailure(ctx, v, "missing_metadata", "no entry returned")

	got, err := videos.GetByPath(ctx, "/media/c.mkv")
	require.NoError(t, err)
	require.Equal(t, models.StateFailed, got.State)

	records, err := failures.ListByVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, models.StageAnalyze, records[0].Stage)
}

func TestChunk_SplitsIntoBoundedGroups(t *testing.T) {
	videos := []*models.Video{
		models.NewVideo("/a"), models.NewVideo("/b"), models.NewVideo("/c"), models.NewVideo("/d"), models.NewVideo("/e"),
	}

	chunks := chunk(videos, 2)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 2)
	require.Len(t, chunks[2], 1)
}

func TestChunk_Empty(t *testing.T) {
	require.Nil(t, chunk(nil, 2))
}

func TestAnalyzerDispatcher_AlwaysAcquiresAndReportsBatchSize(t *testing.T) {
	db := testDB(t)
	videos := repository.NewVideoRepository(db)
	failures := repository.NewFailureRepository(db)
	bus := eventbus.New(testLogger())

	a := NewAnalyzer(videos, failures, bus, testLogger(), "mediainfo", 2)
	d := NewAnalyzerDispatcher(a, 16)

	require.True(t, d.TryAcquire())
	require.True(t, d.TryAcquire())
	require.Equal(t, 16, d.BatchSize())
	d.Release()

	d.Dispatch(context.Background(), nil)
}
