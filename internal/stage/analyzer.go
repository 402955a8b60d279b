// Package stage implements the three pipeline workers (analyzer, CRF-search,
// encoder) that consume batches dispatched by producers and drive Videos
// through their state machine.
package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/reencodarr/reencodarr/internal/eventbus"
	"github.com/reencodarr/reencodarr/internal/mediainfo"
	"github.com/reencodarr/reencodarr/internal/models"
	"github.com/reencodarr/reencodarr/internal/process"
	"github.com/reencodarr/reencodarr/internal/repository"
)

// Analyzer probes technical metadata for videos in needs_analysis state, in
// batches, via a single mediainfo invocation per chunk.
type Analyzer struct {
	videos   repository.VideoRepository
	failures repository.FailureRepository
	bus      *eventbus.Bus
	logger   *slog.Logger
	binary   string
	chunkSz  int
	sem      *semaphore.Weighted
}

// NewAnalyzer builds an Analyzer. chunkConcurrency bounds how many mediainfo
// invocations may run in parallel across chunks of one batch.
func NewAnalyzer(videos repository.VideoRepository, failures repository.FailureRepository, bus *eventbus.Bus, logger *slog.Logger, mediainfoBinary string, chunkConcurrency int) *Analyzer {
	if chunkConcurrency < 1 {
		chunkConcurrency = 1
	}
	return &Analyzer{
		videos:   videos,
		failures: failures,
		bus:      bus,
		logger:   logger.With("component", "analyzer"),
		binary:   mediainfoBinary,
		chunkSz:  4,
		sem:      semaphore.NewWeighted(int64(chunkConcurrency)),
	}
}

// ProcessBatch probes every video in batch and individually records success
// or failure; a failure for one video never aborts the rest of the batch.
func (a *Analyzer) ProcessBatch(ctx context.Context, batch []*models.Video) error {
	if len(batch) == 0 {
		return nil
	}

	chunks := chunk(batch, a.chunkSz)
	errCh := make(chan error, len(chunks))

	for _, c := range chunks {
		c := c
		if err := a.sem.Acquire(ctx, 1); err != nil {
			errCh <- err
			continue
		}
		go func() {
			defer a.sem.Release(1)
			errCh <- a.processChunk(ctx, c)
		}()
	}

	var firstErr error
	for range chunks {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Analyzer) processChunk(ctx context.Context, videos []*models.Video) error {
	paths := make([]string, len(videos))
	byPath := make(map[string]*models.Video, len(videos))
	for i, v := range videos {
		paths[i] = v.Path
		byPath[v.Path] = v
	}

	args := append([]string{"--Output=JSON", "--LogFile=/dev/null", "--Full"}, paths...)
	runner := process.New(a.binary, args)
	if err := runner.Start(ctx); err != nil {
		a.logger.Error("failed to start mediainfo", "error", err, "paths", paths)
		for _, v := range videos {
			a.recordFailure(ctx, v, "command_error", err.Error())
		}
		return err
	}

	var out strings.Builder
	for ev := range runner.Events() {
		switch ev.Kind {
		case process.EventLine, process.EventPartial:
			out.WriteString(ev.Line)
			out.WriteString("\n")
		case process.EventExit:
			if ev.Err != nil {
				for _, v := range videos {
					a.recordFailure(ctx, v, "command_error", ev.Err.Error())
				}
				return ev.Err
			}
			if ev.Code != 0 {
				for _, v := range videos {
					a.recordFailure(ctx, v, "command_error", fmt.Sprintf("mediainfo exited %d", ev.Code))
				}
				return fmt.Errorf("mediainfo exited %d", ev.Code)
			}
		}
	}

	responses, err := mediainfo.ParseBatch([]byte(out.String()))
	if err != nil {
		for _, v := range videos {
			a.recordFailure(ctx, v, "parse_error", err.Error())
		}
		return err
	}

	seen := make(map[string]bool, len(responses))
	for _, resp := range responses {
		meta, err := mediainfo.Extract(resp)
		if err != nil {
			a.logger.Warn("skipping unparseable mediainfo response", "error", err)
			continue
		}
		v, ok := byPath[meta.Path]
		if !ok {
			continue
		}
		seen[meta.Path] = true
		a.applyMetadata(ctx, v, meta)
	}

	for _, v := range videos {
		if !seen[v.Path] {
			a.recordFailure(ctx, v, "process_error", "mediainfo returned no entry for this path")
		}
	}
	return nil
}

func (a *Analyzer) applyMetadata(ctx context.Context, v *models.Video, meta mediainfo.Metadata) {
	v.Size = &meta.Size
	if meta.Title != "" {
		v.Title = &meta.Title
	}
	if meta.HDR != "" {
		v.HDR = &meta.HDR
	}
	v.Atmos = meta.Atmos
	v.AudioCodecs = meta.AudioCodecs
	if meta.MaxAudioChannels > 0 {
		ch := meta.MaxAudioChannels
		v.MaxAudioChannels = &ch
	}
	if meta.FrameRate > 0 {
		fr := meta.FrameRate
		v.FrameRate = &fr
	}

	if err := v.MarkAnalyzed(meta.Width, meta.Height, int(meta.Bitrate), meta.VideoCodecs, meta.Duration); err != nil {
		a.recordFailure(ctx, v, "invalid_transition", err.Error())
		return
	}

	if v.IsCodecFastPath() {
		if err := v.MarkReencoded(); err != nil {
			a.recordFailure(ctx, v, "invalid_transition", err.Error())
			return
		}
	}

	if err := a.videos.Update(ctx, v); err != nil {
		a.logger.Error("failed to persist analyzed video", "video_id", v.ID, "error", err)
		return
	}

	a.bus.Publish(eventbus.Envelope{
		Topic:    eventbus.TopicVideoStateTransitions,
		VideoID:  v.ID,
		Filename: v.Path,
		Result:   string(v.State),
		Terminal: true,
	})
}

func (a *Analyzer) recordFailure(ctx context.Context, v *models.Video, reason, detail string) {
	a.logger.Warn("analyze failure", "video_id", v.ID, "path", v.Path, "reason", reason, "detail", detail)
	if err := v.MarkFailed(); err == nil {
		_ = a.videos.Update(ctx, v)
	}
	if a.failures != nil {
		_ = a.failures.Create(ctx, &models.FailureRecord{
			VideoID: v.ID,
			Stage:   models.StageAnalyze,
			Reason:  reason,
			Context: models.ContextMap{"detail": detail, "path": v.Path},
		})
	}
	a.bus.Publish(eventbus.Envelope{
		Topic:    eventbus.TopicMediaEvents,
		VideoID:  v.ID,
		Filename: v.Path,
		Result:   reason,
		Terminal: true,
	})
}

// AnalyzerDispatcher adapts an Analyzer to the producer.Dispatcher interface.
// Unlike CRFSearcher and Encoder, the analyzer has no single-slot claim of
// its own — its concurrency is bounded internally by the chunk semaphore —
// so TryAcquire always succeeds and Release is a no-op; the producer's
// mutual-exclusion gate simply never blocks this stage.
type AnalyzerDispatcher struct {
	analyzer  *Analyzer
	batchSize atomic.Int64
}

// NewAnalyzerDispatcher wraps analyzer for use by a producer, pulling up to
// batchSize videos per dispatch.
func NewAnalyzerDispatcher(analyzer *Analyzer, batchSize int) *AnalyzerDispatcher {
	if batchSize < 1 {
		batchSize = 1
	}
	d := &AnalyzerDispatcher{analyzer: analyzer}
	d.batchSize.Store(int64(batchSize))
	return d
}

// TryAcquire always succeeds: the analyzer has no exclusive slot.
func (d *AnalyzerDispatcher) TryAcquire() bool { return true }

// Release is a no-op: there is no slot to return.
func (d *AnalyzerDispatcher) Release() {}

// BatchSize is the number of videos pulled into one analyzer batch.
func (d *AnalyzerDispatcher) BatchSize() int { return int(d.batchSize.Load()) }

// SetBatchSize updates the batch size, e.g. in response to the auto-tuning
// monitor reclassifying the storage tier.
func (d *AnalyzerDispatcher) SetBatchSize(size int) {
	if size < 1 {
		size = 1
	}
	d.batchSize.Store(int64(size))
}

// Dispatch runs the batch to completion; errors are already logged and
// recorded per-video inside ProcessBatch.
func (d *AnalyzerDispatcher) Dispatch(ctx context.Context, batch []*models.Video) {
	_ = d.analyzer.ProcessBatch(ctx, batch)
}

func chunk(videos []*models.Video, size int) [][]*models.Video {
	if size < 1 {
		size = len(videos)
	}
	var chunks [][]*models.Video
	for i := 0; i < len(videos); i += size {
		end := i + size
		if end > len(videos) {
			end = len(videos)
		}
		chunks = append(chunks, videos[i:end])
	}
	return chunks
}
