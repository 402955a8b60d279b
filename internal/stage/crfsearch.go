package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/reencodarr/reencodarr/internal/crfmath"
	"github.com/reencodarr/reencodarr/internal/eventbus"
	"github.com/reencodarr/reencodarr/internal/models"
	"github.com/reencodarr/reencodarr/internal/parser"
	"github.com/reencodarr/reencodarr/internal/process"
	"github.com/reencodarr/reencodarr/internal/repository"
	"github.com/reencodarr/reencodarr/internal/rules"
	"github.com/reencodarr/reencodarr/pkg/bytesize"
)

const sizeLimitBytes = 10 * 1024 * 1024 * 1024 // 10 GiB

// CRFSearcher owns exactly one in-flight `ab-av1 crf-search` invocation at a
// time, consuming its output line by line and driving the retry cascade on
// non-zero exit.
type CRFSearcher struct {
	mu sync.Mutex

	videos   repository.VideoRepository
	vmafs    repository.VmafRepository
	failures repository.FailureRepository
	bus      *eventbus.Bus
	logger   *slog.Logger

	binary  string
	tempDir string
	crfMin  int
	crfMax  int
	floor   int
	busy    bool
}

// NewCRFSearcher builds a CRFSearcher.
func NewCRFSearcher(videos repository.VideoRepository, vmafs repository.VmafRepository, failures repository.FailureRepository, bus *eventbus.Bus, logger *slog.Logger, binary, tempDir string, crfMin, crfMax, floor int) *CRFSearcher {
	return &CRFSearcher{
		videos:   videos,
		vmafs:    vmafs,
		failures: failures,
		bus:      bus,
		logger:   logger.With("component", "crf_search"),
		binary:   binary,
		tempDir:  tempDir,
		crfMin:   crfMin,
		crfMax:   crfMax,
		floor:    floor,
	}
}

// TryAcquire reports whether the searcher is free to start a new search,
// claiming it if so. Additional start requests while busy must be rejected
// by the caller (a skipped-event, not a failure).
func (s *CRFSearcher) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

// Release returns the slot claimed by TryAcquire without running a search,
// used by the producer when no eligible video was found after acquiring.
func (s *CRFSearcher) Release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Run executes the full search (including the retry cascade) for video and
// blocks until the video reaches crf_searched or failed. Caller must have
// already called TryAcquire.
func (s *CRFSearcher) Run(ctx context.Context, video *models.Video, target int) {
	defer s.Release()

	if err := video.MarkCRFSearching(); err != nil {
		s.logger.Error("cannot mark crf_searching", "video_id", video.ID, "error", err)
		return
	}
	if err := s.videos.Update(ctx, video); err != nil {
		s.logger.Error("failed to persist crf_searching", "video_id", video.ID, "error", err)
		return
	}
	s.bus.Publish(eventbus.Envelope{Topic: eventbus.TopicVideoStateTransitions, VideoID: video.ID, Result: "crf_search_started"})

	s.attempt(ctx, video, target, s.crfMin, s.crfMax)
}

// attempt runs one ab-av1 crf-search invocation and, on non-zero exit,
// evaluates the retry cascade (§4.6) before recursing or finalizing.
func (s *CRFSearcher) attempt(ctx context.Context, video *models.Video, target, crfMin, crfMax int) {
	argv := rules.Build(video, rules.StageCRFSearch, []string{
		"crf-search",
		"--input", video.Path,
		"--min-vmaf", strconv.Itoa(target),
		"--min-crf", strconv.Itoa(crfMin),
		"--max-crf", strconv.Itoa(crfMax),
		"--temp-dir", s.tempDir,
	}, nil)

	params := searchParams(argv)

	runner := process.New(s.binary, argv)
	if err := runner.Start(ctx); err != nil {
		s.finalizeFailure(ctx, video, "command_error", err.Error(), -1, argv, nil, nil)
		return
	}

	var (
		chosenRecorded bool
		sawFatalNoCRF  bool
		candidates     []models.Vmaf
		sizeExceeded   bool
	)

	for ev := range runner.Events() {
		switch ev.Kind {
		case process.EventLine, process.EventPartial:
			if sizeExceeded {
				continue
			}
			if s.handleLine(ctx, video, ev.Line, target, params, &chosenRecorded, &sawFatalNoCRF, &candidates) {
				sizeExceeded = true
			}
		case process.EventExit:
			if sizeExceeded {
				return
			}
			if ev.Err != nil || ev.Code != 0 {
				s.onNonZeroExit(ctx, video, target, crfMin, crfMax, sawFatalNoCRF, ev.Code, argv, runner.RecentLines(), candidates)
				return
			}
			s.onSuccess(ctx, video, target, chosenRecorded, candidates)
			return
		}
	}
}

// searchParams strips the crf-search subcommand and the --min-vmaf flag
// (which varies per retry target) from argv, leaving the shared argument
// vector recorded on each trial per §3.
func searchParams(argv []string) []string {
	out := make([]string, 0, len(argv))
	for i := 0; i < len(argv); i++ {
		switch argv[i] {
		case "crf-search":
			continue
		case "--min-vmaf":
			i++ // also skip its value
			continue
		}
		out = append(out, argv[i])
	}
	return out
}

// handleLine dispatches one parsed output line and returns true if the
// video was just transitioned to failed (size limit exceeded), signaling
// the caller to stop processing further lines from this run.
func (s *CRFSearcher) handleLine(ctx context.Context, video *models.Video, line string, target int, params []string, chosenRecorded, sawFatalNoCRF *bool, candidates *[]models.Vmaf) bool {
	ev := parser.Parse(line)
	switch e := ev.(type) {
	case parser.SampleVmaf:
		s.upsertVmaf(ctx, video, target, e.CRF, e.Score, e.Percent, params, false, nil, nil)
		*candidates = append(*candidates, models.Vmaf{CRF: e.CRF, Score: e.Score, Percent: e.Percent})
	case parser.CandidateVmaf:
		s.upsertVmaf(ctx, video, target, e.CRF, e.Score, e.Percent, params, false, nil, nil)
		*candidates = append(*candidates, models.Vmaf{CRF: e.CRF, Score: e.Score, Percent: e.Percent})
	case parser.PredictedSize:
		bytes := predictedSizeBytes(e)
		if bytes > sizeLimitBytes {
			s.logger.Warn("predicted size exceeds limit", "video_id", video.ID, "bytes", bytes)
		}
		timeTaken := e.TimeTaken
		s.upsertVmaf(ctx, video, target, e.CRF, e.Score, e.Percent, params, true, &bytes, &timeTaken)
	case parser.Success:
		vmaf, err := s.vmafs.GetByVideoAndCRF(ctx, video.ID, e.CRF)
		if err == nil && vmaf != nil {
			_ = s.vmafs.MarkChosen(ctx, video.ID, vmaf.ID)
			*chosenRecorded = true
			if vmaf.PredictedSize != nil && *vmaf.PredictedSize > sizeLimitBytes {
				s.finalizeFailure(ctx, video, "size_limit_exceeded", fmt.Sprintf("predicted size %d exceeds limit", *vmaf.PredictedSize), 0, nil, nil, nil)
				return true
			}
		}
	case parser.FatalError:
		if e.Message == "Error: Failed to find a suitable crf" {
			*sawFatalNoCRF = true
		}
	case parser.Warning:
		s.logger.Warn("crf-search warning", "video_id", video.ID, "message", e.Message)
	}
	return false
}

// predictedSizeBytes converts a PredictedSize event's value+unit pair into
// a byte count via the shared byte-size parser.
func predictedSizeBytes(e parser.PredictedSize) int64 {
	size, err := bytesize.Parse(fmt.Sprintf("%g%s", e.PredictedSize, e.SizeUnit))
	if err != nil {
		return 0
	}
	return size.Bytes()
}

func (s *CRFSearcher) upsertVmaf(ctx context.Context, video *models.Video, target int, crf, score float64, percent int, params []string, chosen bool, predictedSize *int64, predictedTime *float64) {
	vmaf := &models.Vmaf{
		VideoID:       video.ID,
		CRF:           crf,
		Score:         score,
		Target:        target,
		Percent:       percent,
		Params:        models.StringList(params),
		Chosen:        chosen,
		PredictedSize: predictedSize,
		PredictedTime: predictedTime,
	}
	if predictedSize != nil {
		vmaf.Savings = savingsFor(video, percent)
	}
	if err := s.vmafs.Upsert(ctx, vmaf); err != nil {
		s.logger.Error("failed to upsert vmaf", "video_id", video.ID, "crf", crf, "error", err)
	}
}

// savingsFor implements §3's savings invariant: how many bytes choosing a
// trial at percent would save relative to the source, clamped at zero so a
// predicted-larger-than-source trial never reports negative savings. Returns
// nil when the source size isn't known.
func savingsFor(video *models.Video, percent int) *int64 {
	if video.Size == nil {
		return nil
	}
	savings := int64(float64(*video.Size) * float64(100-percent) / 100)
	if savings < 0 {
		savings = 0
	}
	return &savings
}

func (s *CRFSearcher) onSuccess(ctx context.Context, video *models.Video, target int, chosenRecorded bool, candidates []models.Vmaf) {
	if !chosenRecorded {
		best := crfmath.SelectBestVmaf(candidates, float64(target))
		if best == nil {
			s.finalizeFailure(ctx, video, "vmaf_calculation_failure", "search exited successfully with no recorded candidates", 0, nil, nil, candidates)
			return
		}
		stored, err := s.vmafs.GetByVideoAndCRF(ctx, video.ID, best.CRF)
		if err != nil || stored == nil {
			s.finalizeFailure(ctx, video, "vmaf_calculation_failure", "could not locate auto-selected candidate", 0, nil, nil, candidates)
			return
		}
		if err := s.vmafs.MarkChosen(ctx, video.ID, stored.ID); err != nil {
			s.finalizeFailure(ctx, video, "database_error", err.Error(), 0, nil, nil, candidates)
			return
		}
	}

	chosen, err := s.vmafs.GetChosen(ctx, video.ID)
	if err != nil || chosen == nil {
		s.finalizeFailure(ctx, video, "vmaf_calculation_failure", "no chosen vmaf after search completed", 0, nil, nil, candidates)
		return
	}

	if err := video.MarkCRFSearched(chosen.ID); err != nil {
		s.logger.Error("cannot mark crf_searched", "video_id", video.ID, "error", err)
		return
	}
	if err := s.videos.Update(ctx, video); err != nil {
		s.logger.Error("failed to persist crf_searched", "video_id", video.ID, "error", err)
		return
	}
	s.bus.Publish(eventbus.Envelope{Topic: eventbus.TopicVideoStateTransitions, VideoID: video.ID, Result: "crf_search_completed", Terminal: true})
}

// onNonZeroExit evaluates the retry cascade: a narrowed range is retried
// once at the full standard range; otherwise, an explicit "failed to find a
// suitable crf" line with room left above the floor retries at a lower
// target; otherwise the search is finalized as failed.
func (s *CRFSearcher) onNonZeroExit(ctx context.Context, video *models.Video, target, crfMin, crfMax int, sawFatalNoCRF bool, exitCode int, argv []string, tail []string, candidates []models.Vmaf) {
	if crfmath.IsNarrowedRange(crfMin, crfMax) {
		s.attempt(ctx, video, target, crfmath.StandardMin, crfmath.StandardMax)
		return
	}

	if sawFatalNoCRF && crfmath.CanLowerTarget(target, s.floor) {
		s.attempt(ctx, video, crfmath.NextTarget(target), crfMin, crfMax)
		return
	}

	reason := "vmaf_calculation_failure"
	if sawFatalNoCRF {
		reason = "crf_optimization_failure"
	}
	s.finalizeFailure(ctx, video, reason, fmt.Sprintf("ab-av1 crf-search exited %d", exitCode), exitCode, argv, tail, candidates)
}

// testedPairs renders the tested (crf, score) candidates for a failure
// record's context, per §7's "list of tested (crf, score) pairs" requirement.
func testedPairs(candidates []models.Vmaf) string {
	pairs := make([]string, len(candidates))
	for i, c := range candidates {
		pairs[i] = fmt.Sprintf("(%.2f, %.2f)", c.CRF, c.Score)
	}
	return fmt.Sprint(pairs)
}

func (s *CRFSearcher) finalizeFailure(ctx context.Context, video *models.Video, reason, detail string, exitCode int, argv, tail []string, candidates []models.Vmaf) {
	s.logger.Error("crf search failed", "video_id", video.ID, "reason", reason, "detail", detail)
	if err := video.MarkFailed(); err == nil {
		_ = s.videos.Update(ctx, video)
	}
	if s.failures != nil {
		_ = s.failures.Create(ctx, &models.FailureRecord{
			VideoID: video.ID,
			Stage:   models.StageCRFSearch,
			Reason:  reason,
			Context: models.ContextMap{
				"detail":       detail,
				"exit_code":    strconv.Itoa(exitCode),
				"command":      fmt.Sprint(argv),
				"tail":         fmt.Sprint(tail),
				"tested_pairs": testedPairs(candidates),
			},
		})
	}
	s.bus.Publish(eventbus.Envelope{Topic: eventbus.TopicVideoStateTransitions, VideoID: video.ID, Result: "failed", Terminal: true})
}
