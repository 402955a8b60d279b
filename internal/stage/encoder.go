package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/reencodarr/reencodarr/internal/eventbus"
	"github.com/reencodarr/reencodarr/internal/models"
	"github.com/reencodarr/reencodarr/internal/parser"
	"github.com/reencodarr/reencodarr/internal/postprocess"
	"github.com/reencodarr/reencodarr/internal/process"
	"github.com/reencodarr/reencodarr/internal/repository"
	"github.com/reencodarr/reencodarr/internal/rules"
)

// holderMetadata is the snapshot a Controller recovers from a Port-Holder
// after a restart: enough to resume reporting without re-deriving anything.
type holderMetadata struct {
	VideoID    uint
	Vmaf       models.Vmaf
	OutputPath string
	OSPid      int
}

// portHolder owns the OS process handle and line buffer for one encode. It
// survives a Controller crash/restart: subscribers replay buffered lines
// and receive all future lines, so reattaching loses no output.
type portHolder struct {
	mu       sync.Mutex
	runner   *process.Runner
	meta     holderMetadata
	subs     []chan process.Event
	buffered []process.Event
	done     bool
}

func newPortHolder(meta holderMetadata, runner *process.Runner) *portHolder {
	return &portHolder{runner: runner, meta: meta}
}

// subscribe replays every buffered event to a fresh channel, then forwards
// future events as they arrive.
func (h *portHolder) subscribe() <-chan process.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan process.Event, 256)
	for _, ev := range h.buffered {
		ch <- ev
	}
	if h.done {
		close(ch)
		return ch
	}
	h.subs = append(h.subs, ch)
	return ch
}

// pump drains the runner's events, buffering and fanning them out to every
// subscriber, until the runner exits.
func (h *portHolder) pump() {
	for ev := range h.runner.Events() {
		h.mu.Lock()
		h.buffered = append(h.buffered, ev)
		for _, sub := range h.subs {
			sub <- ev
		}
		if ev.Kind == process.EventExit {
			h.done = true
			for _, sub := range h.subs {
				close(sub)
			}
		}
		h.mu.Unlock()
	}
}

func (h *portHolder) getMetadata() holderMetadata {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.meta
}

func (h *portHolder) osPid() int {
	return h.runner.PID()
}

func (h *portHolder) kill() error {
	return h.runner.Stop(5 * time.Second)
}

// Encoder drives exactly one active encode at a time. Its business logic
// (the controller) is deliberately separable from the holder goroutine that
// owns the child process, so a controller crash never loses in-flight
// encoder output: a reconstructed controller re-subscribes and recovers
// state from the holder's metadata.
type Encoder struct {
	mu sync.Mutex

	videos   repository.VideoRepository
	vmafs    repository.VmafRepository
	failures repository.FailureRepository
	bus      *eventbus.Bus
	logger   *slog.Logger

	binary    string
	tempDir   string
	heartbeat time.Duration

	busy   bool
	holder *portHolder
}

// NewEncoder builds an Encoder.
func NewEncoder(videos repository.VideoRepository, vmafs repository.VmafRepository, failures repository.FailureRepository, bus *eventbus.Bus, logger *slog.Logger, binary, tempDir string, heartbeat time.Duration) *Encoder {
	return &Encoder{
		videos:    videos,
		vmafs:     vmafs,
		failures:  failures,
		bus:       bus,
		logger:    logger.With("component", "encoder"),
		binary:    binary,
		tempDir:   tempDir,
		heartbeat: heartbeat,
	}
}

// TryAcquire reports whether the encoder is free to start, claiming it if so.
func (e *Encoder) TryAcquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return false
	}
	e.busy = true
	return true
}

// Release returns the slot claimed by TryAcquire without running an encode,
// used by the producer when no eligible video was found after acquiring.
func (e *Encoder) Release() {
	e.mu.Lock()
	e.busy = false
	e.holder = nil
	e.mu.Unlock()
}

// Run encodes video using vmaf's chosen CRF. Caller must have already
// called TryAcquire. Blocks until the video reaches encoded or failed.
func (e *Encoder) Run(ctx context.Context, video *models.Video, vmaf *models.Vmaf) {
	defer e.Release()

	if err := video.MarkEncoding(); err != nil {
		e.logger.Error("cannot mark encoding", "video_id", video.ID, "error", err)
		return
	}
	if err := e.videos.Update(ctx, video); err != nil {
		e.logger.Error("failed to persist encoding", "video_id", video.ID, "error", err)
		return
	}

	outputPath := postprocess.OutputPath(e.tempDir, video.ID, video.Path)
	argv := rules.Build(video, rules.StageEncode, []string{
		"encode",
		"--input", video.Path,
		"--output", outputPath,
		"--crf", strconv.FormatFloat(vmaf.CRF, 'f', -1, 64),
	}, nil)

	runner := process.New(e.binary, argv)
	if err := runner.Start(ctx); err != nil {
		e.finalizeFailure(ctx, video, "command_error", err.Error(), outputPath)
		return
	}

	holder := newPortHolder(holderMetadata{VideoID: video.ID, Vmaf: *vmaf, OutputPath: outputPath, OSPid: runner.PID()}, runner)
	e.mu.Lock()
	e.holder = holder
	e.mu.Unlock()

	go holder.pump()

	e.bus.Publish(eventbus.Envelope{
		Topic: eventbus.TopicVideoStateTransitions, VideoID: video.ID, Result: "encoding_started",
	})

	e.stream(ctx, video, holder, outputPath, argv)
}

// stream runs the controller side of the split: consumes the holder's
// replayable event channel, emits progress, and reacts to exit.
func (e *Encoder) stream(ctx context.Context, video *models.Video, holder *portHolder, outputPath string, argv []string) {
	events := holder.subscribe()

	var lastProgress parser.Progress
	debounce := eventbus.NewDebouncer(5*time.Second, 50)
	heartbeat := time.NewTicker(e.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case process.EventLine, process.EventPartial:
				e.handleLine(video, ev.Line, &lastProgress, debounce)
			case process.EventExit:
				if ev.Err != nil || ev.Code != 0 {
					code := ev.Code
					if ev.Err != nil {
						code = -1
					}
					e.onFailure(ctx, video, code, outputPath, argv, holder)
				} else {
					e.onSuccess(ctx, video, outputPath)
				}
				return
			}
		case <-heartbeat.C:
			if lastProgress.Percent > 0 {
				e.bus.Publish(eventbus.Envelope{
					Topic: eventbus.TopicEncodingEvents, VideoID: video.ID,
					Percent: lastProgress.Percent, FPS: lastProgress.FPS, ETA: lastProgress.ETA,
				})
			}
		}
	}
}

func (e *Encoder) handleLine(video *models.Video, line string, lastProgress *parser.Progress, debounce *eventbus.Debouncer) {
	ev := parser.Parse(line)
	switch p := ev.(type) {
	case parser.Progress:
		*lastProgress = p
		if !debounce.ShouldEmit(video.ID, p.Percent) {
			return
		}
		e.bus.Publish(eventbus.Envelope{
			Topic: eventbus.TopicEncodingEvents, VideoID: video.ID,
			Percent: p.Percent, FPS: p.FPS, ETA: p.ETA,
		})
	case parser.FileProgress:
		e.bus.Publish(eventbus.Envelope{
			Topic: eventbus.TopicEncodingEvents, VideoID: video.ID,
			Percent: float64(p.Percent), ETA: -1,
		})
	case parser.Warning:
		e.logger.Warn("encoder warning", "video_id", video.ID, "message", p.Message)
	}
}

func (e *Encoder) onSuccess(ctx context.Context, video *models.Video, outputPath string) {
	if err := postprocess.Swap(e.logger, outputPath, video.Path); err != nil {
		e.finalizeFailure(ctx, video, "postprocess_error", err.Error(), outputPath)
		return
	}

	if err := video.MarkEncoded(); err != nil {
		e.logger.Error("cannot mark encoded", "video_id", video.ID, "error", err)
		return
	}
	if err := e.videos.Update(ctx, video); err != nil {
		e.logger.Error("failed to persist encoded", "video_id", video.ID, "error", err)
		return
	}

	e.bus.Publish(eventbus.Envelope{
		Topic: eventbus.TopicVideoStateTransitions, VideoID: video.ID, Result: "success", Terminal: true,
	})
}

func (e *Encoder) onFailure(ctx context.Context, video *models.Video, exitCode int, outputPath string, argv []string, holder *portHolder) {
	tail := holder.runner.RecentLines()
	postprocess.CleanupTemp(e.logger, outputPath)
	e.finalizeFailure(ctx, video, "encode_failure", fmt.Sprintf("ab-av1 encode exited %d, tail=%v, argv=%v", exitCode, tail, argv), outputPath)
}

func (e *Encoder) finalizeFailure(ctx context.Context, video *models.Video, reason, detail, outputPath string) {
	e.logger.Error("encode failed", "video_id", video.ID, "reason", reason, "detail", detail)
	postprocess.CleanupTemp(e.logger, outputPath)
	if err := video.MarkFailed(); err == nil {
		_ = e.videos.Update(ctx, video)
	}
	if e.failures != nil {
		_ = e.failures.Create(ctx, &models.FailureRecord{
			VideoID: video.ID,
			Stage:   models.StageEncode,
			Reason:  reason,
			Context: models.ContextMap{"detail": detail},
		})
	}
	e.bus.Publish(eventbus.Envelope{
		Topic: eventbus.TopicVideoStateTransitions, VideoID: video.ID, Result: "failed", Terminal: true,
	})
}

// Cancel terminates the active encode (operator reset): kills the
// Port-Holder's process group and resets the video back to crf_searched so
// it can be re-dispatched. No failure is recorded — this is operator-
// initiated, not an error.
func (e *Encoder) Cancel(ctx context.Context, video *models.Video) error {
	e.mu.Lock()
	holder := e.holder
	e.mu.Unlock()

	if holder == nil {
		return fmt.Errorf("no active encode for video %d", video.ID)
	}
	if err := holder.kill(); err != nil {
		e.logger.Warn("failed to kill encoder process group cleanly", "video_id", video.ID, "error", err)
	}

	if err := video.MarkResetCRFSearched(); err != nil {
		return err
	}
	return e.videos.Update(ctx, video)
}
