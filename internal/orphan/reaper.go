// Package orphan resets Video state left inconsistent by a crashed or
// restarted process, and kills any stray encoder/search child processes
// that survived the crash.
package orphan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/reencodarr/reencodarr/internal/repository"
	"github.com/shirou/gopsutil/v4/process"
)

// Reaper performs the startup (and periodic) orphan sweep described for
// the encoding pipeline: three store-side state resets, then a kill of any
// residual ab-av1 child processes.
type Reaper struct {
	videos repository.VideoRepository
	logger *slog.Logger

	// commandPrefixes identifies processes to kill by argv[0] basename —
	// typically just the configured ab-av1 binary name, since mediainfo
	// invocations are short-lived and never orphaned across a restart.
	commandPrefixes []string
}

// New creates a Reaper. commandPrefixes names the binaries (by basename)
// whose processes should be killed if found running after a restart.
func New(videos repository.VideoRepository, logger *slog.Logger, commandPrefixes []string) *Reaper {
	return &Reaper{videos: videos, logger: logger, commandPrefixes: commandPrefixes}
}

// Result reports how many rows each reset step touched.
type Result struct {
	ResetCRFSearching      int64
	ResetEncoding          int64
	ResetCRFSearchedNoVmaf int64
	KilledProcesses        int
}

// Run performs the full sweep: §4.9 steps 1-3 against the store, then step
// 4 (kill stray child processes). Intended to run once at startup before
// any producer starts, and again periodically via a cron schedule to catch
// crashes of individual stage workers without a full restart.
func (r *Reaper) Run(ctx context.Context) (Result, error) {
	var result Result
	var err error

	result.ResetCRFSearching, err = r.videos.ResetOrphanedCRFSearching(ctx)
	if err != nil {
		return result, fmt.Errorf("resetting orphaned crf_searching videos: %w", err)
	}
	if result.ResetCRFSearching > 0 {
		r.logger.Info("reset orphaned crf_searching videos", slog.Int64("count", result.ResetCRFSearching))
	}

	result.ResetEncoding, err = r.videos.ResetOrphanedEncoding(ctx)
	if err != nil {
		return result, fmt.Errorf("resetting orphaned encoding videos: %w", err)
	}
	if result.ResetEncoding > 0 {
		r.logger.Info("reset orphaned encoding videos", slog.Int64("count", result.ResetEncoding))
	}

	result.ResetCRFSearchedNoVmaf, err = r.videos.ResetCRFSearchedWithoutVmaf(ctx)
	if err != nil {
		return result, fmt.Errorf("resetting crf_searched videos without a chosen vmaf: %w", err)
	}
	if result.ResetCRFSearchedNoVmaf > 0 {
		r.logger.Info("reset crf_searched videos lacking a chosen vmaf", slog.Int64("count", result.ResetCRFSearchedNoVmaf))
	}

	result.KilledProcesses, err = r.killStrayProcesses(ctx)
	if err != nil {
		return result, fmt.Errorf("killing stray processes: %w", err)
	}

	return result, nil
}

// killStrayProcesses scans the OS process table for anything whose argv[0]
// matches one of r.commandPrefixes and kills it. This module doesn't retain
// OS pids across restarts (unlike a long-lived supervisor), so the only way
// to find an orphaned ab-av1 child is to walk the live process list.
func (r *Reaper) killStrayProcesses(ctx context.Context) (int, error) {
	if len(r.commandPrefixes) == 0 {
		return 0, nil
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing processes: %w", err)
	}

	killed := 0
	for _, p := range procs {
		cmdline, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(cmdline) == 0 {
			continue
		}
		if !r.matchesPrefix(cmdline[0]) {
			continue
		}

		r.logger.Warn("killing stray process from a previous run",
			slog.Int32("pid", p.Pid),
			slog.String("cmd", strings.Join(cmdline, " ")),
		)
		if err := p.KillWithContext(ctx); err != nil {
			r.logger.Error("failed to kill stray process",
				slog.Int32("pid", p.Pid),
				slog.String("error", err.Error()),
			)
			continue
		}
		killed++
	}

	return killed, nil
}

func (r *Reaper) matchesPrefix(argv0 string) bool {
	base := argv0
	if idx := strings.LastIndexByte(argv0, '/'); idx >= 0 {
		base = argv0[idx+1:]
	}
	for _, prefix := range r.commandPrefixes {
		if base == prefix {
			return true
		}
	}
	return false
}
