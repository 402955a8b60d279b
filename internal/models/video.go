package models

import "fmt"

// State is the Video lifecycle tag. The zero value is intentionally invalid
// (""), forcing every Video to be created through NewVideo.
type State string

const (
	StateNeedsAnalysis State = "needs_analysis"
	StateAnalyzed      State = "analyzed"
	StateCRFSearching  State = "crf_searching"
	StateCRFSearched   State = "crf_searched"
	StateEncoding      State = "encoding"
	StateEncoded       State = "encoded"
	StateFailed        State = "failed"
)

// Video is the persistent record of a discovered file moving through the
// encoding pipeline. Mutated only through the Mark* methods below, which
// enforce §4.4's transition table; fields are never written directly by
// callers outside this package and internal/repository.
type Video struct {
	BaseModel

	Path string `gorm:"uniqueIndex;not null" json:"path"`

	ServiceID   *string `json:"service_id,omitempty"`
	ServiceType *string `json:"service_type,omitempty"`

	Width            *int     `json:"width,omitempty"`
	Height           *int     `json:"height,omitempty"`
	Bitrate          *int     `json:"bitrate,omitempty"`
	MaxAudioChannels *int     `json:"max_audio_channels,omitempty"`
	Duration         *float64 `json:"duration,omitempty"`
	FrameRate        *float64 `json:"frame_rate,omitempty"`

	VideoCodecs StringList `gorm:"type:text" json:"video_codecs"`
	AudioCodecs StringList `gorm:"type:text" json:"audio_codecs"`

	Size  *int64  `json:"size,omitempty"`
	Title *string `json:"title,omitempty"`
	HDR   *string `json:"hdr,omitempty"`
	Atmos bool    `json:"atmos"`

	State State `gorm:"index;not null;default:needs_analysis" json:"state"`

	ChosenVmafID *uint `gorm:"index" json:"chosen_vmaf_id,omitempty"`
}

// NewVideo constructs a Video ready for ingest (state = needs_analysis).
func NewVideo(path string) *Video {
	return &Video{Path: path, State: StateNeedsAnalysis}
}

// IsCodecFastPath reports whether the video's codecs bypass CRF search and
// encoding entirely per §3: AV1 video or Opus audio is already optimal.
func (v *Video) IsCodecFastPath() bool {
	return v.VideoCodecs.Contains("AV1") || v.AudioCodecs.Contains("Opus")
}

// MarkAnalyzed applies the analyzer's metadata upsert and transitions the
// Video to `analyzed`, from either `needs_analysis` or `analyzed` itself
// (re-analysis). Reverting crf_searching/encoding -> analyzed is
// MarkResetToAnalyzed, which skips the metadata validation since no new
// metadata is being applied.
func (v *Video) MarkAnalyzed(width, height, bitrate int, videoCodecs []string, duration float64) error {
	if v.State != StateNeedsAnalysis && v.State != StateAnalyzed {
		return fmt.Errorf("%w: mark_as_analyzed from %s", ErrInvalidTransition, v.State)
	}
	if bitrate <= 0 || width <= 0 || height <= 0 || len(videoCodecs) == 0 {
		return fmt.Errorf("%w: mark_as_analyzed precondition not met", ErrInvalidTransition)
	}
	if duration != 0 && duration <= 0 {
		return fmt.Errorf("%w: mark_as_analyzed precondition not met (duration)", ErrInvalidTransition)
	}
	v.Width, v.Height, v.Bitrate = &width, &height, &bitrate
	v.VideoCodecs = videoCodecs
	if duration > 0 {
		v.Duration = &duration
	}
	v.State = StateAnalyzed
	return nil
}

// MarkResetToAnalyzed reverts a Video to `analyzed` from `crf_searching` or
// `encoding`. No metadata precondition applies — the Video was already
// analyzed once. The orphan reaper does not call it; it resets rows in bulk
// through the repository's ResetOrphaned* queries.
func (v *Video) MarkResetToAnalyzed() error {
	if v.State != StateCRFSearching && v.State != StateEncoding {
		return fmt.Errorf("%w: reset-to-analyzed from %s", ErrInvalidTransition, v.State)
	}
	v.State = StateAnalyzed
	return nil
}

// MarkReencoded applies the codec fast-path: any state may transition
// directly to `encoded` when the video's codecs already qualify.
func (v *Video) MarkReencoded() error {
	if !v.IsCodecFastPath() {
		return fmt.Errorf("%w: mark_as_reencoded without AV1/Opus", ErrInvalidTransition)
	}
	v.State = StateEncoded
	return nil
}

// MarkCRFSearching transitions `analyzed` -> `crf_searching`. The
// precondition ("stage worker successfully spawned") is enforced by the
// caller only invoking this after the process runner opened successfully.
func (v *Video) MarkCRFSearching() error {
	if v.State != StateAnalyzed {
		return fmt.Errorf("%w: mark_as_crf_searching from %s", ErrInvalidTransition, v.State)
	}
	v.State = StateCRFSearching
	return nil
}

// MarkCRFSearched transitions `crf_searching` -> `crf_searched`. The caller
// must have already verified a chosen Vmaf exists (repository-level check,
// since that requires a query this in-memory method cannot perform).
func (v *Video) MarkCRFSearched(chosenVmafID uint) error {
	if v.State != StateCRFSearching {
		return fmt.Errorf("%w: mark_as_crf_searched from %s", ErrInvalidTransition, v.State)
	}
	v.ChosenVmafID = &chosenVmafID
	v.State = StateCRFSearched
	return nil
}

// MarkResetCRFSearched reverts `encoding` -> `crf_searched`, used by
// operator-triggered encoder cancellation (§5 "reset command"). The orphan
// reaper resets rows in bulk through the repository instead.
func (v *Video) MarkResetCRFSearched() error {
	if v.State != StateEncoding {
		return fmt.Errorf("%w: reset-to-crf_searched from %s", ErrInvalidTransition, v.State)
	}
	if v.ChosenVmafID == nil {
		return fmt.Errorf("%w: reset-to-crf_searched without chosen vmaf", ErrInvalidTransition)
	}
	v.State = StateCRFSearched
	return nil
}

// MarkEncoding transitions `crf_searched` -> `encoding`.
func (v *Video) MarkEncoding() error {
	if v.State != StateCRFSearched {
		return fmt.Errorf("%w: mark_as_encoding from %s", ErrInvalidTransition, v.State)
	}
	if v.ChosenVmafID == nil {
		return fmt.Errorf("%w: mark_as_encoding without chosen vmaf", ErrInvalidTransition)
	}
	v.State = StateEncoding
	return nil
}

// MarkEncoded transitions `encoding` -> `encoded` after the post-processor
// swap has succeeded.
func (v *Video) MarkEncoded() error {
	if v.State != StateEncoding {
		return fmt.Errorf("%w: mark_as_encoded from %s", ErrInvalidTransition, v.State)
	}
	v.State = StateEncoded
	return nil
}

// MarkFailed transitions any non-terminal state to `failed`. No precondition
// beyond not already being `encoded` — a finished artifact is never
// retroactively marked failed.
func (v *Video) MarkFailed() error {
	if v.State == StateEncoded {
		return fmt.Errorf("%w: mark_as_failed from encoded", ErrInvalidTransition)
	}
	v.State = StateFailed
	return nil
}
