// Package rules composes the argument vector passed to ab-av1 for a given
// Video and pipeline stage: audio-codec selection, HDR pass-through markers,
// grain model, and Atmos preservation, merged with caller-supplied base
// flags and operator overrides.
package rules

import (
	"fmt"
	"strings"

	"github.com/reencodarr/reencodarr/internal/models"
)

// Stage identifies which ab-av1 invocation the argv is being built for.
type Stage string

const (
	StageCRFSearch Stage = "crf_search"
	StageEncode    Stage = "encode"
)

// av1CompatibleAudioCodecs preserves the source audio track via stream copy
// instead of re-encoding to Opus.
var av1CompatibleAudioCodecs = map[string]bool{
	"Opus": true,
	"AAC":  true,
}

// opusBitrateByChannels maps a channel count to a reasonable Opus bitrate
// when the source audio must be re-encoded.
var opusBitrateByChannels = map[int]string{
	1: "96k",
	2: "128k",
	6: "256k",
	8: "450k",
}

// Build composes the full argv for stage from base (the stage subcommand
// and fixed flags the caller already assembled), the rules derived from
// video, and operator overrides. Flags are merged by name: later sources
// win over earlier ones, in the order base < rules < overrides.
func Build(video *models.Video, stage Stage, base []string, overrides []string) []string {
	rules := deriveRules(video, stage)
	return mergeFlags(base, rules, overrides)
}

// deriveRules computes the rule-derived flags for video and stage: audio
// codec selection, HDR pass-through, grain model, and Atmos preservation.
func deriveRules(video *models.Video, stage Stage) []string {
	var flags []string

	flags = append(flags, audioCodecFlags(video, stage)...)

	if video.HDR != nil && *video.HDR != "" {
		flags = append(flags, "--hdr", *video.HDR)
	}

	// Grain model defaults to none; no flag is injected unless a future
	// rule computes a non-default grain setting.

	return flags
}

// audioCodecFlags decides whether to preserve or re-encode the audio track.
// Atmos content is always preserved via stream copy since Opus re-encoding
// would discard the object-audio metadata. For crf_search, bitrate and
// channel flags are suppressed: the search measures video quality only.
func audioCodecFlags(video *models.Video, stage Stage) []string {
	if video.Atmos || hasCompatibleAudio(video.AudioCodecs) {
		return []string{"--acodec", "copy"}
	}

	flags := []string{"--acodec", "libopus"}
	if stage == StageEncode {
		channels := 2
		if video.MaxAudioChannels != nil {
			channels = *video.MaxAudioChannels
		}
		flags = append(flags, "--audio-bitrate", opusBitrate(channels))
	}
	return flags
}

func hasCompatibleAudio(codecs models.StringList) bool {
	for _, c := range codecs {
		if av1CompatibleAudioCodecs[c] {
			return true
		}
	}
	return false
}

func opusBitrate(channels int) string {
	if b, ok := opusBitrateByChannels[channels]; ok {
		return b
	}
	if channels <= 0 {
		return opusBitrateByChannels[2]
	}
	return fmt.Sprintf("%dk", channels*48)
}

// mergeFlags flattens base/rules/overrides into one argv, keeping the last
// occurrence of each named flag (and its value, if any) while preserving
// first-seen ordering for flags that are never overridden.
func mergeFlags(sources ...[]string) []string {
	order := make([]string, 0)
	values := make(map[string][]string)
	positional := make([]string, 0)

	for _, source := range sources {
		i := 0
		for i < len(source) {
			tok := source[i]
			if !strings.HasPrefix(tok, "--") {
				positional = append(positional, tok)
				i++
				continue
			}

			if _, seen := values[tok]; !seen {
				order = append(order, tok)
			}

			if i+1 < len(source) && !strings.HasPrefix(source[i+1], "--") {
				values[tok] = []string{source[i+1]}
				i += 2
			} else {
				values[tok] = nil
				i++
			}
		}
	}

	out := make([]string, 0, len(order)*2+len(positional))
	for _, flag := range order {
		out = append(out, flag)
		out = append(out, values[flag]...)
	}
	out = append(out, positional...)
	return out
}
