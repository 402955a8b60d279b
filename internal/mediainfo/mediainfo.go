// Package mediainfo parses `mediainfo --Output=JSON` responses into the
// technical metadata the analyzer stage needs, including HDR classification
// from color-metadata fields.
package mediainfo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GeneralTrack carries container-level fields, notably the path mediainfo
// resolved the track from, used to match a response back to its Video.
type GeneralTrack struct {
	CompleteName   string `json:"CompleteName"`
	FileSize       string `json:"FileSize"`
	Duration       string `json:"Duration"`
	OverallBitRate string `json:"OverallBitRate"`
	Title          string `json:"Title"`
}

// VideoTrack carries the fields the analyzer needs from a video track.
type VideoTrack struct {
	Format                  string `json:"Format"`
	Width                   string `json:"Width"`
	Height                  string `json:"Height"`
	FrameRate               string `json:"FrameRate"`
	BitRate                 string `json:"BitRate"`
	ColourPrimaries         string `json:"colour_primaries"`
	TransferCharacteristics string `json:"transfer_characteristics"`
	MatrixCoefficients      string `json:"matrix_coefficients"`
	HDRFormat               string `json:"HDR_Format"`
	HDRFormatCompatibility  string `json:"HDR_Format_Compatibility"`
}

// AudioTrack carries the fields the analyzer needs from an audio track.
type AudioTrack struct {
	Format   string `json:"Format"`
	Channels string `json:"Channels"`
	Title    string `json:"Title"`
}

// Track is one entry in a mediainfo response's track array, dispatching to
// General/Video/Audio based on its "@type" discriminator.
type Track struct {
	Type    string `json:"@type"`
	General GeneralTrack
	Video   VideoTrack
	Audio   AudioTrack
}

// UnmarshalJSON dispatches the raw track object to whichever of
// General/Video/Audio matches its "@type" field.
func (t *Track) UnmarshalJSON(data []byte) error {
	var typeOnly struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(data, &typeOnly); err != nil {
		return err
	}
	t.Type = typeOnly.Type

	switch t.Type {
	case "General":
		return json.Unmarshal(data, &t.General)
	case "Video":
		return json.Unmarshal(data, &t.Video)
	case "Audio":
		return json.Unmarshal(data, &t.Audio)
	}
	return nil
}

// Media holds the track array for a single probed file.
type Media struct {
	Track []Track `json:"track"`
}

// Response is mediainfo's JSON shape for a single path.
type Response struct {
	Media Media `json:"media"`
}

// ParseBatch parses the output of a single `mediainfo --Output=JSON <paths...>`
// invocation. mediainfo emits a bare object when given one path and a JSON
// array of objects when given more than one; both shapes are accepted so the
// analyzer can always invoke mediainfo once per batch.
func ParseBatch(data []byte) ([]Response, error) {
	var multiple []Response
	if err := json.Unmarshal(data, &multiple); err == nil {
		return multiple, nil
	}

	var single Response
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parsing mediainfo output: %w", err)
	}
	return []Response{single}, nil
}

// Metadata is the flattened set of fields the analyzer needs to populate a
// Video record, extracted from one Response.
type Metadata struct {
	Path             string
	Width            int
	Height           int
	Duration         float64
	FrameRate        float64
	Bitrate          int64
	Size             int64
	Title            string
	VideoCodecs      []string
	AudioCodecs      []string
	MaxAudioChannels int
	Atmos            bool
	HDR              string
}

// Extract flattens a Response into the Video param vector. err is non-nil
// when the response lacks a usable video track or a non-positive file size.
func Extract(r Response) (Metadata, error) {
	var m Metadata
	var general *GeneralTrack
	var videoTracks []VideoTrack
	var audioTracks []AudioTrack

	for i := range r.Media.Track {
		switch r.Media.Track[i].Type {
		case "General":
			general = &r.Media.Track[i].General
		case "Video":
			videoTracks = append(videoTracks, r.Media.Track[i].Video)
		case "Audio":
			audioTracks = append(audioTracks, r.Media.Track[i].Audio)
		}
	}

	if general == nil {
		return m, fmt.Errorf("mediainfo response has no General track")
	}
	m.Path = general.CompleteName
	m.Title = general.Title

	size, _ := strconv.ParseInt(general.FileSize, 10, 64)
	if size <= 0 {
		return m, fmt.Errorf("mediainfo reported non-positive FileSize %q", general.FileSize)
	}
	m.Size = size

	if len(videoTracks) == 0 {
		return m, fmt.Errorf("mediainfo response has no Video track")
	}
	video := videoTracks[0]
	m.Width = atoiLoose(video.Width)
	m.Height = atoiLoose(video.Height)
	m.FrameRate = atofLoose(video.FrameRate)
	m.Bitrate = int64(atofLoose(video.BitRate))
	if m.Bitrate == 0 {
		m.Bitrate = int64(atofLoose(general.OverallBitRate))
	}
	m.Duration = atofLoose(general.Duration) / 1000 // mediainfo reports container duration in ms
	m.HDR = classifyHDR(video)

	for _, v := range videoTracks {
		m.VideoCodecs = append(m.VideoCodecs, v.Format)
	}
	for _, a := range audioTracks {
		m.AudioCodecs = append(m.AudioCodecs, a.Format)
		channels := atoiLoose(a.Channels)
		if channels > m.MaxAudioChannels {
			m.MaxAudioChannels = channels
		}
		if strings.Contains(strings.ToLower(a.Format), "atmos") || strings.Contains(strings.ToLower(a.Title), "atmos") {
			m.Atmos = true
		}
	}

	return m, nil
}

// classifyHDR names the HDR flavor present on track, or "" for SDR content.
// HDR_Format is checked first since mediainfo's own classification is more
// precise than color-metadata inference; the primaries/transfer/matrix
// inspection is the fallback for files mediainfo didn't tag explicitly.
func classifyHDR(track VideoTrack) string {
	format := track.HDRFormat + " " + track.HDRFormatCompatibility
	switch {
	case containsAny(format, "Dolby Vision"):
		return "DV"
	case containsAny(format, "HDR10+"):
		return "HDR10+"
	case containsAny(format, "HDR10"):
		return "HDR10"
	case detectHDRFromColorMetadata(track.ColourPrimaries, track.TransferCharacteristics, track.MatrixCoefficients):
		return "HDR10"
	default:
		return ""
	}
}

// detectHDRFromColorMetadata classifies HDR purely from color-space fields,
// for files mediainfo didn't attach an explicit HDR_Format to.
func detectHDRFromColorMetadata(primaries, transfer, matrix string) bool {
	if containsAny(primaries, "BT.2020", "BT.2100") {
		return true
	}
	if containsAny(transfer, "PQ", "HLG", "SMPTE 2084", "SMPTE ST 2084") {
		return true
	}
	if containsAny(matrix, "BT.2020") {
		return true
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	sLower := strings.ToLower(s)
	for _, substr := range substrs {
		if strings.Contains(sLower, strings.ToLower(substr)) {
			return true
		}
	}
	return false
}

func atoiLoose(s string) int {
	s = strings.TrimSpace(strings.Split(s, ".")[0])
	v, _ := strconv.Atoi(s)
	return v
}

func atofLoose(s string) float64 {
	s = strings.TrimSpace(s)
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
