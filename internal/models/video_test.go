package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVideo(t *testing.T) {
	v := NewVideo("/media/movies/foo.mkv")
	assert.Equal(t, "/media/movies/foo.mkv", v.Path)
	assert.Equal(t, StateNeedsAnalysis, v.State)
}

func TestVideo_IsCodecFastPath(t *testing.T) {
	tests := []struct {
		name        string
		videoCodecs StringList
		audioCodecs StringList
		want        bool
	}{
		{"av1 video", StringList{"AV1"}, nil, true},
		{"opus audio", nil, StringList{"Opus"}, true},
		{"both", StringList{"AV1"}, StringList{"Opus"}, true},
		{"neither", StringList{"H264"}, StringList{"AAC"}, false},
		{"empty", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &Video{VideoCodecs: tt.videoCodecs, AudioCodecs: tt.audioCodecs}
			assert.Equal(t, tt.want, v.IsCodecFastPath())
		})
	}
}

func TestVideo_MarkAnalyzed(t *testing.T) {
	v := NewVideo("/x.mkv")
	err := v.MarkAnalyzed(1920, 1080, 8_000_000, []string{"H264"}, 120.5)
	require.NoError(t, err)
	assert.Equal(t, StateAnalyzed, v.State)
	assert.Equal(t, 1920, *v.Width)
	assert.Equal(t, 1080, *v.Height)
	assert.Equal(t, 8_000_000, *v.Bitrate)
	assert.Equal(t, 120.5, *v.Duration)

	// Re-analysis from analyzed is allowed.
	require.NoError(t, v.MarkAnalyzed(1920, 1080, 8_000_000, []string{"H264"}, 120.5))

	v2 := NewVideo("/y.mkv")
	err = v2.MarkAnalyzed(0, 1080, 8_000_000, []string{"H264"}, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateNeedsAnalysis, v2.State)
}

func TestVideo_MarkAnalyzed_WrongState(t *testing.T) {
	v := NewVideo("/x.mkv")
	v.State = StateEncoded
	err := v.MarkAnalyzed(1920, 1080, 8_000_000, []string{"H264"}, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestVideo_MarkResetToAnalyzed(t *testing.T) {
	for _, from := range []State{StateCRFSearching, StateEncoding} {
		v := NewVideo("/x.mkv")
		v.State = from
		require.NoError(t, v.MarkResetToAnalyzed())
		assert.Equal(t, StateAnalyzed, v.State)
	}

	v := NewVideo("/x.mkv")
	v.State = StateEncoded
	assert.ErrorIs(t, v.MarkResetToAnalyzed(), ErrInvalidTransition)
}

func TestVideo_MarkReencoded(t *testing.T) {
	v := NewVideo("/x.mkv")
	v.VideoCodecs = StringList{"AV1"}
	require.NoError(t, v.MarkReencoded())
	assert.Equal(t, StateEncoded, v.State)

	v2 := NewVideo("/y.mkv")
	assert.ErrorIs(t, v2.MarkReencoded(), ErrInvalidTransition)
}

func TestVideo_CRFSearchLifecycle(t *testing.T) {
	v := NewVideo("/x.mkv")
	v.State = StateAnalyzed

	require.NoError(t, v.MarkCRFSearching())
	assert.Equal(t, StateCRFSearching, v.State)

	require.NoError(t, v.MarkCRFSearched(42))
	assert.Equal(t, StateCRFSearched, v.State)
	require.NotNil(t, v.ChosenVmafID)
	assert.Equal(t, uint(42), *v.ChosenVmafID)

	require.NoError(t, v.MarkEncoding())
	assert.Equal(t, StateEncoding, v.State)

	require.NoError(t, v.MarkEncoded())
	assert.Equal(t, StateEncoded, v.State)
}

func TestVideo_MarkEncoding_RequiresChosenVmaf(t *testing.T) {
	v := NewVideo("/x.mkv")
	v.State = StateCRFSearched
	err := v.MarkEncoding()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestVideo_MarkResetCRFSearched(t *testing.T) {
	v := NewVideo("/x.mkv")
	v.State = StateEncoding
	vmafID := uint(7)
	v.ChosenVmafID = &vmafID

	require.NoError(t, v.MarkResetCRFSearched())
	assert.Equal(t, StateCRFSearched, v.State)

	v2 := NewVideo("/y.mkv")
	v2.State = StateEncoding
	assert.ErrorIs(t, v2.MarkResetCRFSearched(), ErrInvalidTransition)
}

func TestVideo_MarkFailed(t *testing.T) {
	for _, from := range []State{StateNeedsAnalysis, StateAnalyzed, StateCRFSearching, StateCRFSearched, StateEncoding} {
		v := NewVideo("/x.mkv")
		v.State = from
		require.NoError(t, v.MarkFailed())
		assert.Equal(t, StateFailed, v.State)
	}

	v := NewVideo("/x.mkv")
	v.State = StateEncoded
	assert.True(t, errors.Is(v.MarkFailed(), ErrInvalidTransition))
}
