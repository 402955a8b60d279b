package crfmath

import (
	"testing"

	"github.com/reencodarr/reencodarr/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestIsNarrowedRange(t *testing.T) {
	assert.False(t, IsNarrowedRange(StandardMin, StandardMax))
	assert.True(t, IsNarrowedRange(20, StandardMax))
	assert.True(t, IsNarrowedRange(StandardMin, 30))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 8.0, Clamp(2, 8, 40))
	assert.Equal(t, 40.0, Clamp(50, 8, 40))
	assert.Equal(t, 26.0, Clamp(26, 8, 40))
}

func TestCanLowerTarget(t *testing.T) {
	assert.True(t, CanLowerTarget(95, 90))
	assert.True(t, CanLowerTarget(90, 90))
	assert.False(t, CanLowerTarget(89, 90))
}

func TestNextTarget(t *testing.T) {
	assert.Equal(t, 94, NextTarget(95))
}

func TestSelectBestVmaf_PrefersLowestPercentMeetingTarget(t *testing.T) {
	candidates := []models.Vmaf{
		{CRF: 24, Score: 96.0, Percent: 60},
		{CRF: 26, Score: 95.5, Percent: 51},
		{CRF: 30, Score: 93.0, Percent: 40},
	}

	best := SelectBestVmaf(candidates, 95)
	assert.Equal(t, 26.0, best.CRF)
}

func TestSelectBestVmaf_FallsBackToHighestScore(t *testing.T) {
	candidates := []models.Vmaf{
		{CRF: 30, Score: 90.0, Percent: 40},
		{CRF: 34, Score: 88.0, Percent: 35},
	}

	best := SelectBestVmaf(candidates, 95)
	assert.Equal(t, 30.0, best.CRF)
}

func TestSelectBestVmaf_Empty(t *testing.T) {
	assert.Nil(t, SelectBestVmaf(nil, 95))
}
