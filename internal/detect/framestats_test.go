package detect

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestPNG(t *testing.T, w, h int, fill uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPNGFrameStatsIdenticalFramesHaveZeroDiff(t *testing.T) {
	a := encodeTestPNG(t, 8, 8, 50)
	b := encodeTestPNG(t, 8, 8, 50)
	stats := PNGFrameStats(a, b)
	assert.Zero(t, stats.MeanAbsDiff)
	assert.Zero(t, stats.AboveThreshArea)
}

func TestPNGFrameStatsDifferentFramesReportDiff(t *testing.T) {
	a := encodeTestPNG(t, 8, 8, 10)
	b := encodeTestPNG(t, 8, 8, 240)
	stats := PNGFrameStats(a, b)
	assert.Greater(t, stats.MeanAbsDiff, 0.0)
	assert.Greater(t, stats.AboveThreshArea, 0.0)
}

func TestPNGFrameStatsDimensionMismatchReportsMaxDiff(t *testing.T) {
	a := encodeTestPNG(t, 4, 4, 10)
	b := encodeTestPNG(t, 8, 8, 10)
	stats := PNGFrameStats(a, b)
	assert.Equal(t, 255.0, stats.MeanAbsDiff)
	assert.Equal(t, 1.0, stats.AboveThreshArea)
}

func TestPNGFrameStatsInvalidDataReturnsZeroValue(t *testing.T) {
	stats := PNGFrameStats([]byte("not a png"), []byte("also not a png"))
	assert.Equal(t, FrameStats{}, stats)
}
