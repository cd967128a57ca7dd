package detect

import (
	"bytes"
	"image"
	"image/png"
)

// PNGFrameStats decodes two PNG-encoded frames and computes a
// MeanAbsDiff/AboveThreshArea pair suitable as a MotionDetector's
// FrameStatsFunc. Frames of mismatched dimensions are treated as
// maximally different rather than erroring, since a decoder
// resolution change mid-stream is itself worth flagging as motion.
func PNGFrameStats(prev, cur []byte) FrameStats {
	prevImg, err1 := png.Decode(bytes.NewReader(prev))
	curImg, err2 := png.Decode(bytes.NewReader(cur))
	if err1 != nil || err2 != nil {
		return FrameStats{}
	}
	if prevImg.Bounds() != curImg.Bounds() {
		return FrameStats{MeanAbsDiff: 255, AboveThreshArea: 1}
	}

	bounds := curImg.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return FrameStats{}
	}

	const perPixelThreshold = 24.0
	var sumDiff float64
	var above int

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			d := pixelDiff(prevImg, curImg, x, y)
			sumDiff += d
			if d > perPixelThreshold {
				above++
			}
		}
	}

	return FrameStats{
		MeanAbsDiff:     sumDiff / float64(total),
		AboveThreshArea: float64(above) / float64(total),
	}
}

func pixelDiff(a, b image.Image, x, y int) float64 {
	ar, ag, ab, _ := a.At(x, y).RGBA()
	br, bg, bb, _ := b.At(x, y).RGBA()
	diff := absDiff16(ar, br) + absDiff16(ag, bg) + absDiff16(ab, bb)
	return float64(diff) / (3 * 256) // scale 16-bit-per-channel sum down to ~0-255
}

func absDiff16(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
