package multilakesar

import (
	"fmt"
	"math"
)

// WaterThresholdFraction places the water threshold 10% above the low end of
// the visualization range. Smooth open water has low backscatter, so values at
// or below the threshold are counted as water. This is a rough single
// threshold heuristic and not a trained classifier.
const WaterThresholdFraction = 0.10

// ClassificationResult is the outcome of a strided water classification.
type ClassificationResult struct {
	MatchingPixelCount int
	AreaKm2            float64 // scaled by SamplingStep
	ThresholdValue     float64

	SamplingStep    int
	ValidCount      int     // visited samples that hold data
	WaterFraction   float64 // MatchingPixelCount / ValidCount
	TotalAreaKm2    float64 // area of the whole grid
	PixelSizeMeters float64
}

// Threshold returns the water threshold for a visualization range.
func Threshold(rng VisualizationRange) float64 {
	return rng.Low + WaterThresholdFraction*(rng.High-rng.Low)
}

// Classify counts samples at or below the threshold of rng over indices
// 0, step, 2*step, ... and converts the count to km². NaN samples never match.
// A samplingStep below 1 is treated as 1.
func Classify(band Band, rng VisualizationRange, pixelSizeMeters float64, samplingStep int) (ClassificationResult, error) {
	if !(pixelSizeMeters > 0) || math.IsInf(pixelSizeMeters, 0) {
		return ClassificationResult{}, fmt.Errorf("%w: %v", ErrInvalidPixelSize, pixelSizeMeters)
	}
	step := max(1, samplingStep)
	res := ClassificationResult{
		ThresholdValue:  Threshold(rng),
		SamplingStep:    step,
		PixelSizeMeters: pixelSizeMeters,
	}

	for i := 0; i < len(band); i += step {
		v := band[i]
		if !isFinite(v) {
			continue
		}
		res.ValidCount++
		if v <= res.ThresholdValue {
			res.MatchingPixelCount++
		}
	}

	pixelAreaKm2 := pixelSizeMeters * pixelSizeMeters / 1e6
	res.AreaKm2 = float64(res.MatchingPixelCount) * pixelAreaKm2 * float64(step)
	res.TotalAreaKm2 = float64(len(band)) * pixelAreaKm2
	if res.ValidCount > 0 {
		res.WaterFraction = float64(res.MatchingPixelCount) / float64(res.ValidCount)
	}
	return res, nil
}

// Summary renders the result as short display lines.
func (c ClassificationResult) Summary() []string {
	return []string{
		fmt.Sprintf("water: %.2f km²", c.AreaKm2),
		fmt.Sprintf("water fraction: %.1f%% (threshold %.2f)", c.WaterFraction*100, c.ThresholdValue),
		fmt.Sprintf("total area: %.2f km²", c.TotalAreaKm2),
	}
}
