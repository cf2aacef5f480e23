package multilakesar

import (
	"fmt"
	"math"
)

// HistogramBins is the fixed number of histogram bins.
const HistogramBins = 32

// trimFraction is cut from each end of the range by the p98 preset.
const trimFraction = 0.02

// Statistics summarizes the strided sample of a band.
//
// Min and Max are the histogram domain: the raw extremes, or the trimmed ones
// when the analysis ran with PresetP98. Both variants are always recorded so
// that any preset can be resolved without another pass over the band.
type Statistics struct {
	Min, Max   float64
	Mean, Std  float64
	RawMin     float64
	RawMax     float64
	TrimmedMin float64
	TrimmedMax float64

	Histogram []uint64  // HistogramBins counts
	BinEdges  []float64 // HistogramBins+1 edges, the last one equal to Max
	CDF       []float64 // HistogramBins cumulative fractions

	// Bin-resolution percentile estimates.
	P2, P25, P50, P75, P98 float64

	Entropy float64 // Shannon entropy of the histogram in bits

	ValidCount   int // sampled samples that are not NaN
	SampledCount int // samples visited by the strided pass
	TotalCount   int // len(band)
	Step         int
	Preset       Preset
}

// Analyze computes statistics over band[0], band[step], band[2*step], ...
// where step = max(1, len(band)/maxSamples). NaN and infinite samples are
// treated as no data. It never fails: a band without valid samples yields a
// zero histogram, NaN mean and zero extremes.
func Analyze(band Band, maxSamples int, preset Preset) *Statistics {
	n := len(band)
	step := SamplingStep(n, maxSamples)
	s := &Statistics{
		Histogram:  make([]uint64, HistogramBins),
		BinEdges:   make([]float64, HistogramBins+1),
		CDF:        make([]float64, HistogramBins),
		TotalCount: n,
		Step:       step,
		Preset:     preset,
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	var sum, sumSq float64
	for i := 0; i < n; i += step {
		s.SampledCount++
		v := band[i]
		if !isFinite(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
		sumSq += v * v
		s.ValidCount++
	}
	if s.ValidCount == 0 {
		s.Mean = math.NaN()
		return s
	}

	valid := float64(s.ValidCount)
	s.Mean = sum / valid
	s.Std = math.Sqrt(math.Max(0, sumSq/valid-s.Mean*s.Mean))

	rawRange := hi - lo
	s.RawMin, s.RawMax = lo, hi
	s.TrimmedMin = lo + trimFraction*rawRange
	s.TrimmedMax = hi - trimFraction*rawRange

	s.Min, s.Max = s.RawMin, s.RawMax
	if preset == PresetP98 {
		s.Min, s.Max = s.TrimmedMin, s.TrimmedMax
	}

	s.fillHistogram(band)
	return s
}

// fillHistogram runs the second strided pass over the domain [Min, Max].
func (s *Statistics) fillHistogram(band Band) {
	rng := s.Max - s.Min
	width := rng
	if width <= 0 {
		width = 1
	}

	for i := 0; i < len(band); i += s.Step {
		v := band[i]
		if !isFinite(v) {
			continue
		}
		idx := int(math.Floor((v - s.Min) / width * HistogramBins))
		idx = min(max(idx, 0), HistogramBins-1)
		s.Histogram[idx]++
	}

	for i := range s.BinEdges {
		s.BinEdges[i] = s.Min + rng*float64(i)/HistogramBins
	}
	s.BinEdges[HistogramBins] = s.Max

	total := float64(s.ValidCount)
	var acc uint64
	for i, c := range s.Histogram {
		acc += c
		s.CDF[i] = float64(acc) / total
		if c > 0 {
			p := float64(c) / total
			s.Entropy -= p * math.Log2(p)
		}
	}

	s.P2 = s.Percentile(2)
	s.P25 = s.Percentile(25)
	s.P50 = s.Percentile(50)
	s.P75 = s.Percentile(75)
	s.P98 = s.Percentile(98)
}

// Percentile returns the lower edge of the first bin whose cumulative
// fraction reaches p/100, or the last edge.
func (s *Statistics) Percentile(p float64) float64 {
	t := p / 100
	for i, c := range s.CDF {
		if c >= t && s.ValidCount > 0 {
			return s.BinEdges[i]
		}
	}
	return s.BinEdges[len(s.BinEdges)-1]
}

// HasData reports whether at least one sampled value was valid.
func (s *Statistics) HasData() bool { return s.ValidCount > 0 }

// Coverage returns the fraction of sampled values that hold data.
func (s *Statistics) Coverage() float64 {
	if s.SampledCount == 0 {
		return 0
	}
	return float64(s.ValidCount) / float64(s.SampledCount)
}

// Summary renders the statistics as short display lines.
func (s *Statistics) Summary() []string {
	if !s.HasData() {
		return []string{"std: n/a", "entropy: n/a", "percentiles: n/a", "coverage: n/a"}
	}
	return []string{
		fmt.Sprintf("std: %.2f | min: %.2f | mean: %.2f | max: %.2f", s.Std, s.Min, s.Mean, s.Max),
		fmt.Sprintf("entropy: %.2f", s.Entropy),
		fmt.Sprintf("p2:%.2f p25:%.2f p50:%.2f p75:%.2f p98:%.2f", s.P2, s.P25, s.P50, s.P75, s.P98),
		fmt.Sprintf("coverage: %.0f%%", s.Coverage()*100),
	}
}
