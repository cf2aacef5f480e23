package multilakesar

import (
	"fmt"
	"math"
	"strings"
)

// Preset selects how the color-mapping interval is derived.
type Preset string

const (
	PresetAuto     Preset = "auto"     // raw sampled min/max
	PresetDB       Preset = "db"       // fixed backscatter window in dB
	PresetP98      Preset = "p98"      // 2% trimmed from both ends of the range
	PresetExplicit Preset = "explicit" // caller supplied bounds
)

// Fixed window of the db preset.
const (
	DBLow  = -25.0
	DBHigh = 0.0
)

// ParsePreset parses a preset name. The empty string means PresetAuto.
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PresetAuto, nil
	case PresetAuto, PresetDB, PresetP98, PresetExplicit:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
}

func (p Preset) String() string { return string(p) }

// VisualizationRange is the interval mapped onto 0..255. Low < High always
// holds for ranges returned by Resolve.
type VisualizationRange struct {
	Low, High float64
}

// Span returns High - Low.
func (r VisualizationRange) Span() float64 { return r.High - r.Low }

// Resolve derives the visualization range of one render request. A finite
// explicit bound overrides the preset-derived value on its side; NaN or
// infinite bounds count as absent. stats may be nil for the db and explicit
// presets.
func Resolve(preset Preset, explicitLow, explicitHigh float64, stats *Statistics) VisualizationRange {
	var r VisualizationRange
	switch preset {
	case PresetDB:
		r = VisualizationRange{Low: DBLow, High: DBHigh}
	case PresetP98:
		if stats != nil {
			r = VisualizationRange{Low: stats.TrimmedMin, High: stats.TrimmedMax}
		}
	default:
		// auto, and explicit with bounds missing
		if stats != nil {
			r = VisualizationRange{Low: stats.RawMin, High: stats.RawMax}
		}
	}

	if isFinite(explicitLow) {
		r.Low = explicitLow
	}
	if isFinite(explicitHigh) {
		r.High = explicitHigh
	}
	return r.normalized()
}

// normalized repairs degenerate ranges to [Low, Low+1].
func (r VisualizationRange) normalized() VisualizationRange {
	if !isFinite(r.Low) {
		r.Low = 0
	}
	if !isFinite(r.High) || r.High <= r.Low {
		r.High = r.Low + 1
	}
	return r
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
