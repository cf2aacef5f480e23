package multilakesar

import (
	"errors"
	"math"
	"testing"
)

func TestParsePreset(t *testing.T) {
	tests := []struct {
		in   string
		want Preset
		err  bool
	}{
		{"", PresetAuto, false},
		{"auto", PresetAuto, false},
		{" DB ", PresetDB, false},
		{"p98", PresetP98, false},
		{"explicit", PresetExplicit, false},
		{"p95", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePreset(tt.in)
		if tt.err {
			if !errors.Is(err, ErrUnknownPreset) {
				t.Errorf("ParsePreset(%q): expected ErrUnknownPreset, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParsePreset(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestResolve(t *testing.T) {
	nan := math.NaN()
	stats := Analyze(Band{0, 100, 50}, 0, PresetAuto)
	zeros := Analyze(Band{0, 0, 0, 0}, 0, PresetAuto)

	tests := []struct {
		name      string
		preset    Preset
		low, high float64
		stats     *Statistics
		want      VisualizationRange
	}{
		{"auto", PresetAuto, nan, nan, stats, VisualizationRange{0, 100}},
		{"db", PresetDB, nan, nan, stats, VisualizationRange{-25, 0}},
		{"db on zeros", PresetDB, nan, nan, zeros, VisualizationRange{-25, 0}},
		{"db without stats", PresetDB, nan, nan, nil, VisualizationRange{-25, 0}},
		{"p98", PresetP98, nan, nan, stats, VisualizationRange{2, 98}},
		{"explicit", PresetExplicit, -20, -5, stats, VisualizationRange{-20, -5}},
		{"explicit overrides db", PresetDB, -20, -5, stats, VisualizationRange{-20, -5}},
		{"explicit missing falls back to auto", PresetExplicit, nan, nan, stats, VisualizationRange{0, 100}},
		{"single explicit bound", PresetAuto, 10, math.Inf(1), stats, VisualizationRange{10, 100}},
		{"degenerate data", PresetAuto, nan, nan, zeros, VisualizationRange{0, 1}},
		{"inverted explicit", PresetExplicit, 5, 1, stats, VisualizationRange{5, 6}},
		{"no stats", PresetAuto, nan, nan, nil, VisualizationRange{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.preset, tt.low, tt.high, tt.stats)
			if got != tt.want {
				t.Errorf("Resolve() = %+v, expected %+v", got, tt.want)
			}
			if !(got.Low < got.High) {
				t.Errorf("Range not ordered: %+v", got)
			}
		})
	}
}
