package multilakesar

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func TestParseConfig(t *testing.T) {
	data := []byte(`
max_samples: 500000
preset: P98
explicit_high: -3.5
max_render_dimension: 1024
composite: true
decoder: tiled
http_timeout: 45s
workers: 4
log_level: debug
`)
	c, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if c.MaxSamples != 500000 || c.MaxRenderDimension != 1024 || c.Workers != 4 {
		t.Errorf("Unexpected sizes: %+v", c)
	}
	if c.HTTPTimeout != 45*time.Second {
		t.Errorf("Expected 45s timeout, got %v", c.HTTPTimeout)
	}
	if c.ReadAhead != DefaultConfig().ReadAhead {
		t.Errorf("Expected default read ahead, got %d", c.ReadAhead)
	}
	if c.ExplicitLow != nil || c.ExplicitHigh == nil || *c.ExplicitHigh != -3.5 {
		t.Errorf("Unexpected explicit bounds %v %v", c.ExplicitLow, c.ExplicitHigh)
	}

	req, err := c.Request()
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if req.Preset != PresetP98 || !req.Composite || req.MaxSamples != 500000 {
		t.Errorf("Unexpected request %+v", req)
	}
	if !math.IsNaN(req.ExplicitLow) || req.ExplicitHigh != -3.5 {
		t.Errorf("Unexpected request bounds %v %v", req.ExplicitLow, req.ExplicitHigh)
	}

	if _, err := c.NewAdapter(); err != nil {
		t.Errorf("NewAdapter failed: %v", err)
	}
	if rz := c.Rasterizer(); rz.MaxDimension != 1024 || rz.Workers != 4 {
		t.Errorf("Unexpected rasterizer %+v", rz)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	c, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if c != DefaultConfig() {
		t.Errorf("Expected defaults, got %+v", c)
	}
}

func TestParseConfigUnknownKey(t *testing.T) {
	if _, err := ParseConfig([]byte("max_sample: 10\n")); err == nil {
		t.Error("Expected error for unknown key")
	}
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	c.MaxSamples = 0
	c.Preset = "sigma"
	c.Decoder = "gdal"
	c.SetExplicit(0, -10)

	err := c.Validate()
	if n := len(multierr.Errors(err)); n != 4 {
		t.Errorf("Expected 4 problems, got %d: %v", n, err)
	}
	if !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("Expected ErrUnknownPreset, got %v", err)
	}
	if !strings.Contains(err.Error(), `unknown decoder "gdal"`) {
		t.Errorf("Missing decoder problem in %v", err)
	}
}

func TestConfigSetExplicit(t *testing.T) {
	c := DefaultConfig()
	c.SetExplicit(-20, math.NaN())
	if c.ExplicitLow == nil || *c.ExplicitLow != -20 || c.ExplicitHigh != nil {
		t.Errorf("Unexpected bounds %v %v", c.ExplicitLow, c.ExplicitHigh)
	}
	c.SetExplicit(math.NaN(), math.NaN())
	if c.ExplicitLow != nil || c.ExplicitHigh != nil {
		t.Error("Expected NaN to clear both bounds")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multilakesar.yaml")
	if err := os.WriteFile(path, []byte("preset: db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.Preset != "db" {
		t.Errorf("Expected preset db, got %q", c.Preset)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
