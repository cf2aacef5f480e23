package multilakesar

import (
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR/geotiff"
)

// Config is the engine configuration, usually read from a YAML file.
type Config struct {
	MaxSamples         int      `yaml:"max_samples"`
	Preset             string   `yaml:"preset"`
	ExplicitLow        *float64 `yaml:"explicit_low,omitempty"`
	ExplicitHigh       *float64 `yaml:"explicit_high,omitempty"`
	MaxRenderDimension int      `yaml:"max_render_dimension"`
	Composite          bool     `yaml:"composite"`

	Decoder     string        `yaml:"decoder"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	ReadAhead   int           `yaml:"read_ahead"`
	Workers     int           `yaml:"workers"`
	LogLevel    string        `yaml:"log_level"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		MaxSamples:         DefaultMaxSamples,
		Preset:             string(PresetAuto),
		MaxRenderDimension: MaxRenderDimension,
		Decoder:            string(DecoderFull),
		HTTPTimeout:        geotiff.DefaultHTTPTimeout,
		ReadAhead:          geotiff.DefaultReadAheadSize,
		LogLevel:           "info",
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	c := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var err error
	if c.MaxSamples <= 0 {
		err = multierr.Append(err, fmt.Errorf("max_samples must be positive, got %d", c.MaxSamples))
	}
	if c.MaxRenderDimension <= 0 {
		err = multierr.Append(err, fmt.Errorf("max_render_dimension must be positive, got %d", c.MaxRenderDimension))
	}
	if _, perr := ParsePreset(c.Preset); perr != nil {
		err = multierr.Append(err, perr)
	}
	switch DecoderKind(c.Decoder) {
	case DecoderFull, DecoderTiled:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown decoder %q", c.Decoder))
	}
	if c.ExplicitLow != nil && c.ExplicitHigh != nil && *c.ExplicitLow >= *c.ExplicitHigh {
		err = multierr.Append(err, fmt.Errorf("explicit_low %v must be below explicit_high %v", *c.ExplicitLow, *c.ExplicitHigh))
	}
	if c.HTTPTimeout < 0 || c.ReadAhead < 0 || c.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf("http_timeout, read_ahead and workers must not be negative"))
	}
	return err
}

// Request builds the render request described by c.
func (c Config) Request() (Request, error) {
	preset, err := ParsePreset(c.Preset)
	if err != nil {
		return Request{}, err
	}
	req := NewRequest(preset)
	req.MaxSamples = c.MaxSamples
	req.MaxRenderDimension = c.MaxRenderDimension
	req.Composite = c.Composite
	if c.ExplicitLow != nil {
		req.ExplicitLow = *c.ExplicitLow
	}
	if c.ExplicitHigh != nil {
		req.ExplicitHigh = *c.ExplicitHigh
	}
	return req, nil
}

// GeoTIFFOptions returns the remote access options of the decoder.
func (c Config) GeoTIFFOptions() geotiff.Options {
	return geotiff.Options{
		Client:    geotiff.NewHTTPClient(c.HTTPTimeout),
		Timeout:   c.HTTPTimeout,
		ReadAhead: c.ReadAhead,
	}
}

// NewAdapter returns an adapter with the configured decoder variant.
func (c Config) NewAdapter() (*Adapter, error) {
	d, err := NewDecoder(DecoderKind(c.Decoder), c.GeoTIFFOptions(), c.MaxSamples)
	if err != nil {
		return nil, err
	}
	return NewAdapter(d), nil
}

// Rasterizer returns the configured rasterizer.
func (c Config) Rasterizer() *Rasterizer {
	return &Rasterizer{MaxDimension: c.MaxRenderDimension, MaxSamples: c.MaxSamples, Workers: c.Workers}
}

// SetExplicit stores explicit bounds; NaN clears a bound.
func (c *Config) SetExplicit(low, high float64) {
	c.ExplicitLow, c.ExplicitHigh = nil, nil
	if !math.IsNaN(low) {
		c.ExplicitLow = &low
	}
	if !math.IsNaN(high) {
		c.ExplicitHigh = &high
	}
}
