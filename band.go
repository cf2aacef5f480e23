package multilakesar

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

const (
	// DefaultMaxSamples bounds the number of samples read by one strided pass.
	DefaultMaxSamples = 2_000_000

	// DefaultPixelSizeMeters is used when no sidecar resolution is available.
	DefaultPixelSizeMeters = 10.0
)

// Band is a row-major grid of samples. NaN means no data. A Band is shared
// read-only between statistics, classification and rendering and must not be
// modified after decoding.
type Band []float64

// RasterMeta describes the grid a Band belongs to.
type RasterMeta struct {
	Width           int
	Height          int
	BoundingBox     *orb.Bound // nil when the source is not georeferenced
	PixelSizeMeters float64
	CRS             string
}

// Validate checks the dimensions against a band of n samples.
func (m RasterMeta) Validate(n int) error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, m.Width, m.Height)
	}
	if n < m.Width*m.Height {
		return fmt.Errorf("%w: %d samples for %dx%d", ErrInvalidDimensions, n, m.Width, m.Height)
	}
	if !(m.PixelSizeMeters > 0) || math.IsInf(m.PixelSizeMeters, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidPixelSize, m.PixelSizeMeters)
	}
	return nil
}

// Raster is a decoded band with its metadata. Tiles is set when the band
// came from an overview and display tiles are served by the decoder.
type Raster struct {
	Band  Band
	Meta  RasterMeta
	Tiles TileSource
}

// Close releases the tile source, if any.
func (r *Raster) Close() error {
	if r == nil || r.Tiles == nil {
		return nil
	}
	return r.Tiles.Close()
}

// Pixels returns the number of grid cells.
func (r *Raster) Pixels() int { return r.Meta.Width * r.Meta.Height }

// SamplingStep returns the stride that limits a pass over n samples to about
// maxSamples reads. A non-positive maxSamples selects DefaultMaxSamples.
func SamplingStep(n, maxSamples int) int {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return max(1, n/maxSamples)
}
