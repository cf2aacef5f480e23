package multilakesar

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"runtime"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// MaxRenderDimension caps the longer side of rendered bitmaps.
const MaxRenderDimension = 2048

const grayEpsilon = 1e-12

// Bitmap is an RGBA image, 4 bytes per pixel, row-major.
type Bitmap struct {
	Width, Height int
	Pix           []byte
	Bounds        *orb.Bound // geographic placement, set by the caller
}

func newBitmap(w, h int) *Bitmap {
	return &Bitmap{Width: w, Height: h, Pix: make([]byte, w*h*4)}
}

// Image exposes the bitmap as an image without copying.
func (b *Bitmap) Image() *image.NRGBA {
	return &image.NRGBA{Pix: b.Pix, Stride: b.Width * 4, Rect: image.Rect(0, 0, b.Width, b.Height)}
}

// EncodePNG writes the bitmap as PNG.
func (b *Bitmap) EncodePNG(w io.Writer) error {
	return png.Encode(w, b.Image())
}

// Transparent reports whether every pixel has zero alpha.
func (b *Bitmap) Transparent() bool {
	for i := 3; i < len(b.Pix); i += 4 {
		if b.Pix[i] != 0 {
			return false
		}
	}
	return true
}

// Rasterizer turns bands into bounded-size bitmaps using nearest-neighbour
// downsampling. Zero values select the defaults.
type Rasterizer struct {
	MaxDimension int // longest output side, MaxRenderDimension by default
	MaxSamples   int // min/max sampling budget of composites
	Workers      int // row workers, GOMAXPROCS by default
}

var defaultRasterizer = &Rasterizer{}

// RenderGray renders band with the default Rasterizer.
func RenderGray(band Band, width, height int, rng VisualizationRange) (*Bitmap, error) {
	return defaultRasterizer.RenderGray(band, width, height, rng)
}

// RenderComposite renders a band pair with the default Rasterizer.
func RenderComposite(a, b Band, width, height int) (*Bitmap, error) {
	return defaultRasterizer.RenderComposite(a, b, width, height)
}

func (r *Rasterizer) maxDimension() int {
	if r.MaxDimension > 0 {
		return r.MaxDimension
	}
	return MaxRenderDimension
}

func (r *Rasterizer) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// TargetSize returns the output size of a width x height grid scaled so that
// neither side exceeds maxDim. Both sides are at least 1.
func TargetSize(width, height, maxDim int) (int, int) {
	longest := max(width, height)
	if longest <= maxDim {
		return max(1, width), max(1, height)
	}
	return max(1, width*maxDim/longest), max(1, height*maxDim/longest)
}

// RenderGray maps band onto gray levels over rng. NaN samples become fully
// transparent pixels.
func (r *Rasterizer) RenderGray(band Band, width, height int, rng VisualizationRange) (*Bitmap, error) {
	if err := checkDimensions(len(band), width, height); err != nil {
		return nil, err
	}

	newW, newH := TargetSize(width, height, r.maxDimension())
	bm := newBitmap(newW, newH)
	span := math.Max(rng.High-rng.Low, grayEpsilon)

	r.forRows(newH, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			row := band[(y*height/newH)*width:]
			out := bm.Pix[y*newW*4:]
			for x := 0; x < newW; x++ {
				v := row[x*width/newW]
				if math.IsNaN(v) {
					continue
				}
				g := toByte((v - rng.Low) / span)
				out[x*4], out[x*4+1], out[x*4+2], out[x*4+3] = g, g, g, 255
			}
		}
	})
	return bm, nil
}

// RenderComposite renders a pseudo-color composite: red is a normalized, green
// is b normalized, blue is a+b normalized over the summed ranges. Each band is
// normalized by its own sampled min/max. Pixels where either band is NaN are
// transparent.
func (r *Rasterizer) RenderComposite(a, b Band, width, height int) (*Bitmap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d samples", ErrBandShapeMismatch, len(a), len(b))
	}
	if err := checkDimensions(len(a), width, height); err != nil {
		return nil, err
	}

	step := SamplingStep(len(a), r.MaxSamples)
	aMin, aRng := sampledExtent(a, step)
	bMin, bRng := sampledExtent(b, step)
	sumMin, sumRng := aMin+bMin, aRng+bRng

	newW, newH := TargetSize(width, height, r.maxDimension())
	bm := newBitmap(newW, newH)

	r.forRows(newH, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			base := (y * height / newH) * width
			out := bm.Pix[y*newW*4:]
			for x := 0; x < newW; x++ {
				src := base + x*width/newW
				va, vb := a[src], b[src]
				if math.IsNaN(va) || math.IsNaN(vb) {
					continue
				}
				out[x*4] = toByte((va - aMin) / aRng)
				out[x*4+1] = toByte((vb - bMin) / bRng)
				out[x*4+2] = toByte((va + vb - sumMin) / sumRng)
				out[x*4+3] = 255
			}
		}
	})
	return bm, nil
}

// RenderTile maps a size x size display tile onto gray levels without
// resampling.
func (r *Rasterizer) RenderTile(tile []float64, size int, rng VisualizationRange) (*Bitmap, error) {
	if size <= 0 || len(tile) != size*size {
		return nil, fmt.Errorf("%w: %d samples for a %d tile", ErrInvalidDimensions, len(tile), size)
	}
	span := math.Max(rng.High-rng.Low, grayEpsilon)
	bm := newBitmap(size, size)
	for i, v := range tile {
		if math.IsNaN(v) {
			continue
		}
		g := toByte((v - rng.Low) / span)
		bm.Pix[i*4], bm.Pix[i*4+1], bm.Pix[i*4+2], bm.Pix[i*4+3] = g, g, g, 255
	}
	return bm, nil
}

// forRows splits [0, h) into contiguous row ranges processed concurrently.
func (r *Rasterizer) forRows(h int, fn func(y0, y1 int)) {
	workers := min(r.workers(), h)
	if workers <= 1 {
		fn(0, h)
		return
	}
	chunk := (h + workers - 1) / workers
	var g errgroup.Group
	for y0 := 0; y0 < h; y0 += chunk {
		y0 := y0
		g.Go(func() error {
			fn(y0, min(y0+chunk, h))
			return nil
		})
	}
	g.Wait()
}

func checkDimensions(n, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if n < width*height {
		return fmt.Errorf("%w: %d samples for %dx%d", ErrInvalidDimensions, n, width, height)
	}
	return nil
}

// sampledExtent returns the strided minimum and range of band. An empty or
// flat band has range 1.
func sampledExtent(band Band, step int) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < len(band); i += step {
		v := band[i]
		if !isFinite(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 1
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}
	return lo, rng
}

// toByte maps [0, 1] onto 0..255 with rounding and clamping.
func toByte(f float64) byte {
	v := math.Round(f * 255)
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v)
}
