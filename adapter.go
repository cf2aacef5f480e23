package multilakesar

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR/geotiff"
	"github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR/log"
)

// LargeFileBytes is the size above which loading a local raster is logged
// as slow.
const LargeFileBytes = 250 << 20

// DecoderKind selects a RasterDecoder.
type DecoderKind string

const (
	DecoderFull  DecoderKind = "full"  // decode the full resolution band
	DecoderTiled DecoderKind = "tiled" // decode an overview, serve display tiles
)

// Source names a raster: a local path, a remote URL or an in-memory blob.
// Exactly one of them must be set. Band is the zero-based sample index.
type Source struct {
	Path string
	URL  string
	Blob []byte
	Band int
}

// SourceFromString builds a Source from a path or an http(s) URL.
func SourceFromString(s string) Source {
	if geotiff.IsURL(s) {
		return Source{URL: s}
	}
	return Source{Path: s}
}

func (s Source) String() string {
	switch {
	case s.URL != "":
		return s.URL
	case s.Path != "":
		return s.Path
	case s.Blob != nil:
		return fmt.Sprintf("blob(%d bytes)", len(s.Blob))
	}
	return "<empty>"
}

// Validate checks that exactly one location is set.
func (s Source) Validate() error {
	n := 0
	for _, set := range []bool{s.Path != "", s.URL != "", s.Blob != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("source must set exactly one of path, URL or blob (got %d)", n)
	}
	if s.Band < 0 {
		return fmt.Errorf("invalid band index %d", s.Band)
	}
	return nil
}

// Decoded is the output of a RasterDecoder.
type Decoded struct {
	Band   Band
	Width  int
	Height int
	Bounds *orb.Bound
	CRS    string
	// Scale is the number of full resolution pixels per decoded pixel along
	// one axis. It is 1 unless an overview was decoded.
	Scale float64
	// Tiles is set by decoders that serve display tiles directly.
	Tiles TileSource
}

// TileSource serves display tiles of an opened raster.
type TileSource interface {
	Tile(ctx context.Context, t maptile.Tile, size int) ([]float64, orb.Bound, error)
	Covering(z maptile.Zoom) ([]maptile.Tile, error)
	Close() error
}

// RasterDecoder turns a Source into a band.
type RasterDecoder interface {
	Decode(ctx context.Context, src Source) (*Decoded, error)
}

// NewDecoder returns the decoder variant for kind.
func NewDecoder(kind DecoderKind, opts geotiff.Options, maxSamples int) (RasterDecoder, error) {
	switch kind {
	case DecoderFull, "":
		return &FullDecoder{Options: opts}, nil
	case DecoderTiled:
		return &TiledDecoder{Options: opts, MaxSamples: maxSamples}, nil
	}
	return nil, fmt.Errorf("unknown decoder %q", kind)
}

func openSource(src Source, opts geotiff.Options) (*geotiff.File, error) {
	if src.Blob != nil {
		return geotiff.OpenBytes(src.Blob)
	}
	if src.URL != "" {
		return geotiff.Open(src.URL, opts)
	}
	return geotiff.Open(src.Path, opts)
}

func decodedFrom(f *geotiff.File, band Band, level int) *Decoded {
	m := f.Level(level)
	d := &Decoded{
		Band:   band,
		Width:  m.Width,
		Height: m.Height,
		CRS:    f.CRS(),
		Scale:  float64(f.Width()) / float64(m.Width),
	}
	if f.Georeferenced() {
		b := f.Bounds()
		d.Bounds = &b
	}
	return d
}

// FullDecoder decodes the full resolution band.
type FullDecoder struct {
	Options geotiff.Options
}

func (d *FullDecoder) Decode(ctx context.Context, src Source) (*Decoded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := openSource(src, d.Options)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	band, err := f.ReadBand(0, src.Band)
	if err != nil {
		return nil, err
	}
	return decodedFrom(f, band, 0), nil
}

// TiledDecoder keeps the raster open, materializes the smallest level that
// still holds MaxSamples pixels for analysis and serves display tiles from
// the best fitting level.
type TiledDecoder struct {
	Options    geotiff.Options
	MaxSamples int
}

func (d *TiledDecoder) Decode(ctx context.Context, src Source) (*Decoded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := openSource(src, d.Options)
	if err != nil {
		return nil, err
	}

	minPixels := d.MaxSamples
	if minPixels <= 0 {
		minPixels = DefaultMaxSamples
	}
	level := f.SelectLevel(minPixels)
	band, err := f.ReadBand(level, src.Band)
	if err != nil {
		f.Close()
		return nil, err
	}
	out := decodedFrom(f, band, level)
	out.Tiles = &fileTiles{f: f, band: src.Band}
	return out, nil
}

type fileTiles struct {
	f    *geotiff.File
	band int
}

func (t *fileTiles) Tile(ctx context.Context, tile maptile.Tile, size int) ([]float64, orb.Bound, error) {
	if err := ctx.Err(); err != nil {
		return nil, orb.Bound{}, err
	}
	return t.f.ReadTile(tile, t.band, size)
}

func (t *fileTiles) Covering(z maptile.Zoom) ([]maptile.Tile, error) {
	return t.f.TilesCovering(z)
}

func (t *fileTiles) Close() error { return t.f.Close() }

// Adapter normalizes raster sources into Rasters.
type Adapter struct {
	decoder RasterDecoder
	logTag  string
}

// NewAdapter returns an adapter using decoder.
func NewAdapter(decoder RasterDecoder) *Adapter {
	return &Adapter{decoder: decoder, logTag: "Adapter:"}
}

// Load decodes src and attaches the pixel size declared by sidecar, which
// may be nil. Decoder failures are returned as *DecodeError.
func (a *Adapter) Load(ctx context.Context, src Source, sidecar *Sidecar) (*Raster, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	a.warnLarge(src)

	d, err := a.decoder.Decode(ctx, src)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		log.Error(a.logTag+"decode raster failed", zap.Stringer("src", src), zap.Error(err))
		return nil, &DecodeError{Source: src.String(), Err: err}
	}

	pixelSize := sidecar.PixelSize()
	if d.Scale > 0 {
		pixelSize *= d.Scale
	}
	r := &Raster{
		Band: d.Band,
		Meta: RasterMeta{
			Width:           d.Width,
			Height:          d.Height,
			BoundingBox:     d.Bounds,
			PixelSizeMeters: pixelSize,
			CRS:             d.CRS,
		},
		Tiles: d.Tiles,
	}
	if err := r.Meta.Validate(len(r.Band)); err != nil {
		r.Close()
		return nil, err
	}
	log.Info(a.logTag+"raster loaded", zap.Stringer("src", src),
		zap.Int("width", d.Width), zap.Int("height", d.Height),
		zap.Float64("pixelSizeM", pixelSize), zap.Bool("tiled", d.Tiles != nil))
	return r, nil
}

func (a *Adapter) warnLarge(src Source) {
	size := int64(len(src.Blob))
	if src.Path != "" {
		if fi, err := os.Stat(src.Path); err == nil {
			size = fi.Size()
		}
	}
	if size > LargeFileBytes {
		log.Warn(a.logTag+"large raster, decoding may take a while",
			zap.Stringer("src", src), zap.Int64("mb", size>>20))
	}
}
