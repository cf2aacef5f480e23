// Package geotiff reads single bands of GeoTIFF and Cloud Optimized GeoTIFF
// images as float64 grids, from local files, in-memory blobs or remote URLs.
package geotiff

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/valyala/fasthttp"
)

// File is an opened GeoTIFF. Level 0 is the full resolution image, levels 1+
// are its reduced-resolution overviews ordered from largest to smallest.
type File struct {
	mu     sync.Mutex // guards reader position
	reader io.ReadSeeker
	closer io.Closer
	tr     *tiffReader
	levels []*Metadata
}

// Options tune how remote files are accessed.
type Options struct {
	Client    *fasthttp.Client
	Timeout   time.Duration
	ReadAhead int
}

// IsURL reports whether s should be opened through HTTP range requests.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Open opens a GeoTIFF from a file path or an http(s) URL. Only the
// directories are read; pixel data is fetched on demand.
func Open(pathOrURL string, opts Options) (*File, error) {
	if IsURL(pathOrURL) {
		rr, err := NewHTTPRangeReader(pathOrURL, opts.Client, opts.Timeout, opts.ReadAhead)
		if err != nil {
			return nil, err
		}
		return Read(rr)
	}

	f, err := os.Open(pathOrURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	gt, err := Read(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	gt.closer = f
	return gt, nil
}

// OpenBytes opens a GeoTIFF held in memory.
func OpenBytes(data []byte) (*File, error) {
	return Read(bytes.NewReader(data))
}

// Read reads the directory structure of a GeoTIFF from r.
func Read(r io.ReadSeeker) (*File, error) {
	tr, err := newTIFFReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create TIFF reader: %w", err)
	}

	f := &File{reader: r, tr: tr}
	for i := 0; i < tr.IFDCount(); i++ {
		ifd := tr.IFD(i)
		meta, err := parseMetadata(ifd)
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata for IFD %d: %w", i, err)
		}
		// Skip masks and anything that is not the main image or one of its
		// overviews.
		if i > 0 && (!meta.IsReducedImage || meta.Photometric == 4) {
			continue
		}
		f.levels = append(f.levels, meta)
	}

	return f, nil
}

// Close releases the underlying file, if any.
func (f *File) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// Level returns the metadata of an image level, or nil.
func (f *File) Level(level int) *Metadata {
	if level < 0 || level >= len(f.levels) {
		return nil
	}
	return f.levels[level]
}

// LevelCount returns the number of levels (1 + overviews).
func (f *File) LevelCount() int {
	return len(f.levels)
}

// Width returns the width of the main image in pixels.
func (f *File) Width() int { return f.levels[0].Width }

// Height returns the height of the main image in pixels.
func (f *File) Height() int { return f.levels[0].Height }

// BandCount returns the number of samples per pixel.
func (f *File) BandCount() int { return f.levels[0].Bands }

// CRS returns the coordinate reference system, e.g. "EPSG:4326".
func (f *File) CRS() string { return f.levels[0].CRS }

// Bounds returns the model-space bounds of the main image.
func (f *File) Bounds() orb.Bound { return f.levels[0].Bounds() }

// Georeferenced reports whether the main image carries a geotransform.
func (f *File) Georeferenced() bool { return f.levels[0].Georeferenced() }

// NoData returns the GDAL nodata value of the main image.
func (f *File) NoData() (float64, bool) {
	return f.levels[0].NoData, f.levels[0].HasNoData
}

// SelectLevel returns the smallest level that still has at least minPixels
// pixels, falling back to the main image.
func (f *File) SelectLevel(minPixels int) int {
	best := 0
	for i, m := range f.levels {
		if m.Width*m.Height >= minPixels {
			best = i
		}
	}
	return best
}
