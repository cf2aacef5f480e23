// Package tifftest builds small float32 GeoTIFFs in memory for tests.
package tifftest

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"github.com/klauspost/compress/zlib"
)

const (
	CompressionNone    = 1
	CompressionDeflate = 8
)

// Image describes one float32 image. Overviews are written as reduced
// resolution IFDs following the main image.
type Image struct {
	Width, Height int
	Bands         [][]float32 // one slice of Width*Height samples per band

	RowsPerStrip int // strip layout, defaults to Height
	TileSize     int // tiled layout when > 0
	Compression  int // CompressionNone or CompressionDeflate

	NoData     string // GDAL_NODATA tag, omitted when empty
	PixelScale [3]float64
	TiePoint   [6]float64
	EPSG       int  // written as GeographicTypeGeoKey unless Projected
	Projected  bool // write EPSG as ProjectedCSTypeGeoKey

	BigEndian bool // main image only
	Overviews []*Image
}

// Fill returns a single band of w*h samples where fn computes each value.
func Fill(w, h int, fn func(x, y int) float32) []float32 {
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = fn(x, y)
		}
	}
	return out
}

type entry struct {
	id    uint16
	typ   uint16
	count uint32
	value []byte
}

type writer struct {
	buf bytes.Buffer
	bo  binary.ByteOrder
}

// Encode serializes img and its overviews into a classic TIFF.
func (img *Image) Encode() []byte {
	w := &writer{bo: binary.LittleEndian}
	magic := []byte("II")
	if img.BigEndian {
		w.bo = binary.BigEndian
		magic = []byte("MM")
	}
	w.buf.Write(magic)
	w.u16(42)
	w.u32(0) // first IFD, patched below

	prevNext := 4
	for i, im := range append([]*Image{img}, img.Overviews...) {
		ifdOff, nextPos := w.image(im, i > 0)
		w.bo.PutUint32(w.buf.Bytes()[prevNext:], uint32(ifdOff))
		prevNext = nextPos
	}
	return w.buf.Bytes()
}

func (w *writer) u16(v uint16) {
	var b [2]byte
	w.bo.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	w.bo.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) align() {
	for w.buf.Len()%4 != 0 {
		w.buf.WriteByte(0)
	}
}

func (w *writer) shorts(v ...uint16) []byte {
	out := make([]byte, 2*len(v))
	for i, x := range v {
		w.bo.PutUint16(out[i*2:], x)
	}
	return out
}

func (w *writer) longs(v ...uint32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		w.bo.PutUint32(out[i*4:], x)
	}
	return out
}

func (w *writer) doubles(v ...float64) []byte {
	out := make([]byte, 8*len(v))
	for i, x := range v {
		w.bo.PutUint64(out[i*8:], math.Float64bits(x))
	}
	return out
}

// image writes pixel data, out-of-line values and the IFD of one image. It
// returns the IFD offset and the position of its next-IFD pointer.
func (w *writer) image(img *Image, reduced bool) (int, int) {
	spp := len(img.Bands)
	cw, ch := img.Width, img.RowsPerStrip
	if ch <= 0 || ch > img.Height {
		ch = img.Height
	}
	if img.TileSize > 0 {
		cw, ch = img.TileSize, img.TileSize
	}
	across := (img.Width + cw - 1) / cw
	down := (img.Height + ch - 1) / ch

	var offsets, counts []uint32
	for cy := 0; cy < down; cy++ {
		for cx := 0; cx < across; cx++ {
			rows := ch
			if img.TileSize == 0 && (cy+1)*ch > img.Height {
				rows = img.Height - cy*ch
			}
			raw := make([]byte, cw*rows*spp*4)
			for y := 0; y < rows; y++ {
				for x := 0; x < cw; x++ {
					px, py := cx*cw+x, cy*ch+y
					if px >= img.Width || py >= img.Height {
						continue
					}
					for b := 0; b < spp; b++ {
						bits := math.Float32bits(img.Bands[b][py*img.Width+px])
						w.bo.PutUint32(raw[((y*cw+x)*spp+b)*4:], bits)
					}
				}
			}
			if img.Compression == CompressionDeflate {
				var zb bytes.Buffer
				zw := zlib.NewWriter(&zb)
				zw.Write(raw)
				zw.Close()
				raw = zb.Bytes()
			}
			w.align()
			offsets = append(offsets, uint32(w.buf.Len()))
			counts = append(counts, uint32(len(raw)))
			w.buf.Write(raw)
		}
	}

	compression := img.Compression
	if compression == 0 {
		compression = CompressionNone
	}
	bits := make([]uint16, spp)
	formats := make([]uint16, spp)
	for i := range bits {
		bits[i], formats[i] = 32, 3
	}

	entries := []entry{
		{256, 4, 1, w.longs(uint32(img.Width))},
		{257, 4, 1, w.longs(uint32(img.Height))},
		{258, 3, uint32(spp), w.shorts(bits...)},
		{259, 3, 1, w.shorts(uint16(compression))},
		{262, 3, 1, w.shorts(1)},
		{277, 3, 1, w.shorts(uint16(spp))},
		{284, 3, 1, w.shorts(1)},
		{339, 3, uint32(spp), w.shorts(formats...)},
	}
	if reduced {
		entries = append(entries, entry{254, 4, 1, w.longs(1)})
	}
	if img.TileSize > 0 {
		entries = append(entries,
			entry{322, 3, 1, w.shorts(uint16(cw))},
			entry{323, 3, 1, w.shorts(uint16(ch))},
			entry{324, 4, uint32(len(offsets)), w.longs(offsets...)},
			entry{325, 4, uint32(len(counts)), w.longs(counts...)},
		)
	} else {
		entries = append(entries,
			entry{273, 4, uint32(len(offsets)), w.longs(offsets...)},
			entry{278, 4, 1, w.longs(uint32(ch))},
			entry{279, 4, uint32(len(counts)), w.longs(counts...)},
		)
	}
	if img.PixelScale != [3]float64{} {
		entries = append(entries, entry{33550, 12, 3, w.doubles(img.PixelScale[:]...)})
		entries = append(entries, entry{33922, 12, 6, w.doubles(img.TiePoint[:]...)})
	}
	if img.EPSG != 0 {
		modelType, key := uint16(1), uint16(2048)
		if img.Projected {
			modelType, key = 2, 3072
		}
		keys := w.shorts(1, 1, 0, 2, 1024, 0, 1, modelType, key, 0, 1, uint16(img.EPSG))
		entries = append(entries, entry{34735, 3, 12, keys})
	}
	if img.NoData != "" {
		s := append([]byte(img.NoData), 0)
		entries = append(entries, entry{42113, 2, uint32(len(s)), s})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	// Out-of-line values.
	valueOffsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.value) > 4 {
			w.align()
			valueOffsets[i] = uint32(w.buf.Len())
			w.buf.Write(e.value)
		}
	}

	w.align()
	ifdOff := w.buf.Len()
	w.u16(uint16(len(entries)))
	for i, e := range entries {
		w.u16(e.id)
		w.u16(e.typ)
		w.u32(e.count)
		if len(e.value) > 4 {
			w.u32(valueOffsets[i])
			continue
		}
		var inline [4]byte
		copy(inline[:], e.value)
		w.buf.Write(inline[:])
	}
	nextPos := w.buf.Len()
	w.u32(0)
	return ifdOff, nextPos
}
