package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/tiff/lzw"
	"golang.org/x/sync/errgroup"
)

// Window is a rectangle in the pixel space of one image level.
type Window struct {
	X, Y          int
	Width, Height int
}

// chunk is one strip or tile taking part in a window read.
type chunk struct {
	cx, cy int
	index  int
	data   []byte
	pooled bool
}

var (
	zstdOnce    sync.Once
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func sharedZstd() (*zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdDecoder, zstdErr
}

// ReadBand decodes one full band of an image level. Samples equal to the
// GDAL nodata value are returned as NaN.
func (f *File) ReadBand(level, band int) ([]float64, error) {
	m := f.Level(level)
	if m == nil {
		return nil, fmt.Errorf("invalid level: %d", level)
	}
	return f.ReadWindow(level, band, Window{Width: m.Width, Height: m.Height})
}

// ReadWindow decodes a rectangle of one band of an image level into a
// row-major float64 slice of win.Width*win.Height samples.
func (f *File) ReadWindow(level, band int, win Window) ([]float64, error) {
	m := f.Level(level)
	if m == nil {
		return nil, fmt.Errorf("invalid level: %d", level)
	}
	if band < 0 || band >= m.Bands {
		return nil, fmt.Errorf("invalid band %d (image has %d)", band, m.Bands)
	}
	if win.Width <= 0 || win.Height <= 0 {
		return nil, fmt.Errorf("window dimensions must be positive")
	}
	if win.X < 0 || win.Y < 0 || win.X+win.Width > m.Width || win.Y+win.Height > m.Height {
		return nil, fmt.Errorf("window %+v extends beyond image %dx%d", win, m.Width, m.Height)
	}

	offsets, counts, err := f.chunkLayout(m)
	if err != nil {
		return nil, err
	}

	across := (m.Width + m.ChunkWidth - 1) / m.ChunkWidth
	down := (m.Height + m.ChunkHeight - 1) / m.ChunkHeight
	planeOffset := 0
	if m.PlanarConfig == 2 {
		planeOffset = band * across * down
	}

	var chunks []*chunk
	for cy := win.Y / m.ChunkHeight; cy <= (win.Y+win.Height-1)/m.ChunkHeight; cy++ {
		for cx := win.X / m.ChunkWidth; cx <= (win.X+win.Width-1)/m.ChunkWidth; cx++ {
			chunks = append(chunks, &chunk{cx: cx, cy: cy, index: planeOffset + cy*across + cx})
		}
	}

	// Phase 1: fetch the compressed chunks sequentially; the reader is a
	// single seekable stream.
	if err := f.fetchChunks(chunks, offsets, counts); err != nil {
		return nil, err
	}
	defer func() {
		for _, c := range chunks {
			if c.pooled {
				putBuffer(c.data)
			}
		}
	}()

	out := make([]float64, win.Width*win.Height)

	// Phase 2: decompress and convert in parallel. Chunks cover disjoint
	// parts of out.
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			return f.decodeChunk(m, c, band, win, out)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// chunkLayout loads the strip or tile offset arrays of a level.
func (f *File) chunkLayout(m *Metadata) ([]uint64, []uint64, error) {
	offID, cntID := uint16(TagStripOffsets), uint16(TagStripByteCounts)
	if m.Tiled {
		offID, cntID = TagTileOffsets, TagTileByteCounts
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	offTag, cntTag := m.ifd.Tags[offID], m.ifd.Tags[cntID]
	if offTag == nil || cntTag == nil {
		return nil, nil, fmt.Errorf("missing chunk offsets or byte counts")
	}
	if err := f.tr.loadTag(offTag); err != nil {
		return nil, nil, fmt.Errorf("failed to read chunk offsets: %w", err)
	}
	if err := f.tr.loadTag(cntTag); err != nil {
		return nil, nil, fmt.Errorf("failed to read chunk byte counts: %w", err)
	}
	return offTag.Uints(), cntTag.Uints(), nil
}

func (f *File) fetchChunks(chunks []*chunk, offsets, counts []uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range chunks {
		if c.index >= len(offsets) || c.index >= len(counts) {
			return fmt.Errorf("chunk %d out of range (%d offsets)", c.index, len(offsets))
		}
		size := int(counts[c.index])
		if size == 0 || offsets[c.index] == 0 {
			// Sparse chunk, left empty.
			continue
		}
		c.data = getBuffer(size)
		c.pooled = true
		if _, err := f.reader.Seek(int64(offsets[c.index]), io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to chunk %d: %w", c.index, err)
		}
		if _, err := io.ReadFull(f.reader, c.data); err != nil {
			return fmt.Errorf("failed to read chunk %d: %w", c.index, err)
		}
	}
	return nil
}

// decodeChunk writes the part of a chunk that intersects win into out.
func (f *File) decodeChunk(m *Metadata, c *chunk, band int, win Window, out []float64) error {
	ox, oy := c.cx*m.ChunkWidth, c.cy*m.ChunkHeight
	x0, y0 := max(ox, win.X), max(oy, win.Y)
	x1, y1 := min(ox+m.ChunkWidth, win.X+win.Width), min(oy+m.ChunkHeight, win.Y+win.Height)

	if c.data == nil {
		for y := y0; y < y1; y++ {
			row := out[(y-win.Y)*win.Width:]
			for x := x0; x < x1; x++ {
				row[x-win.X] = math.NaN()
			}
		}
		return nil
	}

	spp, sample := m.Bands, band
	if m.PlanarConfig == 2 {
		spp, sample = 1, 0
	}
	rows := m.ChunkHeight
	if !m.Tiled && oy+rows > m.Height {
		rows = m.Height - oy
	}
	bps := m.BytesPerSample()
	rowBytes := m.ChunkWidth * spp * bps

	raw, err := decompress(c.data, m.Compression, rowBytes*rows)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", c.index, err)
	}
	bo := f.tr.byteOrder
	switch m.Predictor {
	case 1:
	case 2:
		undoHorizontal(raw, rowBytes, rows, spp, bps, bo)
	case 3:
		raw = undoFloatingPoint(raw, rowBytes, rows, spp, bps)
		bo = binary.LittleEndian
	default:
		return fmt.Errorf("unsupported predictor: %d", m.Predictor)
	}

	conv, err := sampleConverter(m, bo)
	if err != nil {
		return err
	}
	for y := y0; y < y1; y++ {
		src := raw[(y-oy)*rowBytes:]
		dst := out[(y-win.Y)*win.Width:]
		for x := x0; x < x1; x++ {
			dst[x-win.X] = conv(src[((x-ox)*spp+sample)*bps:])
		}
	}
	return nil
}

// decompress inflates a chunk to at least want bytes.
func decompress(data []byte, compression, want int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch compression {
	case CompressionNone:
		out = data
	case CompressionLZW:
		r := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		out, err = io.ReadAll(r)
		r.Close()
		if err != nil && len(out) < want {
			return nil, fmt.Errorf("failed to decompress LZW chunk: %w", err)
		}
	case CompressionDeflate, CompressionAdobe:
		r, zerr := zlib.NewReader(bytes.NewReader(data))
		if zerr != nil {
			return nil, fmt.Errorf("failed to decompress Deflate chunk: %w", zerr)
		}
		out, err = io.ReadAll(r)
		r.Close()
		if err != nil && len(out) < want {
			return nil, fmt.Errorf("failed to decompress Deflate chunk: %w", err)
		}
	case CompressionZSTD:
		dec, derr := sharedZstd()
		if derr != nil {
			return nil, derr
		}
		out, err = dec.DecodeAll(data, make([]byte, 0, want))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress ZSTD chunk: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported compression type: %d", compression)
	}

	if len(out) < want {
		return nil, fmt.Errorf("decompression produced insufficient data: got %d bytes, expected %d", len(out), want)
	}
	if compression == CompressionNone {
		// The caller's buffer is pooled; predictors modify in place.
		out = append([]byte(nil), out[:want]...)
	}
	return out[:want], nil
}

// undoHorizontal reverses TIFF predictor 2 in place.
func undoHorizontal(raw []byte, rowBytes, rows, spp, bps int, bo binary.ByteOrder) {
	stride := spp * bps
	for r := 0; r < rows; r++ {
		row := raw[r*rowBytes : (r+1)*rowBytes]
		for i := stride; i+bps <= len(row); i += bps {
			j := i - stride
			switch bps {
			case 1:
				row[i] += row[j]
			case 2:
				bo.PutUint16(row[i:], bo.Uint16(row[i:])+bo.Uint16(row[j:]))
			case 4:
				bo.PutUint32(row[i:], bo.Uint32(row[i:])+bo.Uint32(row[j:]))
			case 8:
				bo.PutUint64(row[i:], bo.Uint64(row[i:])+bo.Uint64(row[j:]))
			}
		}
	}
}

// undoFloatingPoint reverses TIFF predictor 3. Each row stores the bytes of
// its samples in planes ordered from most to least significant, byte-wise
// delta encoded. The result is little-endian.
func undoFloatingPoint(raw []byte, rowBytes, rows, spp, bps int) []byte {
	out := make([]byte, len(raw))
	words := rowBytes / bps
	for r := 0; r < rows; r++ {
		row := raw[r*rowBytes : (r+1)*rowBytes]
		for i := spp; i < len(row); i++ {
			row[i] += row[i-spp]
		}
		dst := out[r*rowBytes : (r+1)*rowBytes]
		for w := 0; w < words; w++ {
			for b := 0; b < bps; b++ {
				dst[w*bps+b] = row[(bps-b-1)*words+w]
			}
		}
	}
	return out
}

// sampleConverter returns a function decoding one sample to float64, with
// nodata mapped to NaN.
func sampleConverter(m *Metadata, bo binary.ByteOrder) (func([]byte) float64, error) {
	var conv func([]byte) float64
	switch {
	case m.SampleFormat == SampleFormatFloat && m.BitsPerSample == 32:
		conv = func(b []byte) float64 { return float64(math.Float32frombits(bo.Uint32(b))) }
	case m.SampleFormat == SampleFormatFloat && m.BitsPerSample == 64:
		conv = func(b []byte) float64 { return math.Float64frombits(bo.Uint64(b)) }
	case m.SampleFormat == SampleFormatInt && m.BitsPerSample == 8:
		conv = func(b []byte) float64 { return float64(int8(b[0])) }
	case m.SampleFormat == SampleFormatInt && m.BitsPerSample == 16:
		conv = func(b []byte) float64 { return float64(int16(bo.Uint16(b))) }
	case m.SampleFormat == SampleFormatInt && m.BitsPerSample == 32:
		conv = func(b []byte) float64 { return float64(int32(bo.Uint32(b))) }
	case m.SampleFormat == SampleFormatInt && m.BitsPerSample == 64:
		conv = func(b []byte) float64 { return float64(int64(bo.Uint64(b))) }
	case m.BitsPerSample == 8:
		conv = func(b []byte) float64 { return float64(b[0]) }
	case m.BitsPerSample == 16:
		conv = func(b []byte) float64 { return float64(bo.Uint16(b)) }
	case m.BitsPerSample == 32:
		conv = func(b []byte) float64 { return float64(bo.Uint32(b)) }
	case m.BitsPerSample == 64:
		conv = func(b []byte) float64 { return float64(bo.Uint64(b)) }
	default:
		return nil, fmt.Errorf("unsupported sample layout: format %d, %d bits", m.SampleFormat, m.BitsPerSample)
	}

	if !m.HasNoData {
		return conv, nil
	}
	noData := m.NoData
	if m.SampleFormat == SampleFormatFloat && m.BitsPerSample == 32 {
		noData = float64(float32(noData))
	}
	if math.IsNaN(noData) {
		return conv, nil
	}
	return func(b []byte) float64 {
		v := conv(b)
		if v == noData {
			return math.NaN()
		}
		return v
	}, nil
}
