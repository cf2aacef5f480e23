package geotiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// TIFF constants
const (
	tiffMagicLE = 0x4949 // "II" little-endian
	tiffMagicBE = 0x4D4D // "MM" big-endian
	tiffVersion = 42

	// ifdPrefetchSize is read in one go after each IFD so that the tag values
	// stored behind it do not cost one range request each.
	ifdPrefetchSize = 16 * 1024
)

// Compression types
const (
	CompressionNone    = 1
	CompressionLZW     = 5
	CompressionDeflate = 8
	CompressionAdobe   = 32946 // old-style deflate code
	CompressionZSTD    = 50000
)

// Baseline and extension tag IDs used by the reader.
const (
	TagImageWidth      = 256
	TagImageLength     = 257
	TagBitsPerSample   = 258
	TagCompression     = 259
	TagPhotometric     = 262
	TagStripOffsets    = 273
	TagSamplesPerPixel = 277
	TagRowsPerStrip    = 278
	TagStripByteCounts = 279
	TagPlanarConfig    = 284
	TagPredictor       = 317
	TagTileWidth       = 322
	TagTileLength      = 323
	TagTileOffsets     = 324
	TagTileByteCounts  = 325
	TagSampleFormat    = 339
	TagGDALNoData      = 42113
)

// FieldType is the TIFF field type of a tag value.
type FieldType uint16

const (
	FTByte      FieldType = 1
	FTASCII     FieldType = 2
	FTShort     FieldType = 3
	FTLong      FieldType = 4
	FTRational  FieldType = 5
	FTSByte     FieldType = 6
	FTUndefined FieldType = 7
	FTSShort    FieldType = 8
	FTSLong     FieldType = 9
	FTSRational FieldType = 10
	FTFloat     FieldType = 11
	FTDouble    FieldType = 12
)

func (ft FieldType) size() uint32 {
	switch ft {
	case FTShort, FTSShort:
		return 2
	case FTLong, FTSLong, FTFloat:
		return 4
	case FTRational, FTSRational, FTDouble:
		return 8
	default:
		return 1
	}
}

// Tag is a single IFD entry. Values are decoded into one of
// []uint64, []int64, []float64 or string. Large offset arrays are left
// unloaded until they are needed.
type Tag struct {
	ID     uint16
	Type   FieldType
	Count  uint32
	Offset uint32
	Value  interface{}
	loaded bool
}

// Uints returns the tag value as unsigned integers.
func (t *Tag) Uints() []uint64 {
	switch v := t.Value.(type) {
	case []uint64:
		return v
	case []int64:
		out := make([]uint64, len(v))
		for i, x := range v {
			out[i] = uint64(x)
		}
		return out
	}
	return nil
}

// Floats returns the tag value as floating point numbers.
func (t *Tag) Floats() []float64 {
	switch v := t.Value.(type) {
	case []float64:
		return v
	case []uint64:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out
	case []int64:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out
	}
	return nil
}

// String returns an ASCII tag value.
func (t *Tag) String() string {
	if s, ok := t.Value.(string); ok {
		return s
	}
	return ""
}

// IFD is an Image File Directory.
type IFD struct {
	Offset  uint32
	Tags    map[uint16]*Tag
	NextIFD uint32
}

// uintTag returns the first unsigned value of a tag, or def when absent.
func (ifd *IFD) uintTag(id uint16, def uint64) uint64 {
	if tag := ifd.Tags[id]; tag != nil {
		if v := tag.Uints(); len(v) > 0 {
			return v[0]
		}
	}
	return def
}

// tiffReader walks the IFD chain of a classic (non-Big) TIFF.
type tiffReader struct {
	r         io.ReadSeeker
	byteOrder binary.ByteOrder
	ifds      []*IFD
}

func newTIFFReader(r io.ReadSeeker) (*tiffReader, error) {
	tr := &tiffReader{r: r}

	header := make([]byte, 8)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to TIFF header: %w", err)
	}
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read TIFF header: %w", err)
	}

	switch magic := binary.LittleEndian.Uint16(header[0:2]); magic {
	case tiffMagicLE:
		tr.byteOrder = binary.LittleEndian
	case tiffMagicBE:
		tr.byteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid TIFF magic: 0x%04x", magic)
	}

	if version := tr.byteOrder.Uint16(header[2:4]); version != tiffVersion {
		return nil, fmt.Errorf("invalid TIFF version: %d", version)
	}

	seen := make(map[uint32]bool)
	for offset := tr.byteOrder.Uint32(header[4:8]); offset != 0; {
		if seen[offset] {
			return nil, fmt.Errorf("IFD loop at offset %d", offset)
		}
		seen[offset] = true

		ifd, err := tr.readIFD(offset)
		if err != nil {
			return nil, fmt.Errorf("failed to read IFD at %d: %w", offset, err)
		}
		tr.ifds = append(tr.ifds, ifd)
		offset = ifd.NextIFD
	}
	if len(tr.ifds) == 0 {
		return nil, fmt.Errorf("TIFF contains no IFD")
	}

	return tr, nil
}

// readIFD reads one directory. A single prefetch buffer starting at the IFD
// covers the entries and, for typical COG layouts, the values they point to.
func (tr *tiffReader) readIFD(offset uint32) (*IFD, error) {
	if _, err := tr.r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, ifdPrefetchSize)
	n, err := io.ReadFull(tr.r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	buf = buf[:n]
	if len(buf) < 2 {
		return nil, fmt.Errorf("truncated IFD")
	}

	count := int(tr.byteOrder.Uint16(buf[0:2]))
	size := 2 + count*12 + 4
	if size > len(buf) {
		// Directory larger than the prefetch window.
		more := make([]byte, size)
		if _, err := tr.r.Seek(int64(offset), io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(tr.r, more); err != nil {
			return nil, err
		}
		buf = more
	}

	ifd := &IFD{Offset: offset, Tags: make(map[uint16]*Tag, count)}
	for i := 0; i < count; i++ {
		e := buf[2+i*12 : 2+(i+1)*12]
		tag := &Tag{
			ID:     tr.byteOrder.Uint16(e[0:2]),
			Type:   FieldType(tr.byteOrder.Uint16(e[2:4])),
			Count:  tr.byteOrder.Uint32(e[4:8]),
			Offset: tr.byteOrder.Uint32(e[8:12]),
		}
		ifd.Tags[tag.ID] = tag

		// Offset arrays can hold hundreds of thousands of entries on large
		// COGs; load them only when pixel data is requested.
		if isChunkArray(tag.ID) {
			continue
		}

		valueSize := tag.Type.size() * tag.Count
		if valueSize <= 4 {
			tag.Value = tr.decode(tag, e[8:12])
			tag.loaded = true
			continue
		}

		rel := int64(tag.Offset) - int64(offset)
		if rel >= 0 && rel+int64(valueSize) <= int64(len(buf)) {
			tag.Value = tr.decode(tag, buf[rel:rel+int64(valueSize)])
			tag.loaded = true
			continue
		}
		if err := tr.loadTag(tag); err != nil {
			return nil, fmt.Errorf("failed to read tag %d: %w", tag.ID, err)
		}
	}
	ifd.NextIFD = tr.byteOrder.Uint32(buf[2+count*12 : size])

	return ifd, nil
}

func isChunkArray(id uint16) bool {
	return id == TagStripOffsets || id == TagStripByteCounts ||
		id == TagTileOffsets || id == TagTileByteCounts
}

// loadTag reads a tag value stored at its offset.
func (tr *tiffReader) loadTag(tag *Tag) error {
	if tag.loaded {
		return nil
	}
	valueSize := tag.Type.size() * tag.Count
	if valueSize <= 4 {
		raw := make([]byte, 4)
		tr.byteOrder.PutUint32(raw, tag.Offset)
		tag.Value = tr.decode(tag, raw)
		tag.loaded = true
		return nil
	}

	raw := make([]byte, valueSize)
	if _, err := tr.r.Seek(int64(tag.Offset), io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(tr.r, raw); err != nil {
		return err
	}
	tag.Value = tr.decode(tag, raw)
	tag.loaded = true
	return nil
}

// decode converts the raw bytes of a tag into a Go value.
func (tr *tiffReader) decode(tag *Tag, raw []byte) interface{} {
	n := int(tag.Count)
	bo := tr.byteOrder

	switch tag.Type {
	case FTASCII:
		if n > len(raw) {
			n = len(raw)
		}
		s := raw[:n]
		for len(s) > 0 && s[len(s)-1] == 0 {
			s = s[:len(s)-1]
		}
		return string(s)
	case FTByte, FTUndefined:
		out := make([]uint64, n)
		for i := range out {
			out[i] = uint64(raw[i])
		}
		return out
	case FTShort:
		out := make([]uint64, n)
		for i := range out {
			out[i] = uint64(bo.Uint16(raw[i*2:]))
		}
		return out
	case FTLong:
		out := make([]uint64, n)
		for i := range out {
			out[i] = uint64(bo.Uint32(raw[i*4:]))
		}
		return out
	case FTSByte:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(int8(raw[i]))
		}
		return out
	case FTSShort:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(int16(bo.Uint16(raw[i*2:])))
		}
		return out
	case FTSLong:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(int32(bo.Uint32(raw[i*4:])))
		}
		return out
	case FTFloat:
		out := make([]float64, n)
		for i := range out {
			out[i] = float64(math.Float32frombits(bo.Uint32(raw[i*4:])))
		}
		return out
	case FTDouble:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(bo.Uint64(raw[i*8:]))
		}
		return out
	case FTRational, FTSRational:
		out := make([]float64, n)
		for i := range out {
			num, den := bo.Uint32(raw[i*8:]), bo.Uint32(raw[i*8+4:])
			if den == 0 {
				continue
			}
			if tag.Type == FTSRational {
				out[i] = float64(int32(num)) / float64(int32(den))
			} else {
				out[i] = float64(num) / float64(den)
			}
		}
		return out
	}
	return nil
}

// IFDCount returns the number of IFDs (main image + overviews + masks).
func (tr *tiffReader) IFDCount() int {
	return len(tr.ifds)
}

// IFD returns the IFD at the specified index (0 = main image).
func (tr *tiffReader) IFD(index int) *IFD {
	if index < 0 || index >= len(tr.ifds) {
		return nil
	}
	return tr.ifds[index]
}
