package geotiff

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// createSimpleTIFF creates a minimal valid TIFF file for testing
func createSimpleTIFF(bo binary.ByteOrder) []byte {
	var buf bytes.Buffer

	magic := uint16(tiffMagicLE)
	if bo == binary.BigEndian {
		magic = tiffMagicBE
	}
	binary.Write(&buf, binary.LittleEndian, magic)
	binary.Write(&buf, bo, uint16(42)) // Version
	binary.Write(&buf, bo, uint32(8))  // First IFD offset

	// IFD: 2 tags
	binary.Write(&buf, bo, uint16(2))

	// Tag: ImageWidth (256) = 100
	binary.Write(&buf, bo, uint16(256))
	binary.Write(&buf, bo, uint16(FTLong))
	binary.Write(&buf, bo, uint32(1))
	binary.Write(&buf, bo, uint32(100))

	// Tag: BitsPerSample (258) = 32, SHORT stored left-justified
	binary.Write(&buf, bo, uint16(258))
	binary.Write(&buf, bo, uint16(FTShort))
	binary.Write(&buf, bo, uint32(1))
	binary.Write(&buf, bo, uint16(32))
	binary.Write(&buf, bo, uint16(0))

	// Next IFD offset (0 = no more IFDs)
	binary.Write(&buf, bo, uint32(0))

	return buf.Bytes()
}

func TestTIFFReader(t *testing.T) {
	for _, bo := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(bo.String(), func(t *testing.T) {
			tr, err := newTIFFReader(bytes.NewReader(createSimpleTIFF(bo)))
			if err != nil {
				t.Fatalf("Failed to create TIFF reader: %v", err)
			}
			if tr.IFDCount() != 1 {
				t.Errorf("Expected 1 IFD, got %d", tr.IFDCount())
			}

			ifd := tr.IFD(0)
			if ifd == nil {
				t.Fatal("IFD 0 is nil")
			}
			if got := ifd.uintTag(TagImageWidth, 0); got != 100 {
				t.Errorf("Expected width 100, got %d", got)
			}
			if got := ifd.uintTag(TagBitsPerSample, 0); got != 32 {
				t.Errorf("Expected 32 bits per sample, got %d", got)
			}
			if got := ifd.uintTag(TagImageLength, 7); got != 7 {
				t.Errorf("Expected default 7 for missing tag, got %d", got)
			}
			if tr.IFD(1) != nil {
				t.Error("Expected nil for out of range IFD")
			}
		})
	}
}

func TestTIFFReaderInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte{'X', 'X', 42, 0, 8, 0, 0, 0}},
		{"bad version", []byte{'I', 'I', 43, 0, 8, 0, 0, 0}},
		{"no IFD", []byte{'I', 'I', 42, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newTIFFReader(bytes.NewReader(tt.data)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestTIFFReaderIFDLoop(t *testing.T) {
	data := createSimpleTIFF(binary.LittleEndian)
	// Point the next IFD back at the first one.
	binary.LittleEndian.PutUint32(data[len(data)-4:], 8)

	if _, err := newTIFFReader(bytes.NewReader(data)); err == nil {
		t.Error("Expected error for IFD loop")
	}
}

func TestTagConversions(t *testing.T) {
	tag := &Tag{Value: []int64{-1, 2}}
	if f := tag.Floats(); len(f) != 2 || f[0] != -1 || f[1] != 2 {
		t.Errorf("Floats() = %v", f)
	}
	tag = &Tag{Value: "4326"}
	if tag.String() != "4326" || tag.Uints() != nil {
		t.Errorf("unexpected ASCII conversions: %q %v", tag.String(), tag.Uints())
	}
}

func TestParseEPSGCode(t *testing.T) {
	code, err := ParseEPSGCode("EPSG:3857")
	if err != nil || code != 3857 {
		t.Errorf("ParseEPSGCode() = %d, %v", code, err)
	}
	if _, err := ParseEPSGCode("WGS84"); err == nil {
		t.Error("Expected error for non-EPSG CRS")
	}
}
