package geotiff

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// GeoTIFF tag IDs
const (
	TagModelPixelScale     = 33550
	TagModelTiepoint       = 33922
	TagModelTransformation = 34264
	TagGeoKeyDirectory     = 34735
	TagGeoDoubleParams     = 34736
	TagGeoAsciiParams      = 34737
)

// GeoKeys
const (
	GTModelTypeGeoKey     = 1024
	GTModelTypeGeographic = 1
	GTModelTypeProjected  = 2

	GeographicTypeGeoKey  = 2048
	ProjectedCSTypeGeoKey = 3072
)

// SampleFormat values
const (
	SampleFormatUint  = 1
	SampleFormatInt   = 2
	SampleFormatFloat = 3
)

// Metadata describes one image (main image or overview) of a GeoTIFF.
type Metadata struct {
	Width           int
	Height          int
	Bands           int
	BitsPerSample   int
	SampleFormat    int
	Compression     int
	Predictor       int
	PlanarConfig    int
	Photometric     int
	Tiled           bool
	ChunkWidth      int // tile width, or image width for strips
	ChunkHeight     int // tile height, or rows per strip
	PixelScale      [3]float64
	TiePoints       []TiePoint
	Transformation  [16]float64
	GeoKeys         map[uint16]interface{}
	CRS             string
	NoData          float64
	HasNoData       bool
	IsReducedImage  bool
	ifd             *IFD
	hasTransform    bool
	geoDoubleParams []float64
}

// TiePoint represents a georeferencing tie point
type TiePoint struct {
	PixelX, PixelY, PixelZ float64
	GeoX, GeoY, GeoZ       float64
}

// BytesPerSample returns the storage size of a single sample.
func (m *Metadata) BytesPerSample() int {
	return (m.BitsPerSample + 7) / 8
}

// parseMetadata extracts the image structure and georeferencing of an IFD.
func parseMetadata(ifd *IFD) (*Metadata, error) {
	m := &Metadata{
		Width:         int(ifd.uintTag(TagImageWidth, 0)),
		Height:        int(ifd.uintTag(TagImageLength, 0)),
		Bands:         int(ifd.uintTag(TagSamplesPerPixel, 1)),
		BitsPerSample: int(ifd.uintTag(TagBitsPerSample, 8)),
		SampleFormat:  int(ifd.uintTag(TagSampleFormat, SampleFormatUint)),
		Compression:   int(ifd.uintTag(TagCompression, CompressionNone)),
		Predictor:     int(ifd.uintTag(TagPredictor, 1)),
		PlanarConfig:  int(ifd.uintTag(TagPlanarConfig, 1)),
		Photometric:   int(ifd.uintTag(TagPhotometric, 1)),
		GeoKeys:       make(map[uint16]interface{}),
		ifd:           ifd,
	}
	m.IsReducedImage = ifd.uintTag(254, 0)&1 == 1 // NewSubfileType

	if m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", m.Width, m.Height)
	}
	switch m.BitsPerSample {
	case 8, 16, 32, 64:
	default:
		return nil, fmt.Errorf("unsupported BitsPerSample: %d", m.BitsPerSample)
	}

	if ifd.Tags[TagTileOffsets] != nil {
		m.Tiled = true
		m.ChunkWidth = int(ifd.uintTag(TagTileWidth, 256))
		m.ChunkHeight = int(ifd.uintTag(TagTileLength, 256))
	} else if ifd.Tags[TagStripOffsets] != nil {
		m.ChunkWidth = m.Width
		m.ChunkHeight = int(ifd.uintTag(TagRowsPerStrip, uint64(m.Height)))
		if m.ChunkHeight > m.Height {
			m.ChunkHeight = m.Height
		}
	} else {
		return nil, fmt.Errorf("image is neither tiled nor stripped")
	}
	if m.ChunkWidth <= 0 || m.ChunkHeight <= 0 {
		return nil, fmt.Errorf("invalid chunk size %dx%d", m.ChunkWidth, m.ChunkHeight)
	}

	if tag := ifd.Tags[TagModelPixelScale]; tag != nil {
		if v := tag.Floats(); len(v) >= 3 {
			copy(m.PixelScale[:], v[:3])
		}
	}
	if tag := ifd.Tags[TagModelTiepoint]; tag != nil {
		m.TiePoints = parseTiePoints(tag.Floats())
	}
	if tag := ifd.Tags[TagModelTransformation]; tag != nil {
		if v := tag.Floats(); len(v) >= 16 {
			copy(m.Transformation[:], v[:16])
			m.hasTransform = true
		}
	}

	if tag := ifd.Tags[TagGDALNoData]; tag != nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(tag.String()), 64); err == nil {
			m.NoData = v
			m.HasNoData = true
		}
	}

	if err := m.readGeoKeys(ifd); err != nil {
		return nil, fmt.Errorf("failed to read GeoKeys: %w", err)
	}
	m.CRS = m.determineCRS()

	return m, nil
}

func parseTiePoints(values []float64) []TiePoint {
	tiePoints := make([]TiePoint, 0, len(values)/6)
	for i := 0; i+5 < len(values); i += 6 {
		tiePoints = append(tiePoints, TiePoint{
			PixelX: values[i],
			PixelY: values[i+1],
			PixelZ: values[i+2],
			GeoX:   values[i+3],
			GeoY:   values[i+4],
			GeoZ:   values[i+5],
		})
	}
	return tiePoints
}

// readGeoKeys parses the GeoKey directory (4 SHORTs per key after a 4 SHORT header).
func (m *Metadata) readGeoKeys(ifd *IFD) error {
	tag := ifd.Tags[TagGeoKeyDirectory]
	if tag == nil {
		return nil
	}
	keys := tag.Uints()
	if len(keys) < 4 {
		return fmt.Errorf("GeoKeyDirectory too short")
	}

	if t := ifd.Tags[TagGeoDoubleParams]; t != nil {
		m.geoDoubleParams = t.Floats()
	}
	var ascii string
	if t := ifd.Tags[TagGeoAsciiParams]; t != nil {
		ascii = t.String()
	}

	numKeys := int(keys[3])
	for i := 4; i+3 < len(keys) && (i-4)/4 < numKeys; i += 4 {
		id, location, count, value := uint16(keys[i]), keys[i+1], int(keys[i+2]), int(keys[i+3])

		switch location {
		case 0:
			m.GeoKeys[id] = uint16(value)
		case TagGeoDoubleParams:
			if value+count <= len(m.geoDoubleParams) && count > 0 {
				if count == 1 {
					m.GeoKeys[id] = m.geoDoubleParams[value]
				} else {
					m.GeoKeys[id] = m.geoDoubleParams[value : value+count]
				}
			}
		case TagGeoAsciiParams:
			if value < len(ascii) {
				end := value + count - 1 // drop the '|' terminator
				if end > len(ascii) {
					end = len(ascii)
				}
				if end > value {
					m.GeoKeys[id] = ascii[value:end]
				}
			}
		}
	}
	return nil
}

func (m *Metadata) determineCRS() string {
	if code, ok := m.GeoKeys[ProjectedCSTypeGeoKey].(uint16); ok && code != 0 && code != 32767 {
		return fmt.Sprintf("EPSG:%d", code)
	}
	if code, ok := m.GeoKeys[GeographicTypeGeoKey].(uint16); ok && code != 0 && code != 32767 {
		return fmt.Sprintf("EPSG:%d", code)
	}
	return ""
}

// Georeferenced reports whether the image carries an affine model.
func (m *Metadata) Georeferenced() bool {
	return m.hasTransform || (len(m.TiePoints) > 0 && m.PixelScale[0] != 0)
}

// PixelToGeo converts pixel coordinates to model coordinates.
func (m *Metadata) PixelToGeo(pixelX, pixelY float64) (float64, float64) {
	if m.hasTransform {
		t := m.Transformation
		return t[0]*pixelX + t[1]*pixelY + t[3], t[4]*pixelX + t[5]*pixelY + t[7]
	}
	if len(m.TiePoints) > 0 && m.PixelScale[0] != 0 {
		tp := m.TiePoints[0]
		return tp.GeoX + (pixelX-tp.PixelX)*m.PixelScale[0],
			tp.GeoY - (pixelY-tp.PixelY)*m.PixelScale[1] // Y grows downwards in pixel space
	}
	return pixelX, pixelY
}

// Bounds returns the model-space bounding box of the image.
func (m *Metadata) Bounds() orb.Bound {
	w, h := float64(m.Width), float64(m.Height)
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, c := range [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := m.PixelToGeo(c[0], c[1])
		b = b.Extend(orb.Point{x, y})
	}
	return b
}

// ParseEPSGCode extracts EPSG code from CRS string
func ParseEPSGCode(crs string) (int, error) {
	if strings.HasPrefix(crs, "EPSG:") {
		return strconv.Atoi(crs[5:])
	}
	return 0, fmt.Errorf("invalid CRS format: %s", crs)
}
