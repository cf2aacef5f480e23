package geotiff

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// DefaultTileSize is the edge length of a map tile in pixels.
const DefaultTileSize = 256

// GeoToPixel converts model coordinates to pixel coordinates of the main
// image. Rotated geotransforms are not supported.
func (m *Metadata) GeoToPixel(geoX, geoY float64) (float64, float64) {
	if m.hasTransform {
		t := m.Transformation
		if t[0] == 0 || t[5] == 0 {
			return math.NaN(), math.NaN()
		}
		return (geoX - t[3]) / t[0], (geoY - t[7]) / t[5]
	}
	if len(m.TiePoints) > 0 && m.PixelScale[0] != 0 && m.PixelScale[1] != 0 {
		tp := m.TiePoints[0]
		return (geoX-tp.GeoX)/m.PixelScale[0] + tp.PixelX,
			(tp.GeoY-geoY)/m.PixelScale[1] + tp.PixelY
	}
	return geoX, geoY
}

// ReadTile samples one band of the file onto a web map tile of size×size
// pixels using nearest-neighbour lookup. The overview closest to the tile
// resolution is used. Pixels outside the image are NaN. The file must be in
// EPSG:4326 or EPSG:3857.
func (f *File) ReadTile(tile maptile.Tile, band, size int) ([]float64, orb.Bound, error) {
	if size <= 0 {
		size = DefaultTileSize
	}
	main := f.levels[0]

	tileBounds := tile.Bound()
	var geoBounds orb.Bound
	switch f.CRS() {
	case "EPSG:4326":
		geoBounds = tileBounds
	case "EPSG:3857":
		geoBounds = wgs84ToMercator(tileBounds)
	default:
		return nil, tileBounds, fmt.Errorf("unsupported CRS: %q (only EPSG:4326 and EPSG:3857 are supported)", f.CRS())
	}

	// Tile footprint in main image pixels.
	px0, py0 := main.GeoToPixel(geoBounds.Min[0], geoBounds.Max[1])
	px1, py1 := main.GeoToPixel(geoBounds.Max[0], geoBounds.Min[1])
	if math.IsNaN(px0) || math.IsNaN(px1) {
		return nil, tileBounds, fmt.Errorf("image geotransform cannot be inverted")
	}

	out := make([]float64, size*size)
	for i := range out {
		out[i] = math.NaN()
	}

	level := f.tileLevel(math.Abs(px1-px0), size)
	m := f.levels[level]
	sx := float64(m.Width) / float64(main.Width)
	sy := float64(m.Height) / float64(main.Height)

	win := Window{
		X: clampInt(int(math.Floor(math.Min(px0, px1)*sx)), 0, m.Width),
		Y: clampInt(int(math.Floor(math.Min(py0, py1)*sy)), 0, m.Height),
	}
	win.Width = clampInt(int(math.Ceil(math.Max(px0, px1)*sx)), 0, m.Width) - win.X
	win.Height = clampInt(int(math.Ceil(math.Max(py0, py1)*sy)), 0, m.Height) - win.Y
	if win.Width <= 0 || win.Height <= 0 {
		// Tile does not intersect the image.
		return out, tileBounds, nil
	}

	data, err := f.ReadWindow(level, band, win)
	if err != nil {
		return nil, tileBounds, fmt.Errorf("failed to read tile window: %w", err)
	}

	dx := (geoBounds.Max[0] - geoBounds.Min[0]) / float64(size)
	dy := (geoBounds.Max[1] - geoBounds.Min[1]) / float64(size)
	for j := 0; j < size; j++ {
		gy := geoBounds.Max[1] - (float64(j)+0.5)*dy
		for i := 0; i < size; i++ {
			gx := geoBounds.Min[0] + (float64(i)+0.5)*dx
			x, y := main.GeoToPixel(gx, gy)
			lx := int(math.Floor(x*sx)) - win.X
			ly := int(math.Floor(y*sy)) - win.Y
			if lx < 0 || ly < 0 || lx >= win.Width || ly >= win.Height {
				continue
			}
			out[j*size+i] = data[ly*win.Width+lx]
		}
	}

	return out, tileBounds, nil
}

// tileLevel picks the smallest level that still resolves footprint main
// image pixels into at least size output pixels.
func (f *File) tileLevel(footprint float64, size int) int {
	main := f.levels[0]
	best := 0
	for i, m := range f.levels {
		scale := float64(m.Width) / float64(main.Width)
		if footprint*scale >= float64(size) {
			best = i
		}
	}
	return best
}

// TilesCovering lists the map tiles at zoom z that intersect the image.
func (f *File) TilesCovering(z maptile.Zoom) ([]maptile.Tile, error) {
	b := f.Bounds()
	switch f.CRS() {
	case "EPSG:4326":
	case "EPSG:3857":
		b = mercatorToWGS84(b)
	default:
		return nil, fmt.Errorf("unsupported CRS: %q", f.CRS())
	}
	const maxLat = 85.05112877980659
	b.Min[1], b.Max[1] = math.Max(b.Min[1], -maxLat), math.Min(b.Max[1], maxLat)
	if b.Min[1] >= b.Max[1] {
		return nil, nil
	}
	minT := maptile.At(orb.Point{b.Min[0], b.Max[1]}, z)
	maxT := maptile.At(orb.Point{b.Max[0], b.Min[1]}, z)
	last := uint32(1)<<uint32(z) - 1
	maxT.X, maxT.Y = min(maxT.X, last), min(maxT.Y, last)

	var tiles []maptile.Tile
	for y := minT.Y; y <= maxT.Y; y++ {
		for x := minT.X; x <= maxT.X; x++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// mercatorToWGS84 projects EPSG:3857 bounds back to lon/lat.
func mercatorToWGS84(bound orb.Bound) orb.Bound {
	const maxMercator = 20037508.342789244

	minLon := bound.Min[0] / maxMercator * 180.0
	maxLon := bound.Max[0] / maxMercator * 180.0

	minLat := math.Atan(math.Exp(bound.Min[1]*math.Pi/maxMercator))*360.0/math.Pi - 90.0
	maxLat := math.Atan(math.Exp(bound.Max[1]*math.Pi/maxMercator))*360.0/math.Pi - 90.0

	return orb.Bound{
		Min: orb.Point{minLon, minLat},
		Max: orb.Point{maxLon, maxLat},
	}
}

// wgs84ToMercator projects lon/lat bounds to EPSG:3857 meters.
func wgs84ToMercator(bound orb.Bound) orb.Bound {
	const maxMercator = 20037508.342789244

	minX := bound.Min[0] / 180.0 * maxMercator
	maxX := bound.Max[0] / 180.0 * maxMercator

	minY := math.Log(math.Tan((90.0+bound.Min[1])*math.Pi/360.0)) / math.Pi * maxMercator
	maxY := math.Log(math.Tan((90.0+bound.Max[1])*math.Pi/360.0)) / math.Pi * maxMercator

	return orb.Bound{
		Min: orb.Point{minX, minY},
		Max: orb.Point{maxX, maxY},
	}
}
