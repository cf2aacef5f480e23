package multilakesar

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"

	"github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR/geotiff"
	"github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR/internal/tifftest"
)

// sceneImage returns a w x h backscatter image in dB covering a small
// EPSG:4326 area. The left quarter is water at -24 dB.
func sceneImage(w, h int) *tifftest.Image {
	return &tifftest.Image{
		Width:  w,
		Height: h,
		Bands: [][]float32{tifftest.Fill(w, h, func(x, y int) float32 {
			if x < w/4 {
				return -24
			}
			return -8
		})},
		PixelScale: [3]float64{0.001, 0.001, 0},
		TiePoint:   [6]float64{0, 0, 0, -69.5, -15.7, 0},
		EPSG:       4326,
		NoData:     "-9999",
	}
}

func fullAdapter() *Adapter {
	return NewAdapter(&FullDecoder{})
}

func TestSourceValidate(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		ok   bool
	}{
		{"path", Source{Path: "vv.tif"}, true},
		{"url", SourceFromString("https://example.com/vv.tif"), true},
		{"blob", Source{Blob: []byte{}}, true},
		{"empty", Source{}, false},
		{"two locations", Source{Path: "a.tif", URL: "https://example.com/b.tif"}, false},
		{"negative band", Source{Path: "a.tif", Band: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.src.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, expected ok=%v", err, tt.ok)
			}
		})
	}
	if got := SourceFromString("/data/vv.tif"); got.Path != "/data/vv.tif" {
		t.Errorf("Expected a path source, got %+v", got)
	}
}

func TestAdapterLoadBlob(t *testing.T) {
	img := sceneImage(40, 20)
	img.Bands[0][0] = -9999
	sidecar := &Sidecar{Rows: []Row{{ColumnResolution: "20"}}}

	r, err := fullAdapter().Load(context.Background(), Source{Blob: img.Encode()}, sidecar)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if r.Meta.Width != 40 || r.Meta.Height != 20 || len(r.Band) != 800 {
		t.Errorf("Unexpected raster %dx%d with %d samples", r.Meta.Width, r.Meta.Height, len(r.Band))
	}
	if r.Meta.PixelSizeMeters != 20 {
		t.Errorf("Expected pixel size 20, got %v", r.Meta.PixelSizeMeters)
	}
	if r.Meta.CRS != "EPSG:4326" || r.Meta.BoundingBox == nil {
		t.Fatalf("Expected georeferenced raster, got %+v", r.Meta)
	}
	if b := *r.Meta.BoundingBox; math.Abs(b.Min[0]+69.5) > 1e-9 || math.Abs(b.Max[0]+69.46) > 1e-9 {
		t.Errorf("Unexpected bounding box %v", b)
	}
	if !math.IsNaN(r.Band[0]) || r.Band[1] != -24 {
		t.Errorf("Unexpected samples %v %v", r.Band[0], r.Band[1])
	}
	if r.Tiles != nil {
		t.Error("Full decoder must not serve tiles")
	}
}

func TestAdapterLoadPathAndURL(t *testing.T) {
	data := sceneImage(16, 16).Encode()
	path := filepath.Join(t.TempDir(), "vv.tif")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "vv.tif", time.Time{}, strings.NewReader(string(data)))
	}))
	defer srv.Close()

	a := NewAdapter(&FullDecoder{Options: geotiff.Options{Timeout: 5 * time.Second}})
	for _, src := range []Source{{Path: path}, SourceFromString(srv.URL + "/vv.tif")} {
		r, err := a.Load(context.Background(), src, nil)
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", src, err)
		}
		if r.Meta.PixelSizeMeters != DefaultPixelSizeMeters || len(r.Band) != 256 {
			t.Errorf("Load(%s): unexpected raster %+v", src, r.Meta)
		}
	}
}

func TestAdapterDecodeFailure(t *testing.T) {
	_, err := fullAdapter().Load(context.Background(), Source{Blob: []byte("not a tiff")}, nil)
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("Expected ErrDecodeFailure, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Source != "blob(10 bytes)" {
		t.Fatalf("Expected *DecodeError, got %T", err)
	}
	// The decoder message is surfaced unchanged.
	if err.Error() != de.Err.Error() || !strings.Contains(err.Error(), "invalid TIFF magic") {
		t.Errorf("Unexpected message %q", err.Error())
	}

	if _, err := fullAdapter().Load(context.Background(), Source{Path: filepath.Join(t.TempDir(), "missing.tif")}, nil); !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("Expected ErrDecodeFailure for missing file, got %v", err)
	}
}

func TestAdapterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fullAdapter().Load(ctx, Source{Blob: sceneImage(4, 4).Encode()}, nil)
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrDecodeFailure) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestTiledDecoder(t *testing.T) {
	img := sceneImage(64, 64)
	img.TileSize = 16
	for _, size := range []int{32, 16} {
		ov := sceneImage(size, size)
		ov.TileSize = 16
		img.Overviews = append(img.Overviews, ov)
	}

	d, err := NewDecoder(DecoderTiled, geotiff.Options{}, 1000)
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewAdapter(d).Load(context.Background(), Source{Blob: img.Encode()}, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer r.Close()

	// The 32x32 overview is the smallest level with at least 1000 pixels.
	if r.Meta.Width != 32 || r.Meta.Height != 32 {
		t.Errorf("Expected 32x32 overview, got %dx%d", r.Meta.Width, r.Meta.Height)
	}
	if r.Meta.PixelSizeMeters != 2*DefaultPixelSizeMeters {
		t.Errorf("Expected overview pixel size 20, got %v", r.Meta.PixelSizeMeters)
	}
	if r.Tiles == nil {
		t.Fatal("Expected a tile source")
	}

	tiles, err := r.Tiles.Covering(12)
	if err != nil || len(tiles) == 0 {
		t.Fatalf("Covering failed: %v (%d tiles)", err, len(tiles))
	}
	scene := &Scene{VV: r}
	bm, err := scene.RenderTile(context.Background(), &Rasterizer{}, tiles[0], 32, VisualizationRange{Low: DBLow, High: DBHigh})
	if err != nil {
		t.Fatalf("RenderTile failed: %v", err)
	}
	if bm.Width != 32 || bm.Bounds == nil {
		t.Errorf("Unexpected tile bitmap %dx%d", bm.Width, bm.Height)
	}

	if _, err := (&Scene{VV: &Raster{}}).RenderTile(context.Background(), &Rasterizer{}, maptile.New(0, 0, 0), 8, VisualizationRange{0, 1}); err == nil {
		t.Error("Expected error for raster without tiles")
	}
}

func TestNewDecoderUnknown(t *testing.T) {
	if _, err := NewDecoder("gdal", geotiff.Options{}, 0); err == nil {
		t.Error("Expected error for unknown decoder")
	}
}

func TestLoadScene(t *testing.T) {
	a := fullAdapter()
	vv := Source{Blob: sceneImage(8, 8).Encode()}
	vh := Source{Blob: sceneImage(8, 4).Encode()}

	scene, err := a.LoadScene(context.Background(), SceneSources{VV: &vv, VH: &vh}, nil)
	if err != nil {
		t.Fatalf("LoadScene failed: %v", err)
	}
	if scene.Primary() != scene.VV {
		t.Error("Expected VV to be the primary band")
	}
	if scene.CanComposite() {
		t.Error("Bands of different shapes cannot be composited")
	}

	only := &Scene{VH: scene.VH}
	if only.Primary() != scene.VH {
		t.Error("Expected VH fallback")
	}

	bad := Source{Blob: []byte("garbage")}
	_, err = a.LoadScene(context.Background(), SceneSources{VV: &vv, VH: &bad}, nil)
	if !errors.Is(err, ErrDecodeFailure) || !strings.HasPrefix(err.Error(), "VH: ") {
		t.Errorf("Expected VH decode failure, got %v", err)
	}

	if _, err := a.LoadScene(context.Background(), SceneSources{}, nil); err == nil {
		t.Error("Expected error for empty scene")
	}
}
