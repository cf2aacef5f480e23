package multilakesar

import (
	"bytes"
	"errors"
	"image/png"
	"math"
	"testing"
)

func TestTargetSize(t *testing.T) {
	tests := []struct {
		w, h, maxDim int
		wantW, wantH int
	}{
		{1, 1, 2048, 1, 1},
		{100, 50, 2048, 100, 50},
		{4096, 1024, 2048, 2048, 512},
		{3000, 7000, 2048, 877, 2048},
		{100000, 1, 2048, 2048, 1},
		{10, 10, 4, 4, 4},
	}
	for _, tt := range tests {
		w, h := TargetSize(tt.w, tt.h, tt.maxDim)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("TargetSize(%d, %d, %d) = %dx%d, expected %dx%d", tt.w, tt.h, tt.maxDim, w, h, tt.wantW, tt.wantH)
		}
		if w > tt.maxDim || h > tt.maxDim || w < 1 || h < 1 {
			t.Errorf("TargetSize(%d, %d) out of bounds: %dx%d", tt.w, tt.h, w, h)
		}
	}
}

func TestRenderGray(t *testing.T) {
	band := Band{-25, -12.5, 0, math.NaN(), 5, -30}
	bm, err := RenderGray(band, 3, 2, VisualizationRange{Low: -25, High: 0})
	if err != nil {
		t.Fatalf("RenderGray failed: %v", err)
	}
	if bm.Width != 3 || bm.Height != 2 || len(bm.Pix) != 24 {
		t.Fatalf("Unexpected bitmap %dx%d (%d bytes)", bm.Width, bm.Height, len(bm.Pix))
	}

	want := [][4]byte{
		{0, 0, 0, 255},
		{128, 128, 128, 255}, // 127.5 rounds up
		{255, 255, 255, 255},
		{0, 0, 0, 0}, // NaN
		{255, 255, 255, 255},
		{0, 0, 0, 255},
	}
	for i, px := range want {
		got := [4]byte(bm.Pix[i*4 : i*4+4])
		if got != px {
			t.Errorf("Pixel %d: expected %v, got %v", i, px, got)
		}
	}
}

func TestRenderGrayDownsample(t *testing.T) {
	const w, h = 300, 200
	band := make(Band, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			band[y*w+x] = float64(x)
		}
	}
	rz := &Rasterizer{MaxDimension: 100, Workers: 3}
	bm, err := rz.RenderGray(band, w, h, VisualizationRange{Low: 0, High: 255})
	if err != nil {
		t.Fatalf("RenderGray failed: %v", err)
	}
	if bm.Width != 100 || bm.Height != 66 {
		t.Fatalf("Expected 100x66, got %dx%d", bm.Width, bm.Height)
	}
	// Output column x samples source column x*300/100.
	for _, x := range []int{0, 1, 33, 84, 99} {
		got := bm.Pix[(65*bm.Width+x)*4]
		if want := byte(min(x*3, 255)); got != want {
			t.Errorf("Column %d: expected %d, got %d", x, want, got)
		}
	}
}

func TestRenderGrayAllNaN(t *testing.T) {
	band := make(Band, 64)
	for i := range band {
		band[i] = math.NaN()
	}
	stats := Analyze(band, 0, PresetAuto)
	bm, err := RenderGray(band, 8, 8, Resolve(PresetAuto, math.NaN(), math.NaN(), stats))
	if err != nil {
		t.Fatalf("RenderGray failed: %v", err)
	}
	if !bm.Transparent() {
		t.Error("Expected every alpha byte to be 0")
	}
}

func TestRenderGrayInvalidDimensions(t *testing.T) {
	tests := []struct {
		name string
		band Band
		w, h int
	}{
		{"zero width", Band{1}, 0, 1},
		{"negative height", Band{1}, 1, -1},
		{"zero area", Band{}, 0, 0},
		{"short band", Band{1, 2, 3}, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bm, err := RenderGray(tt.band, tt.w, tt.h, VisualizationRange{0, 1})
			if !errors.Is(err, ErrInvalidDimensions) || bm != nil {
				t.Errorf("Expected ErrInvalidDimensions, got %v", err)
			}
		})
	}
}

func TestRenderComposite(t *testing.T) {
	a := Band{0, 10, 5, math.NaN()}
	b := Band{-20, -10, -20, 1}
	bm, err := RenderComposite(a, b, 2, 2)
	if err != nil {
		t.Fatalf("RenderComposite failed: %v", err)
	}

	// a spans [0, 10]; b spans [-20, 1] since the sample next to a's NaN is
	// still part of b's extent; the sum spans [-20, 11].
	want := [][4]byte{
		{0, 0, 0, 255},
		{255, 121, 165, 255},
		{128, 0, 41, 255},
		{0, 0, 0, 0},
	}
	for i, px := range want {
		got := [4]byte(bm.Pix[i*4 : i*4+4])
		if got != px {
			t.Errorf("Pixel %d: expected %v, got %v", i, px, got)
		}
	}
}

func TestRenderCompositeShapeMismatch(t *testing.T) {
	bm, err := RenderComposite(make(Band, 4), make(Band, 5), 2, 2)
	if !errors.Is(err, ErrBandShapeMismatch) {
		t.Errorf("Expected ErrBandShapeMismatch, got %v", err)
	}
	if bm != nil {
		t.Error("Expected no bitmap")
	}

	if _, err := RenderComposite(make(Band, 4), make(Band, 4), 0, 4); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions, got %v", err)
	}
	if _, err := RenderComposite(make(Band, 3), make(Band, 3), 2, 2); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions for short bands, got %v", err)
	}
}

func TestRenderTile(t *testing.T) {
	rz := &Rasterizer{}
	tile := []float64{0, 1, math.NaN(), 0.5}
	bm, err := rz.RenderTile(tile, 2, VisualizationRange{0, 1})
	if err != nil {
		t.Fatalf("RenderTile failed: %v", err)
	}
	if bm.Pix[4] != 255 || bm.Pix[11] != 0 || bm.Pix[12] != 128 {
		t.Errorf("Unexpected tile pixels: %v", bm.Pix)
	}
	if _, err := rz.RenderTile(tile, 3, VisualizationRange{0, 1}); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions, got %v", err)
	}
}

func TestBitmapEncodePNG(t *testing.T) {
	bm, err := RenderGray(Band{0, 1, math.NaN(), 0.5}, 2, 2, VisualizationRange{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := bm.EncodePNG(&buf); err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode failed: %v", err)
	}
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Errorf("Unexpected PNG size %v", img.Bounds())
	}
	if _, _, _, a := img.At(0, 1).RGBA(); a != 0 {
		t.Errorf("Expected transparent NaN pixel, alpha %d", a)
	}
}
