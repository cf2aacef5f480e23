package geotiff

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR/internal/tifftest"
)

func serveBytes(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "image.tif", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPRangeReader(t *testing.T) {
	data := make([]byte, 200*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	srv := serveBytes(t, data)

	rr, err := NewHTTPRangeReader(srv.URL, nil, 5*time.Second, 4096)
	if err != nil {
		t.Fatalf("NewHTTPRangeReader failed: %v", err)
	}
	if rr.Size() != int64(len(data)) {
		t.Errorf("Expected size %d, got %d", len(data), rr.Size())
	}

	for _, off := range []int64{0, 100, 4095, 150 * 1024} {
		if _, err := rr.Seek(off, io.SeekStart); err != nil {
			t.Fatalf("Seek(%d) failed: %v", off, err)
		}
		buf := make([]byte, 10000)
		if _, err := io.ReadFull(rr, buf); err != nil {
			t.Fatalf("ReadFull at %d failed: %v", off, err)
		}
		if !bytes.Equal(buf, data[off:off+10000]) {
			t.Fatalf("Data mismatch at offset %d", off)
		}
	}

	if _, err := rr.Seek(-10, io.SeekEnd); err != nil {
		t.Fatalf("Seek from end failed: %v", err)
	}
	rest, err := io.ReadAll(rr)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(rest, data[len(data)-10:]) {
		t.Error("Tail mismatch")
	}

	if _, err := rr.Seek(-1, io.SeekStart); err == nil {
		t.Error("Expected error for negative position")
	}
}

func TestHTTPRangeReaderIgnoredRange(t *testing.T) {
	data := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write(data)
		}
	}))
	defer srv.Close()

	rr, err := NewHTTPRangeReader(srv.URL, nil, time.Second, 4)
	if err != nil {
		t.Fatalf("NewHTTPRangeReader failed: %v", err)
	}
	rr.Seek(10, io.SeekStart)
	buf := make([]byte, 4)
	if _, err := io.ReadFull(rr, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if string(buf) != "abcd" {
		t.Errorf("Expected %q, got %q", "abcd", buf)
	}
}

func TestHTTPRangeReaderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := NewHTTPRangeReader(srv.URL, nil, time.Second, 0); err == nil {
		t.Error("Expected error for missing remote file")
	}
}

func TestOpenURL(t *testing.T) {
	img := rampImage(50, 40)
	img.TileSize = 16
	img.Compression = tifftest.CompressionDeflate
	srv := serveBytes(t, img.Encode())

	if !IsURL(srv.URL) || IsURL("/data/scene.tif") {
		t.Error("IsURL misclassified input")
	}

	f, err := Open(srv.URL, Options{Timeout: 5 * time.Second, ReadAhead: 1024})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	data, err := f.ReadBand(0, 0)
	if err != nil {
		t.Fatalf("ReadBand failed: %v", err)
	}
	for i, v := range data {
		if v != float64(i) {
			t.Fatalf("Sample %d: expected %d, got %v", i, i, v)
		}
	}
}
