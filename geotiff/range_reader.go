package geotiff

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	// DefaultReadAheadSize is the read-ahead window of the HTTP range reader.
	DefaultReadAheadSize = 64 * 1024
	// DefaultHTTPTimeout bounds every single range request.
	DefaultHTTPTimeout = 30 * time.Second
)

// HTTPRangeReader implements io.ReadSeeker over HTTP range requests.
// Sequential reads are served from a read-ahead buffer.
type HTTPRangeReader struct {
	url     string
	client  *fasthttp.Client
	timeout time.Duration

	mu   sync.Mutex
	size int64
	pos  int64

	buffer        []byte
	bufferStart   int64 // file offset of buffer[0]
	readAheadSize int
}

// NewHTTPRangeReader creates a range reader and probes the remote size with a
// HEAD request. A nil client gets a default one.
func NewHTTPRangeReader(url string, client *fasthttp.Client, timeout time.Duration, readAhead int) (*HTTPRangeReader, error) {
	if client == nil {
		client = NewHTTPClient(timeout)
	}
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	if readAhead <= 0 {
		readAhead = DefaultReadAheadSize
	}
	rr := &HTTPRangeReader{
		url:           url,
		client:        client,
		timeout:       timeout,
		readAheadSize: readAhead,
		size:          -1,
		bufferStart:   -1,
	}
	size, err := rr.headSize()
	if err != nil {
		return nil, err
	}
	rr.size = size
	return rr, nil
}

// NewHTTPClient returns a fasthttp client configured for range reads.
func NewHTTPClient(timeout time.Duration) *fasthttp.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &fasthttp.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

func (rr *HTTPRangeReader) headSize() (int64, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodHead)
	// HEAD responses carry a Content-Length but no body.
	resp.SkipBody = true

	if err := rr.client.DoTimeout(req, resp, rr.timeout); err != nil {
		return -1, fmt.Errorf("HEAD %s: %w", rr.url, err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return -1, fmt.Errorf("HEAD %s: unexpected status code: %d", rr.url, code)
	}
	if n := resp.Header.ContentLength(); n > 0 {
		return int64(n), nil
	}
	// Unknown size; reads will stop at the first short response.
	return -1, nil
}

// Read reads from the current position, refilling the read-ahead buffer when
// the position falls outside of it.
func (rr *HTTPRangeReader) Read(p []byte) (int, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	if rr.size >= 0 && rr.pos >= rr.size {
		return 0, io.EOF
	}

	if !rr.buffered(rr.pos) {
		want := rr.readAheadSize
		if want < len(p) {
			want = len(p)
		}
		data, err := rr.fetchRange(rr.pos, rr.pos+int64(want)-1)
		if err != nil {
			return 0, err
		}
		if len(data) == 0 {
			return 0, io.EOF
		}
		rr.buffer = data
		rr.bufferStart = rr.pos
	}

	n := copy(p, rr.buffer[rr.pos-rr.bufferStart:])
	rr.pos += int64(n)
	return n, nil
}

func (rr *HTTPRangeReader) buffered(pos int64) bool {
	return rr.bufferStart >= 0 && pos >= rr.bufferStart && pos < rr.bufferStart+int64(len(rr.buffer))
}

// fetchRange fetches the inclusive byte range [start, end].
func (rr *HTTPRangeReader) fetchRange(start, end int64) ([]byte, error) {
	if rr.size > 0 && end >= rr.size {
		end = rr.size - 1
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetByteRange(int(start), int(end))

	if err := rr.client.DoTimeout(req, resp, rr.timeout); err != nil {
		return nil, fmt.Errorf("GET %s [%d-%d]: %w", rr.url, start, end, err)
	}

	body := resp.Body()
	switch resp.StatusCode() {
	case fasthttp.StatusPartialContent:
	case fasthttp.StatusOK:
		// Server ignored the range header and sent the whole file.
		if start >= int64(len(body)) {
			return nil, nil
		}
		if end >= int64(len(body)) {
			end = int64(len(body)) - 1
		}
		body = body[start : end+1]
	case fasthttp.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	default:
		return nil, fmt.Errorf("GET %s: unexpected status code: %d", rr.url, resp.StatusCode())
	}

	// The response body is released with resp.
	result := make([]byte, len(body))
	copy(result, body)
	return result, nil
}

// Seek sets the offset for the next Read.
func (rr *HTTPRangeReader) Seek(offset int64, whence int) (int64, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = rr.pos + offset
	case io.SeekEnd:
		if rr.size < 0 {
			return 0, fmt.Errorf("cannot seek from end: file size unknown")
		}
		newPos = rr.size + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("negative position: %d", newPos)
	}

	rr.pos = newPos
	return rr.pos, nil
}

// Size returns the remote size, or -1 if unknown.
func (rr *HTTPRangeReader) Size() int64 {
	return rr.size
}
