package geotiff

import "sync"

// Buffer pools for compressed chunk bytes. Chunks are read, decompressed and
// dropped again, so recycling the read buffer takes most of the GC pressure
// off full-band decodes.

const (
	smallBufferSize  = 64 * 1024       // 64KB
	mediumBufferSize = 256 * 1024      // 256KB
	largeBufferSize  = 1024 * 1024     // 1MB
	xlargeBufferSize = 4 * 1024 * 1024 // 4MB
)

var bufferClasses = [...]int{smallBufferSize, mediumBufferSize, largeBufferSize, xlargeBufferSize}

var bufferPools = func() (pools [len(bufferClasses)]*sync.Pool) {
	for i, size := range bufferClasses {
		size := size
		pools[i] = &sync.Pool{New: func() interface{} {
			buf := make([]byte, size)
			return &buf
		}}
	}
	return pools
}()

// getBuffer returns a byte slice of exactly size bytes, backed by a pooled
// array when one of the size classes fits.
func getBuffer(size int) []byte {
	for i, class := range bufferClasses {
		if size <= class {
			bufPtr := bufferPools[i].Get().(*[]byte)
			return (*bufPtr)[:size]
		}
	}
	return make([]byte, size)
}

// putBuffer returns a buffer obtained from getBuffer to its pool.
// The buffer must not be used afterwards.
func putBuffer(buf []byte) {
	c := cap(buf)
	for i, class := range bufferClasses {
		if c == class {
			buf = buf[:c]
			bufferPools[i].Put(&buf)
			return
		}
	}
}
