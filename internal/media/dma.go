package media

import (
	"unsafe"

	"github.com/ehrlich-b/ztl/internal/zerr"
)

// dmaAlignment is the alignment DMA-capable buffers must respect; real
// NVMe/ZNS controllers require sector alignment at minimum.
const dmaAlignment = 4096

// DMAAlloc allocates a DMA-aligned buffer of size bytes (spec.md §4.1
// dma_alloc). Go has no posix_memalign; over-allocating and slicing to
// the first aligned offset gives the same guarantee without cgo.
func DMAAlloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, zerr.New("MEDIA_DMA_ALLOC", zerr.CodeInvalid, "size must be positive")
	}
	buf := make([]byte, size+dmaAlignment)
	offset := alignmentOffset(buf)
	return buf[offset : offset+size : offset+size], nil
}

// DMAFree is a no-op under the garbage collector; it exists so callers
// written against spec.md §4.1's alloc/free pairing compile unchanged
// against whichever media backend they target.
func DMAFree([]byte) {}

func alignmentOffset(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	rem := addr % dmaAlignment
	if rem == 0 {
		return 0
	}
	return dmaAlignment - int(rem)
}
