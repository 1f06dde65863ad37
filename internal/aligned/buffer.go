// Package aligned provides cache-line aligned scratch buffers.
package aligned

import (
	"unsafe"
)

// CacheLine is the alignment of every buffer's usable region.
const CacheLine = 64

// Number lists the element types a Buffer may hold. They carry no
// pointers, so the collector never needs to scan the byte backing array.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint |
		~float32 | ~float64 | ~complex64 | ~complex128
}

// Buffer is a slice of T whose first element sits on a 64-byte boundary.
// The backing array is kept reachable by the Buffer itself; Go's collector
// does not move heap objects, so the alignment holds for the buffer's life.
type Buffer[T Number] struct {
	raw    []byte
	offset int
	data   []T
}

// New allocates a buffer of n elements of T, aligned to CacheLine.
func New[T Number](n int) *Buffer[T] {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if n < 0 {
		n = 0
	}
	raw := make([]byte, n*size+CacheLine-1)
	b := &Buffer[T]{raw: raw}
	if n == 0 {
		b.data = make([]T, n)
		return b
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	b.offset = int((CacheLine - base%CacheLine) % CacheLine)
	b.data = unsafe.Slice((*T)(unsafe.Pointer(&raw[b.offset])), n)
	return b
}

// Slice returns the aligned elements.
func (b *Buffer[T]) Slice() []T {
	return b.data
}

// Bytes returns the aligned region reinterpreted as bytes.
func (b *Buffer[T]) Bytes() []byte {
	if len(b.data) == 0 {
		return nil
	}
	var zero T
	return b.raw[b.offset : b.offset+len(b.data)*int(unsafe.Sizeof(zero))]
}

// Len returns the number of elements.
func (b *Buffer[T]) Len() int {
	return len(b.data)
}

// Offset returns the number of padding bytes skipped to reach alignment.
func (b *Buffer[T]) Offset() int {
	return b.offset
}

// Close drops the references to the backing memory.
func (b *Buffer[T]) Close() {
	b.raw = nil
	b.data = nil
	b.offset = 0
}
