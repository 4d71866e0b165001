package engine

import "unsafe"

// bytesAt returns a []byte view of the n bytes starting at base+offset.
// It does not copy; callers that need to retain the data past the
// current operation must copy it themselves.
func bytesAt(base unsafe.Pointer, offset int64, n int) []byte {
	p := unsafe.Add(base, offset)
	return unsafe.Slice((*byte)(p), n)
}

// copyInto copies src into the n bytes starting at base+offset.
func copyInto(base unsafe.Pointer, offset int64, src []byte) {
	copy(bytesAt(base, offset, len(src)), src)
}

// copyFrom copies the n bytes starting at base+offset into a freshly
// allocated slice.
func copyFrom(base unsafe.Pointer, offset int64, n int) []byte {
	out := make([]byte, n)
	copy(out, bytesAt(base, offset, n))
	return out
}
