package reader

import "bytes"

// newByteReader adapts an in-memory payload (used by the kafkalive
// backend's Descriptors) to the io.Reader mrt.NewDecoder expects.
func newByteReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
