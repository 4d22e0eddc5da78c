package mrt

import (
	"compress/bzip2"
	"io"

	"github.com/klauspost/compress/gzip"
)

// newGzipReader decompresses a .gz MRT archive using klauspost/compress,
// the same module the teacher imports for zstd — its gzip package is a
// drop-in faster replacement for compress/gzip and is the only
// decompression library in the corpus.
func newGzipReader(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

// newBzip2Reader decompresses a .bz2 MRT archive. No third-party bzip2
// decoder appears anywhere in the corpus; stdlib compress/bzip2 is
// read-only, which is all a decode-only archive reader needs.
func newBzip2Reader(r io.Reader) io.Reader {
	return bzip2.NewReader(r)
}
