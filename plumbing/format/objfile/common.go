// Package objfile implements encoding and decoding of loose objects: the
// zlib-compressed "<type> <size>\0<content>" blobs git stores one per file
// under .git/objects.
package objfile

import "errors"

var (
	// ErrOverflow is returned when a Write would produce more content than
	// was declared in the preceding WriteHeader call.
	ErrOverflow = errors.New("write beyond the expected size")
	// ErrNegativeSize is returned by WriteHeader when given a negative size.
	ErrNegativeSize = errors.New("negative size not allowed")
)
