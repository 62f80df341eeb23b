package blockfile

import (
	"go.uber.org/zap"
)

type Option func(*BlockFile)

func WithLogger(logger *zap.Logger) Option {
	return func(bf *BlockFile) {
		if logger != nil {
			bf.logger = logger
		}
	}
}

// WithReadOnly opens the file without mounting it. Mutating calls fail with
// ErrReadOnly and indices are not repaired when opened.
func WithReadOnly(readOnly bool) Option {
	return func(bf *BlockFile) {
		bf.writable = !readOnly
	}
}

// WithSpanSize sets the span size written to a new file. An existing file
// keeps the span size stored in its superblock.
func WithSpanSize(spanSize int) Option {
	return func(bf *BlockFile) {
		bf.initSpanSize = spanSize
	}
}

// WithSpanCache sets how many decoded spans each open index caches.
func WithSpanCache(spans int) Option {
	return func(bf *BlockFile) {
		if spans > 0 {
			bf.spanCache = spans
		}
	}
}
