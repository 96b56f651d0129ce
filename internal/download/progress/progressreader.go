// Package progress wraps readers to report transfer progress at byte
// intervals instead of per read call.
package progress

import "io"

// Reader counts bytes flowing through an io.Reader and invokes a callback
// every interval bytes with the running total.
type Reader struct {
	inner      io.Reader
	total      int64
	interval   int64
	onProgress func(written, total int64)

	written     int64
	sinceReport int64
}

// NewReader wraps r. total may be zero when the payload size is unknown;
// it is passed through to the callback untouched.
func NewReader(r io.Reader, total, interval int64, onProgress func(written, total int64)) *Reader {
	if interval <= 0 {
		interval = 1
	}

	return &Reader{
		inner:      r,
		total:      total,
		interval:   interval,
		onProgress: onProgress,
	}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.written += int64(n)
		r.sinceReport += int64(n)

		if r.onProgress != nil && r.sinceReport >= r.interval {
			r.onProgress(r.written, r.total)
			r.sinceReport = 0
		}
	}

	return n, err
}
