package s3

import (
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ObjectReader is the body of a downloaded object. It counts the bytes
// handed out so callers can account the transfer once the body is closed.
type ObjectReader struct {
	mu     sync.Mutex // protects the fields below between Read and Close
	in     io.ReadCloser
	bucket string
	key    string
	size   int64 // size announced by the store, -1 if unknown
	bytes  int64
	closed bool
}

func newObjectReader(in io.ReadCloser, bucket, key string, size int64) *ObjectReader {
	return &ObjectReader{
		in:     in,
		bucket: bucket,
		key:    key,
		size:   size,
	}
}

func (r *ObjectReader) Read(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, io.ErrClosedPipe
	}
	n, err = r.in.Read(p)
	r.bytes += int64(n)
	return n, err
}

// BytesRead returns how many bytes of the body have been read so far.
func (r *ObjectReader) BytesRead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.bytes
}

// Size returns the content length announced by the store, or -1.
func (r *ObjectReader) Size() int64 {
	return r.size
}

// Close closes the underlying body. It is safe to call more than once.
func (r *ObjectReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.size >= 0 && r.bytes < r.size {
		log.Debugf("Object(%s) in Bucket(%s) closed after %d of %d bytes", r.key, r.bucket, r.bytes, r.size)
	}
	return r.in.Close()
}
