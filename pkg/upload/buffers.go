package upload

import "sync"

// bufferPool recycles the scratch buffers part uploads are staged in.
//
// Buffers are rented per request and must be returned on every exit
// path. Undersized pooled buffers are discarded and replaced rather
// than grown in place, so the pool converges on the largest sizes the
// workload actually needs.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				buf := make([]byte, 0)
				return &buf
			},
		},
	}
}

// Get rents a buffer of exactly n bytes.
func (p *bufferPool) Get(n int) []byte {
	buf := p.pool.Get().(*[]byte)
	if cap(*buf) < n {
		*buf = make([]byte, n)
	}
	return (*buf)[:n]
}

// Put returns a rented buffer to the pool.
func (p *bufferPool) Put(buf []byte) {
	buf = buf[:0]
	p.pool.Put(&buf)
}
