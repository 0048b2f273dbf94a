// Package pool implements the PayloadPool: a fixed or bounded-growing pool
// of byte buffers backing serialized sample payloads, shared process-wide
// and thread-safe via atomic reference counts.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/rtpsmesh/rtpsd/rtps/rtpserrors"
)

// Payload is a reference-counted byte buffer. Multiple readers on the same
// process may share one Payload; it returns to the pool's free list when
// the count reaches zero.
type Payload struct {
	Bytes []byte

	pool     *Pool
	refCount int32
}

// Retain increments the reference count; call before handing the payload
// to another owner that will independently Release it.
func (p *Payload) Retain() {
	atomic.AddInt32(&p.refCount, 1)
}

// Release decrements the reference count, returning the buffer to its
// pool's free list once it reaches zero.
func (p *Payload) Release() {
	if atomic.AddInt32(&p.refCount, -1) == 0 {
		p.pool.release(p)
	}
}

// Pool is a bounded-growing allocator of Payload buffers. By default it
// grows on demand up to MaxBytes total resident bytes; with MaxBytes == 0
// it never refuses growth (unbounded, for tests and small deployments).
type Pool struct {
	mu        sync.Mutex
	free      map[int][]*Payload // free buffers bucketed by capacity
	resident  int64              // bytes currently handed out (not on the free list)
	maxBytes  int64
}

// New creates a Pool. maxBytes <= 0 means unbounded growth.
func New(maxBytes int64) *Pool {
	return &Pool{
		free:     make(map[int][]*Payload),
		maxBytes: maxBytes,
	}
}

// ResidentBytes returns the number of bytes currently checked out of the
// pool (not sitting on a free list), satisfying the invariant that the
// pool's byte count is always >= the sum of resident payload sizes across
// all caches.
func (p *Pool) ResidentBytes() int64 {
	return atomic.LoadInt64(&p.resident)
}

// Get returns a buffer of exactly size bytes, reusing a free buffer of
// that same size if one exists, or allocating a new one. Fails with
// PoolExhausted if the pool is bounded and growth would exceed maxBytes.
func (p *Pool) Get(size int) (*Payload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if bucket := p.free[size]; len(bucket) > 0 {
		pl := bucket[len(bucket)-1]
		p.free[size] = bucket[:len(bucket)-1]
		pl.Bytes = pl.Bytes[:size]
		pl.refCount = 1
		atomic.AddInt64(&p.resident, int64(size))
		return pl, nil
	}

	if p.maxBytes > 0 && atomic.LoadInt64(&p.resident)+int64(size) > p.maxBytes {
		return nil, rtpserrors.New(rtpserrors.PoolExhausted, "payload pool exhausted and not allowed to grow")
	}

	pl := &Payload{Bytes: make([]byte, size), pool: p, refCount: 1}
	atomic.AddInt64(&p.resident, int64(size))
	return pl, nil
}

func (p *Pool) release(pl *Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	atomic.AddInt64(&p.resident, -int64(len(pl.Bytes)))
	size := len(pl.Bytes)
	p.free[size] = append(p.free[size], pl)
}
