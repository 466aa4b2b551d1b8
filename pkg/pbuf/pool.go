package pbuf

import (
	"github.com/ardnew/softecm/pkg"
)

// DefaultPoolSize holds the two buffers a CDC-ECM function needs
// (one receive, one transmit).
const DefaultPoolSize = 2

// Pool is a fixed set of frame buffers allocated once and never grown.
type Pool struct {
	bufs []Buffer
}

// NewPool creates a pool of n buffers. n <= 0 selects [DefaultPoolSize].
func NewPool(n int) *Pool {
	if n <= 0 {
		n = DefaultPoolSize
	}
	p := &Pool{bufs: make([]Buffer, n)}
	for i := range p.bufs {
		p.bufs[i].id = i
	}
	return p
}

// Get acquires a free buffer for firmware use.
// Returns [pkg.ErrResourceExhausted] if every buffer is in use.
func (p *Pool) Get() (*Buffer, error) {
	for i := range p.bufs {
		if p.bufs[i].Acquire() {
			pkg.LogDebug(pkg.ComponentPool, "buffer acquired", "id", i)
			return &p.bufs[i], nil
		}
	}
	pkg.LogWarn(pkg.ComponentPool, "pool exhausted", "capacity", len(p.bufs))
	return nil, pkg.ErrResourceExhausted
}

// Put releases a firmware-owned buffer back to the pool.
func (p *Pool) Put(b *Buffer) error {
	if b == nil || b.id < 0 || b.id >= len(p.bufs) || &p.bufs[b.id] != b {
		return pkg.ErrInvalidParameter
	}
	return b.Release()
}

// Cap returns the number of buffers in the pool.
func (p *Pool) Cap() int {
	return len(p.bufs)
}

// Count returns the number of buffers currently held by owner o.
func (p *Pool) Count(o Owner) int {
	n := 0
	for i := range p.bufs {
		if p.bufs[i].Owner() == o {
			n++
		}
	}
	return n
}

// Available returns the number of free buffers.
func (p *Pool) Available() int {
	return p.Count(OwnerFree)
}

// Outstanding returns the number of buffers lent to hardware.
func (p *Pool) Outstanding() int {
	return p.Count(OwnerHardware)
}
