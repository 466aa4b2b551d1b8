package pbuf

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softecm/pkg"
)

// MaxFrameSize is the maximum Ethernet segment size carried over CDC-ECM
// (1500 byte MTU plus the 14 byte Ethernet header, no FCS).
const MaxFrameSize = 1514

// Owner is the ownership tag of a [Buffer].
type Owner uint32

// Ownership states.
const (
	OwnerFree     Owner = iota // Not in use
	OwnerHardware              // Lent to the endpoint driver
	OwnerFirmware              // Readable and writable by firmware
)

// String returns a human-readable owner name.
func (o Owner) String() string {
	switch o {
	case OwnerFree:
		return "free"
	case OwnerHardware:
		return "hardware"
	case OwnerFirmware:
		return "firmware"
	default:
		return fmt.Sprintf("Owner(%d)", uint32(o))
	}
}

// Buffer is a single frame buffer with an ownership tag.
//
// The length field is written only by the current owner before it publishes
// a transition through the atomic tag, so it needs no separate lock.
type Buffer struct {
	data   [MaxFrameSize]byte
	length int
	owner  atomic.Uint32
	gen    atomic.Uint32 // incremented on every Lend; invalidates stale loans
	id     int
}

// ID returns the index of the buffer within its pool.
func (b *Buffer) ID() int {
	return b.id
}

// Owner returns the current owner.
func (b *Buffer) Owner() Owner {
	return Owner(b.owner.Load())
}

// Cap returns the buffer capacity in bytes.
func (b *Buffer) Cap() int {
	return MaxFrameSize
}

// Acquire moves a free buffer to firmware ownership.
// Returns false if the buffer is not free.
func (b *Buffer) Acquire() bool {
	return b.owner.CompareAndSwap(uint32(OwnerFree), uint32(OwnerFirmware))
}

// Release moves a firmware-owned buffer back to free.
func (b *Buffer) Release() error {
	if b.Owner() != OwnerFirmware {
		return fmt.Errorf("release buffer %d owned by %s: %w", b.id, b.Owner(), pkg.ErrOwnership)
	}
	b.length = 0
	if !b.owner.CompareAndSwap(uint32(OwnerFirmware), uint32(OwnerFree)) {
		return fmt.Errorf("release buffer %d owned by %s: %w", b.id, b.Owner(), pkg.ErrOwnership)
	}
	return nil
}

// Len returns the number of valid bytes.
// The value is meaningful only while the caller owns the buffer.
func (b *Buffer) Len() int {
	return b.length
}

// Bytes returns the valid bytes of a firmware-owned buffer.
// The slice aliases the buffer and must not be used after the buffer is
// lent or released.
func (b *Buffer) Bytes() ([]byte, error) {
	if b.Owner() != OwnerFirmware {
		return nil, fmt.Errorf("read buffer %d owned by %s: %w", b.id, b.Owner(), pkg.ErrOwnership)
	}
	return b.data[:b.length], nil
}

// Fill copies p into a firmware-owned buffer and sets its length.
func (b *Buffer) Fill(p []byte) (int, error) {
	if b.Owner() != OwnerFirmware {
		return 0, fmt.Errorf("fill buffer %d owned by %s: %w", b.id, b.Owner(), pkg.ErrOwnership)
	}
	if len(p) > MaxFrameSize {
		return 0, pkg.ErrFrameTooLarge
	}
	b.length = copy(b.data[:], p)
	return b.length, nil
}

// Lend hands a firmware-owned buffer to hardware and returns the loan
// token the endpoint driver uses to access it.
func (b *Buffer) Lend() (Loan, error) {
	if !b.owner.CompareAndSwap(uint32(OwnerFirmware), uint32(OwnerHardware)) {
		return Loan{}, fmt.Errorf("lend buffer %d owned by %s: %w", b.id, b.Owner(), pkg.ErrOwnership)
	}
	return Loan{buf: b, gen: b.gen.Add(1)}, nil
}

// Loan is the token granting hardware access to a [Buffer].
// The zero value is an invalid loan.
type Loan struct {
	buf *Buffer
	gen uint32
}

// Valid reports whether the loan is still outstanding.
func (l Loan) Valid() bool {
	return l.buf != nil &&
		l.buf.gen.Load() == l.gen &&
		l.buf.Owner() == OwnerHardware
}

// Buffer returns the lent buffer.
func (l Loan) Buffer() *Buffer {
	return l.buf
}

// Bytes returns the full capacity of the buffer for hardware writes.
// Returns nil if the loan is no longer valid.
func (l Loan) Bytes() []byte {
	if !l.Valid() {
		return nil
	}
	return l.buf.data[:]
}

// Payload returns the valid bytes recorded when the buffer was lent,
// used by the transmit path. Returns nil if the loan is no longer valid.
func (l Loan) Payload() []byte {
	if !l.Valid() {
		return nil
	}
	return l.buf.data[:l.buf.length]
}

// Return gives the buffer back to firmware with n valid bytes.
// The loan is invalid afterwards.
func (l Loan) Return(n int) error {
	if !l.Valid() {
		return fmt.Errorf("return stale loan: %w", pkg.ErrOwnership)
	}
	if n < 0 || n > MaxFrameSize {
		return pkg.ErrOverrun
	}
	l.buf.length = n
	if !l.buf.owner.CompareAndSwap(uint32(OwnerHardware), uint32(OwnerFirmware)) {
		return fmt.Errorf("return buffer %d owned by %s: %w", l.buf.id, l.buf.Owner(), pkg.ErrOwnership)
	}
	return nil
}

// Cancel frees the buffer without handing data back to firmware. Used when
// a transfer completes with nothing to deliver (transmit done) or is
// aborted by an endpoint close.
func (l Loan) Cancel() error {
	if !l.Valid() {
		return fmt.Errorf("cancel stale loan: %w", pkg.ErrOwnership)
	}
	l.buf.length = 0
	if !l.buf.owner.CompareAndSwap(uint32(OwnerHardware), uint32(OwnerFree)) {
		return fmt.Errorf("cancel buffer %d owned by %s: %w", l.buf.id, l.buf.Owner(), pkg.ErrOwnership)
	}
	return nil
}
