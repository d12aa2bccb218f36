// Package lodpbuf implements the fixed-capacity scratch buffer (§3
// Buffer) used to hold both the plaintext and ciphertext views of one
// datagram, and the pool that hands them out (§5 Shared resources).
package lodpbuf

import (
	"errors"
	"sync"
)

// MSS is the maximum segment size: the upper bound, including AEAD
// overhead, of any datagram this module will ever emit or accept.
// This mirrors cell.FixedCellLen being a single compile-time constant
// the rest of the teacher's wire code is built around.
const MSS = 1280

// ErrTooLarge is returned when a caller attempts to grow a Buf past MSS.
var ErrTooLarge = errors.New("lodpbuf: length exceeds MSS")

// Buf is a single fixed-capacity scratch buffer holding both a
// plaintext and a ciphertext view over the same underlying storage,
// plus the buffer's current length (§3 Buffer invariants: len <= MSS
// always, contents scrubbed on return to the pool).
//
// Plaintext and Ciphertext alias the same backing array. The protocol
// core is single-threaded per Buf (§5 Scheduling model), so in-place
// encrypt/decrypt between the two views never races.
type Buf struct {
	storage    [MSS]byte
	Plaintext  []byte
	Ciphertext []byte
	Len        int
}

func newBuf() *Buf {
	b := &Buf{}
	b.Plaintext = b.storage[:]
	b.Ciphertext = b.storage[:]
	return b
}

// SetLen sets the buffer's current length, enforcing the MSS invariant.
func (b *Buf) SetLen(n int) error {
	if n < 0 || n > MSS {
		return ErrTooLarge
	}
	b.Len = n
	b.Plaintext = b.storage[:n]
	b.Ciphertext = b.storage[:n]
	return nil
}

// Bytes returns the full MSS-sized backing array regardless of the
// buffer's current length, for builders that must write a header and
// body into a freshly Alloc'd (zero-length) buffer before calling
// SetLen to commit the final size.
func (b *Buf) Bytes() []byte {
	return b.storage[:]
}

// Grow extends the buffer by n bytes, returning the newly exposed
// slice for the caller to fill (used by the AEAD envelope's padding
// hook, §4.2).
func (b *Buf) Grow(n int) ([]byte, error) {
	if b.Len+n > MSS {
		return nil, ErrTooLarge
	}
	start := b.Len
	if err := b.SetLen(b.Len + n); err != nil {
		return nil, err
	}
	return b.storage[start:b.Len], nil
}

func (b *Buf) reset() {
	Wipe(b.storage[:])
	b.Len = 0
	b.Plaintext = b.storage[:0]
	b.Ciphertext = b.storage[:0]
}

// Wipe zeros a byte slice; split out so lodpbuf doesn't need to import
// lodpcrypto (which would create an import cycle once lodpcrypto's
// tests start exercising buffers).
func Wipe(p []byte) {
	clear(p)
}

// Pool is a fixed-size-buffer pool (§5 Shared resources: "A buffer
// pool provides fixed-size scratch buffers; acquisition and release
// are scoped").
type Pool struct {
	p sync.Pool
}

// NewPool constructs a buffer pool.
func NewPool() *Pool {
	return &Pool{
		p: sync.Pool{
			New: func() any { return newBuf() },
		},
	}
}

// Alloc acquires a zero-length buffer from the pool.
func (pl *Pool) Alloc() *Buf {
	b := pl.p.Get().(*Buf)
	b.Len = 0
	b.Plaintext = b.storage[:0]
	b.Ciphertext = b.storage[:0]
	return b
}

// Free scrubs the buffer's contents and returns it to the pool. Every
// builder in package transport calls Free on every exit path,
// including error paths (§4.11: "Buffer release MUST be guaranteed on
// every exit path").
func (pl *Pool) Free(b *Buf) {
	if b == nil {
		return
	}
	b.reset()
	pl.p.Put(b)
}
