// Package object provides the immutable, reference-counted byte strings
// the broker routes: channel names and message payloads. Sharing a value
// across a fan-out is a Dup, never a copy; the bytes are released when
// the last holder calls Free.
//
// Each value caches a 64-bit symbol derived from its content
// (xxhash64), used as the hash component of index keys and as an
// equality fast path.
package object

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Bytes is an immutable reference-counted byte string.
// The zero value is not usable; construct with New or NewString.
type Bytes struct {
	ref  atomic.Int64
	data []byte
	sym  uint64
}

// Null is a distinguished placeholder value. Dup and Free on Null are
// no-ops, so it is safe to use as a map-key sentinel without lifecycle
// bookkeeping.
var Null = &Bytes{}

// live counts allocated values whose refcount has not yet reached zero.
// Tests use it to assert the broker neither leaks nor double-frees.
var live atomic.Int64

// Live returns the number of values currently held by at least one
// reference.
func Live() int64 { return live.Load() }

// New copies b into a fresh value with refcount 1.
func New(b []byte) *Bytes {
	data := make([]byte, len(b))
	copy(data, b)
	o := &Bytes{data: data, sym: xxhash.Sum64(data)}
	o.ref.Store(1)
	live.Add(1)
	return o
}

// NewString copies s into a fresh value with refcount 1.
func NewString(s string) *Bytes {
	o := &Bytes{data: []byte(s), sym: xxhash.Sum64String(s)}
	o.ref.Store(1)
	live.Add(1)
	return o
}

// Dup increments the refcount and returns o. Safe on nil and Null.
func (o *Bytes) Dup() *Bytes {
	if o == nil || o == Null {
		return o
	}
	if o.ref.Add(1) <= 1 {
		panic("object: Dup of a freed value")
	}
	return o
}

// Free decrements the refcount. The value must not be used after the
// holder's Free. Freeing more times than held panics. Safe on nil and
// Null.
func (o *Bytes) Free() {
	if o == nil || o == Null {
		return
	}
	switch n := o.ref.Add(-1); {
	case n == 0:
		o.data = nil
		live.Add(-1)
	case n < 0:
		panic("object: Free of a freed value")
	}
}

// Bytes returns the underlying byte view. Callers must not mutate it.
func (o *Bytes) Bytes() []byte {
	if o == nil {
		return nil
	}
	return o.data
}

// Len returns the content length in bytes.
func (o *Bytes) Len() int {
	if o == nil {
		return 0
	}
	return len(o.data)
}

func (o *Bytes) String() string {
	if o == nil {
		return ""
	}
	return string(o.data)
}

// Symbol returns the cached 64-bit content identity.
func (o *Bytes) Symbol() uint64 {
	if o == nil {
		return 0
	}
	return o.sym
}

// Equal reports content equality: pointer fast path, then symbol, then
// bytes.
func (o *Bytes) Equal(p *Bytes) bool {
	if o == p {
		return true
	}
	if o == nil || p == nil || o.sym != p.sym || len(o.data) != len(p.data) {
		return false
	}
	for i, b := range o.data {
		if p.data[i] != b {
			return false
		}
	}
	return true
}
