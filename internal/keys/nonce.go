package keys

import (
	"encoding/binary"
	"fmt"
)

// NonceSize is the wire size of an encryption nonce in bytes.
const NonceSize = 16

// Nonce is the unsigned 128-bit counter that keeps client-side encryption in
// lockstep with the nonce persisted in the user's on-ledger obligation record.
// The zero value is a valid starting nonce.
type Nonce struct {
	hi uint64
	lo uint64
}

// NonceFromUint64 returns a nonce holding the given 64-bit value.
func NonceFromUint64(v uint64) Nonce {
	return Nonce{lo: v}
}

// NonceFromBytes reconstructs a nonce from its 16-byte little-endian form.
func NonceFromBytes(b [NonceSize]byte) Nonce {
	return Nonce{
		lo: binary.LittleEndian.Uint64(b[0:8]),
		hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// Bytes returns the fixed 16-byte little-endian representation used by the
// field cipher and by the on-chain instruction encoding.
func (n Nonce) Bytes() [NonceSize]byte {
	var b [NonceSize]byte
	binary.LittleEndian.PutUint64(b[0:8], n.lo)
	binary.LittleEndian.PutUint64(b[8:16], n.hi)
	return b
}

// Inc returns the nonce incremented by one, carrying into the high word.
func (n Nonce) Inc() Nonce {
	n.lo++
	if n.lo == 0 {
		n.hi++
	}
	return n
}

// Cmp compares two nonces, returning -1, 0 or +1.
func (n Nonce) Cmp(o Nonce) int {
	switch {
	case n.hi < o.hi:
		return -1
	case n.hi > o.hi:
		return 1
	case n.lo < o.lo:
		return -1
	case n.lo > o.lo:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two nonces hold the same value.
func (n Nonce) Equal(o Nonce) bool {
	return n.Cmp(o) == 0
}

// Lo returns the low 64 bits of the counter.
func (n Nonce) Lo() uint64 {
	return n.lo
}

func (n Nonce) String() string {
	if n.hi == 0 {
		return fmt.Sprintf("%d", n.lo)
	}
	return fmt.Sprintf("0x%016x%016x", n.hi, n.lo)
}
