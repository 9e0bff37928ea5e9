// Package fieldcipher implements the symmetric cipher consumed by the MPC
// cluster: an additive stream cipher over the BN254 scalar field with a MiMC
// keystream. One plaintext field element maps to one 32-byte ciphertext cell,
// matching the per-value ciphertext layout of the on-ledger records.
//
// The cipher provides confidentiality only. There is no authentication tag;
// integrity of computation results is enforced by the cluster's on-chain
// attestation, not client-side.
package fieldcipher

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

var (
	ErrInvalidWidth          = errors.New("invalid packing width")
	ErrInvalidCiphertextSize = errors.New("invalid ciphertext size")
)

const (
	// ElementSize is the serialized size of one field element.
	ElementSize = fr.Bytes

	// MinWidth and MaxWidth bound the packing width: how many plaintext
	// bytes occupy one field element. 31 bytes always fit below the BN254
	// scalar modulus; 32 would not.
	MinWidth = 1
	MaxWidth = 31

	nonceSize = 16
)

// Cipher encrypts and decrypts vectors of field elements under a 32-byte
// symmetric key (the ECDH shared secret, reduced into the field).
type Cipher struct {
	key fr.Element
}

// New creates a cipher for the given 32-byte key.
func New(key [32]byte) *Cipher {
	c := &Cipher{}
	c.key.SetBytes(key[:])
	return c
}

// Encrypt adds the keystream to each plaintext element. The same nonce must
// be presented at decryption time; a different nonce yields an unrelated
// keystream and therefore garbage plaintext, without any error signal.
func (c *Cipher) Encrypt(plaintext []fr.Element, nonce [nonceSize]byte) []fr.Element {
	out := make([]fr.Element, len(plaintext))
	for i := range plaintext {
		ks := c.keystreamAt(nonce, uint64(i))
		out[i].Add(&plaintext[i], &ks)
	}
	return out
}

// Decrypt subtracts the keystream from each ciphertext element.
func (c *Cipher) Decrypt(ciphertext []fr.Element, nonce [nonceSize]byte) []fr.Element {
	out := make([]fr.Element, len(ciphertext))
	for i := range ciphertext {
		ks := c.keystreamAt(nonce, uint64(i))
		out[i].Sub(&ciphertext[i], &ks)
	}
	return out
}

// keystreamAt derives keystream element i as MiMC(key || nonce || i). All
// inputs are canonical field encodings, so the hash writes cannot fail.
func (c *Cipher) keystreamAt(nonce [nonceSize]byte, i uint64) fr.Element {
	var nonceElem, ctrElem fr.Element
	nonceElem.SetBytes(nonce[:])
	ctrElem.SetUint64(i)

	keyBytes := c.key.Bytes()
	nonceBytes := nonceElem.Bytes()
	ctrBytes := ctrElem.Bytes()

	h := mimc.NewMiMC()
	_, _ = h.Write(keyBytes[:])
	_, _ = h.Write(nonceBytes[:])
	_, _ = h.Write(ctrBytes[:])

	var ks fr.Element
	ks.SetBytes(h.Sum(nil))
	return ks
}

// Pack splits data into width-byte little-endian chunks and lifts each chunk
// into a field element. The final chunk is zero-padded. The width is an
// explicit, validated parameter: values wider than the chosen width cannot be
// represented and must be packed at a larger width by the caller.
func Pack(data []byte, width int) ([]fr.Element, error) {
	if width < MinWidth || width > MaxWidth {
		return nil, fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidWidth, width, MinWidth, MaxWidth)
	}

	n := (len(data) + width - 1) / width
	elems := make([]fr.Element, n)
	for i := 0; i < n; i++ {
		chunk := make([]byte, width)
		start := i * width
		end := start + width
		if end > len(data) {
			end = len(data)
		}
		copy(chunk, data[start:end])
		elems[i].SetBytes(reverse(chunk))
	}
	return elems, nil
}

// Unpack is the inverse of Pack: it extracts the low width bytes of each
// element and concatenates them, truncated to length bytes. Elements whose
// value exceeds the width (e.g. after decrypting with a wrong nonce) are
// silently truncated.
func Unpack(elems []fr.Element, width, length int) ([]byte, error) {
	if width < MinWidth || width > MaxWidth {
		return nil, fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidWidth, width, MinWidth, MaxWidth)
	}

	out := make([]byte, 0, len(elems)*width)
	for i := range elems {
		be := elems[i].Bytes()
		out = append(out, reverse(be[ElementSize-width:])...)
	}
	if length > len(out) {
		return nil, fmt.Errorf("%w: %d elements at width %d hold %d bytes, want %d",
			ErrInvalidCiphertextSize, len(elems), width, len(out), length)
	}
	return out[:length], nil
}

// Flatten serializes ciphertext elements into the opaque wire blob, one
// 32-byte big-endian cell per element.
func Flatten(elems []fr.Element) []byte {
	out := make([]byte, 0, len(elems)*ElementSize)
	for i := range elems {
		b := elems[i].Bytes()
		out = append(out, b[:]...)
	}
	return out
}

// Expand parses a wire blob back into field elements.
func Expand(blob []byte) ([]fr.Element, error) {
	if len(blob) == 0 || len(blob)%ElementSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrInvalidCiphertextSize, len(blob), ElementSize)
	}

	elems := make([]fr.Element, len(blob)/ElementSize)
	for i := range elems {
		elems[i].SetBytes(blob[i*ElementSize : (i+1)*ElementSize])
	}
	return elems, nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}
