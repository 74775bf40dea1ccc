// Package sha256 computes hex SHA-256 digests of streamed content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Digest accumulates bytes written to it. The zero value is not usable; call New.
type Digest struct {
	h hash.Hash
	n int64
}

// New returns an empty Digest.
func New() *Digest {
	return &Digest{h: sha256.New()}
}

// Write implements io.Writer and never fails.
func (d *Digest) Write(p []byte) (int, error) {
	n, _ := d.h.Write(p)
	d.n += int64(n)
	return n, nil
}

// Size reports how many bytes were written.
func (d *Digest) Size() int64 { return d.n }

// Sum returns the hex digest of everything written so far.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Reset clears the digest so it can be reused for a retry.
func (d *Digest) Reset() {
	d.h.Reset()
	d.n = 0
}
