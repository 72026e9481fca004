// Package sha256 provides streaming SHA-256 digests for ingested content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"github.com/JakeFAU/crawlbridge/internal/crawler"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// NewDigest starts a digest that content can be written through.
func (Hasher) NewDigest() crawler.Digest {
	return &Digest{h: sha256.New()}
}

// Digest is a running SHA-256 sum.
type Digest struct {
	h hash.Hash
	n int64
}

// Write adds p to the sum. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	n, _ := d.h.Write(p)
	d.n += int64(n)
	return n, nil
}

// Sum returns the hex digest of everything written so far.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size reports how many bytes were written.
func (d *Digest) Size() int64 {
	return d.n
}
