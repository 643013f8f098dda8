// Package powstub is a minimal in-memory implementation of pow.PoW: a
// leading-zero-bit difficulty check over a root+nonce hash, in the same
// spirit as the original account-chain's work function, without its
// production difficulty target. Out of scope for the rest of the module
// per pow.PoW's doc comment.
package powstub

import (
	"github.com/luxfi/crypto/hashing"

	"github.com/raiproto/node/ledgerid"
	"github.com/raiproto/node/pow"
)

// PoW validates and generates nonces against a fixed difficulty expressed
// as a number of required leading zero bits in hashing.ComputeHash256Array
// of root||nonce.
type PoW struct {
	DifficultyBits int
}

// New returns a PoW requiring bits leading zero bits. bits=0 accepts any
// nonce, useful for tests that want to skip proof-of-work entirely.
func New(bits int) PoW {
	return PoW{DifficultyBits: bits}
}

func (p PoW) Validate(root ledgerid.BlockHash, nonce pow.Nonce) bool {
	return leadingZeroBits(digest(root, nonce)) >= p.DifficultyBits
}

// Generate brute-forces a nonce satisfying p's difficulty. Only ever called
// by the local node on its own blocks/votes; not on the inbound message
// path.
func (p PoW) Generate(root ledgerid.BlockHash) pow.Nonce {
	var nonce pow.Nonce
	for i := uint64(0); ; i++ {
		putCounter(&nonce, i)
		if leadingZeroBits(digest(root, nonce)) >= p.DifficultyBits {
			return nonce
		}
	}
}

func digest(root ledgerid.BlockHash, nonce pow.Nonce) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, root[:]...)
	buf = append(buf, nonce[:]...)
	return hashing.ComputeHash256Array(buf)
}

func putCounter(nonce *pow.Nonce, i uint64) {
	for b := 0; b < 8; b++ {
		nonce[b] = byte(i >> (8 * b))
	}
}

func leadingZeroBits(h [32]byte) int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask > 0; mask >>= 1 {
			if b&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}
