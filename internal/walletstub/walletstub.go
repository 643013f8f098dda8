// Package walletstub is a minimal in-memory implementation of
// wallet.Wallet: an Ed25519 keypair held in process memory, standing in for
// the (out of scope) on-disk keystore. Plain Ed25519 rather than any pack
// threshold/BLS scheme (github.com/luxfi/crypto/bls,
// github.com/luxfi/crypto/ringtail) since a single representative here
// signs alone — there is no committee to threshold-sign across.
package walletstub

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/raiproto/node/ledgerid"
	"github.com/raiproto/node/wallet"
)

// signingKey adapts an ed25519.PrivateKey to wallet.PrivateKey.
type signingKey struct {
	key ed25519.PrivateKey
}

func (k signingKey) Sign(msg []byte) ledgerid.Signature {
	var sig ledgerid.Signature
	copy(sig[:], ed25519.Sign(k.key, msg))
	return sig
}

// Wallet holds at most one representative identity in memory.
type Wallet struct {
	address ledgerid.Address
	key     signingKey
	hasRep  bool
}

// New returns an empty wallet that does not act as a representative.
func New() *Wallet {
	return &Wallet{}
}

// GenerateRepresentative derives a fresh Ed25519 keypair, adopts its public
// key (truncated/padded to ledgerid.AddressLen) as the representative
// address, and returns it.
func (w *Wallet) GenerateRepresentative() (ledgerid.Address, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return ledgerid.Address{}, err
	}
	var addr ledgerid.Address
	copy(addr[:], pub)
	w.address = addr
	w.key = signingKey{key: priv}
	w.hasRep = true
	return addr, nil
}

func (w *Wallet) Fetch(pub ledgerid.Address) (wallet.PrivateKey, bool) {
	if !w.hasRep || pub != w.address {
		return nil, false
	}
	return w.key, true
}

func (w *Wallet) RepresentativeKey() (ledgerid.Address, bool) {
	if !w.hasRep {
		return ledgerid.Address{}, false
	}
	return w.address, true
}

// Verify checks sig as an Ed25519 signature by rep (its address is its
// public key) over msg.
func (w *Wallet) Verify(rep ledgerid.Address, msg []byte, sig ledgerid.Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(rep[:]), msg, sig[:])
}
