// Package wallet declares the keystore contract the message processor uses
// to construct votes on behalf of a local representative. The keystore
// itself is out of scope for this module.
package wallet

import "github.com/raiproto/node/ledgerid"

// PrivateKey is an opaque signing key handle.
type PrivateKey interface {
	// Sign returns a signature over msg.
	Sign(msg []byte) ledgerid.Signature
}

// Wallet resolves keys the node holds.
type Wallet interface {
	// Fetch returns the private key for pub, if this node holds it.
	Fetch(pub ledgerid.Address) (PrivateKey, bool)

	// RepresentativeKey returns the node's configured representative
	// identity, if it is acting as one.
	RepresentativeKey() (ledgerid.Address, bool)

	// Verify reports whether sig is rep's signature over msg. Conflicts
	// gates every incoming vote on this before tallying it, per
	// spec.md §4.7: a representative whose vote signature fails
	// verification is not counted.
	Verify(rep ledgerid.Address, msg []byte, sig ledgerid.Signature) bool
}
