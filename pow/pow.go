// Package pow declares the proof-of-work contract the message processor
// uses to gate inbound publish_req/confirm_req messages. The validator
// itself (the PoW function and its difficulty target) is out of scope for
// this module.
package pow

import "github.com/raiproto/node/ledgerid"

// Nonce is the 32-byte proof-of-work value attached to publish_req and
// confirm_req messages.
type Nonce [32]byte

// PoW validates and generates proof-of-work nonces against a block root.
type PoW interface {
	// Validate reports whether nonce is sufficient work for root.
	Validate(root ledgerid.BlockHash, nonce Nonce) bool

	// Generate computes a valid nonce for root. Used only by the local
	// node when it needs to publish or vote on its own blocks.
	Generate(root ledgerid.BlockHash) Nonce
}
