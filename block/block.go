// Package block declares the opaque ledger block the core subsystems pass
// around. The concrete block representation, its signature scheme, and its
// serialization are owned by the block codec and block store collaborators
// (out of scope for this module, per the on-disk store boundary); this
// package only names the narrow surface every other package needs: a
// block's kind, hash, predecessor and root.
package block

import "github.com/raiproto/node/ledgerid"

// Kind is one of the four block categories in the account chain.
type Kind byte

const (
	Invalid Kind = iota
	Send
	Receive
	Open
	Change
)

func (k Kind) String() string {
	switch k {
	case Send:
		return "send"
	case Receive:
		return "receive"
	case Open:
		return "open"
	case Change:
		return "change"
	default:
		return "invalid"
	}
}

// Block is an opaque, already-parsed ledger block.
type Block interface {
	// Kind returns the block's category.
	Kind() Kind

	// Hash returns the block's identifying hash.
	Hash() ledgerid.BlockHash

	// Previous returns the hash of the block this one extends, or the
	// zero hash for an Open block.
	Previous() ledgerid.BlockHash

	// Root returns the account address for an Open block, or Previous()
	// otherwise — the key the gap cache and conflict resolver index on.
	Root() ledgerid.Root
}
