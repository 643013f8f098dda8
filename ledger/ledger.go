// Package ledger declares the contract the core subsystems need from the
// on-disk block store. The store itself — and the cryptographic block
// primitives it relies on — are out of scope for this module; only the
// narrow interface consumed by the message processor and conflict resolver
// lives here.
package ledger

import (
	"time"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/ledgerid"
)

// ProcessResult classifies the outcome of applying a block to the ledger.
type ProcessResult int

const (
	// Progress: the block extends the chain and was committed.
	Progress ProcessResult = iota
	// GapPrevious: the block's previous hash is unknown.
	GapPrevious
	// GapSource: the block is a receive whose paired send is unknown.
	GapSource
	// ForkPrevious: a different block already occupies this root.
	ForkPrevious
	// ForkSource: a different block already claims this receive's source.
	ForkSource
	// Old: the block (or a newer one for this root) is already present.
	Old
	// BadSignature: the block's signature does not verify.
	BadSignature
	// NegativeSpend: a send block would spend more than the account holds.
	NegativeSpend
	// Overspend: cumulative sends exceed the account balance.
	Overspend
	// NotReceiveFromSend: a receive does not pair with a pending send.
	NotReceiveFromSend
)

func (r ProcessResult) String() string {
	switch r {
	case Progress:
		return "progress"
	case GapPrevious:
		return "gap_previous"
	case GapSource:
		return "gap_source"
	case ForkPrevious:
		return "fork_previous"
	case ForkSource:
		return "fork_source"
	case Old:
		return "old"
	case BadSignature:
		return "bad_signature"
	case NegativeSpend:
		return "negative_spend"
	case Overspend:
		return "overspend"
	case NotReceiveFromSend:
		return "not_receive_from_send"
	default:
		return "unknown"
	}
}

// IsGap reports whether r calls for a gap-cache insertion and bootstrap.
func (r ProcessResult) IsGap() bool {
	return r == GapPrevious || r == GapSource
}

// IsFork reports whether r calls for an election on the block's root.
func (r ProcessResult) IsFork() bool {
	return r == ForkPrevious || r == ForkSource
}

// FrontierPair is one (address, latest block hash) entry returned while
// walking frontiers for a bootstrap responder.
type FrontierPair struct {
	Address ledgerid.Address
	Latest  ledgerid.BlockHash
	// Modified is when Latest was committed, so a responder can honor a
	// frontier_req's Age filter.
	Modified time.Time
}

// Ledger is the subset of the on-disk block store the core consumes.
type Ledger interface {
	// Process applies blk to the ledger and classifies the outcome.
	Process(blk block.Block) ProcessResult

	// Latest returns the latest block hash known for address.
	Latest(address ledgerid.Address) (ledgerid.BlockHash, bool)

	// RepresentativeBalance returns the voting weight delegated to rep.
	RepresentativeBalance(rep ledgerid.Address) uint64

	// SupplyMinusBurn returns the total supply minus the balance held by
	// the genesis burn address; election thresholds are fractions of it.
	SupplyMinusBurn() uint64

	// BlockExists reports whether hash is already stored.
	BlockExists(hash ledgerid.BlockHash) bool

	// Frontiers invokes f for every (address, latest hash) pair in address
	// order, starting at or after start, stopping when f returns false.
	// Used to answer frontier_req bootstrap requests.
	Frontiers(start ledgerid.Address, f func(FrontierPair) bool)

	// Block returns the stored block identified by hash.
	Block(hash ledgerid.BlockHash) (block.Block, bool)

	// OpenBlock returns account's first (open) block.
	OpenBlock(account ledgerid.Address) (block.Block, bool)

	// Successor returns the block immediately following prev in its
	// account's chain — the block whose Previous() equals prev. Used to
	// walk a bulk_req response forward from a known starting hash.
	Successor(prev ledgerid.BlockHash) (block.Block, bool)
}
