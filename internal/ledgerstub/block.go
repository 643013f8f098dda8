// Package ledgerstub is a minimal in-memory implementation of ledger.Ledger,
// ledger-compatible blockcodec.Codec, and a concrete block type, so the node
// can run end-to-end (tests, the "genesis" and "start" CLI paths) without a
// real disk-backed account-chain store. The on-disk store itself stays out
// of scope per spec.md §1.
//
// Grounded on the teacher's habit of pairing an interface package with a
// small reference implementation for tests (ringtail/ringtail.go wrapping
// github.com/luxfi/crypto/ringtail); block hashing is delegated to the same
// github.com/luxfi/crypto/hashing helper protocol/mysticeti uses for its own
// block IDs.
package ledgerstub

import (
	"encoding/binary"

	"github.com/luxfi/crypto/hashing"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/ledgerid"
)

// Block is a concrete, fully-populated account-chain block. Balance is the
// account's resulting balance immediately after this block, following the
// teacher's absolute-balance (not delta) convention inherited from the
// original ledger's block model.
type Block struct {
	kind           block.Kind
	account        ledgerid.Address
	previous       ledgerid.BlockHash
	representative ledgerid.Address
	balance        uint64
	link           ledgerid.BlockHash // destination account (Send) or source block hash (Receive/Open)
	signature      ledgerid.Signature
	hash           ledgerid.BlockHash
}

// NewOpen builds an Open block: previous is always the zero hash and Root()
// reports account, matching ledgerid.Root's dual use as either an account
// address or a predecessor hash.
func NewOpen(account, representative ledgerid.Address, source ledgerid.BlockHash, balance uint64) *Block {
	b := &Block{
		kind:           block.Open,
		account:        account,
		previous:       ledgerid.BlockHash{},
		representative: representative,
		balance:        balance,
		link:           source,
	}
	b.hash = hashBlock(b)
	return b
}

// NewSend builds a Send block extending previous, leaving the account's
// balance at newBalance and naming destination as the link.
func NewSend(account ledgerid.Address, previous ledgerid.BlockHash, representative ledgerid.Address, newBalance uint64, destination ledgerid.Address) *Block {
	b := &Block{
		kind:           block.Send,
		account:        account,
		previous:       previous,
		representative: representative,
		balance:        newBalance,
		link:           ledgerid.BlockHash(destination),
	}
	b.hash = hashBlock(b)
	return b
}

// NewReceive builds a Receive block pairing with the Send block named by
// source, crediting its amount onto previous's balance.
func NewReceive(account ledgerid.Address, previous ledgerid.BlockHash, representative ledgerid.Address, newBalance uint64, source ledgerid.BlockHash) *Block {
	b := &Block{
		kind:           block.Receive,
		account:        account,
		previous:       previous,
		representative: representative,
		balance:        newBalance,
		link:           source,
	}
	b.hash = hashBlock(b)
	return b
}

// NewChange builds a Change block switching the account's representative
// without moving funds.
func NewChange(account ledgerid.Address, previous ledgerid.BlockHash, balance uint64, representative ledgerid.Address) *Block {
	b := &Block{
		kind:           block.Change,
		account:        account,
		previous:       previous,
		representative: representative,
		balance:        balance,
	}
	b.hash = hashBlock(b)
	return b
}

func (b *Block) Kind() block.Kind            { return b.kind }
func (b *Block) Hash() ledgerid.BlockHash     { return b.hash }
func (b *Block) Previous() ledgerid.BlockHash { return b.previous }

// Root reports the account address for an Open block (it has no
// predecessor of its own) and Previous() otherwise — the key the gap cache
// and conflict resolver index elections on.
func (b *Block) Root() ledgerid.Root {
	if b.kind == block.Open {
		return ledgerid.Root(b.account)
	}
	return b.previous
}

func (b *Block) Account() ledgerid.Address        { return b.account }
func (b *Block) Representative() ledgerid.Address { return b.representative }
func (b *Block) Balance() uint64                  { return b.balance }
func (b *Block) Link() ledgerid.BlockHash         { return b.link }
func (b *Block) Signature() ledgerid.Signature     { return b.signature }

// SetSignature attaches sig, computed by the caller's wallet key over
// Hash(). Block identity (Hash) does not depend on the signature.
func (b *Block) SetSignature(sig ledgerid.Signature) { b.signature = sig }

// hashBlock derives a block's identifying hash from its canonical fields.
// Deterministic and collision-resistant enough for a reference
// implementation; the real account-chain's signature-binding hash scheme is
// out of scope per spec.md §1.
func hashBlock(b *Block) ledgerid.BlockHash {
	buf := make([]byte, 0, 1+32+32+32+8+32)
	buf = append(buf, byte(b.kind))
	buf = append(buf, b.account[:]...)
	buf = append(buf, b.previous[:]...)
	buf = append(buf, b.representative[:]...)
	var balBuf [8]byte
	binary.BigEndian.PutUint64(balBuf[:], b.balance)
	buf = append(buf, balBuf[:]...)
	buf = append(buf, b.link[:]...)
	return ledgerid.BlockHash(hashing.ComputeHash256Array(buf))
}
