// Package blockcodec declares the block (de)serialization contract used to
// read blocks off the wire and out of bulk_req bootstrap streams. The
// concrete block format and its cryptographic verification are out of
// scope for this module.
package blockcodec

import (
	"io"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/ledgerid"
)

// Codec (de)serializes blocks and reports their kind byte for stream
// framing.
type Codec interface {
	// Deserialize reads one block from r.
	Deserialize(r io.Reader) (block.Block, error)

	// Serialize writes blk to w in the wire format Deserialize reads.
	Serialize(w io.Writer, blk block.Block) error

	// KindByte returns the wire kind byte for blk.
	KindByte(blk block.Block) byte

	// Hash returns blk's identifying hash. Equivalent to blk.Hash(), kept
	// as a codec method because hashing is a cryptographic primitive
	// delegated to the (out of scope) block/vote crypto module.
	Hash(blk block.Block) ledgerid.BlockHash

	// Previous returns blk's predecessor hash. Equivalent to
	// blk.Previous(); see Hash.
	Previous(blk block.Block) ledgerid.BlockHash

	// Root returns blk's conflict-resolution root. Equivalent to
	// blk.Root(); see Hash.
	Root(blk block.Block) ledgerid.BlockHash
}

// NotABlock is the sentinel kind byte a bulk_req responder writes after the
// last block in a range; the bootstrap package's record framing uses the
// same value for its end-of-range marker.
const NotABlock byte = 0
