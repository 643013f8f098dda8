package ledgerstub

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/blockcodec"
	"github.com/raiproto/node/ledgerid"
)

// wireSize is the fixed serialized width of a Block: kind(1) + account(32) +
// previous(32) + representative(32) + balance(8) + link(32) + signature(64).
const wireSize = 1 + 32 + 32 + 32 + 8 + 32 + 64

// ErrNotALedgerstubBlock is returned by Codec when asked to serialize a
// block.Block this package did not construct.
var ErrNotALedgerstubBlock = errors.New("ledgerstub: not a *ledgerstub.Block")

// Codec (de)serializes *Block in a fixed-width layout, implementing
// blockcodec.Codec.
type Codec struct{}

func (Codec) Serialize(w io.Writer, blk block.Block) error {
	b, ok := blk.(*Block)
	if !ok {
		return ErrNotALedgerstubBlock
	}
	buf := make([]byte, 0, wireSize)
	buf = append(buf, byte(b.kind))
	buf = append(buf, b.account[:]...)
	buf = append(buf, b.previous[:]...)
	buf = append(buf, b.representative[:]...)
	var balBuf [8]byte
	binary.BigEndian.PutUint64(balBuf[:], b.balance)
	buf = append(buf, balBuf[:]...)
	buf = append(buf, b.link[:]...)
	buf = append(buf, b.signature[:]...)
	_, err := w.Write(buf)
	return err
}

func (Codec) Deserialize(r io.Reader) (block.Block, error) {
	buf := make([]byte, wireSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	b := &Block{kind: block.Kind(buf[0])}
	off := 1
	copy(b.account[:], buf[off:off+32])
	off += 32
	copy(b.previous[:], buf[off:off+32])
	off += 32
	copy(b.representative[:], buf[off:off+32])
	off += 32
	b.balance = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	copy(b.link[:], buf[off:off+32])
	off += 32
	copy(b.signature[:], buf[off:off+64])
	b.hash = hashBlock(b)
	return b, nil
}

func (Codec) KindByte(blk block.Block) byte            { return byte(blk.(*Block).kind) }
func (Codec) Hash(blk block.Block) ledgerid.BlockHash     { return blk.Hash() }
func (Codec) Previous(blk block.Block) ledgerid.BlockHash { return blk.Previous() }
func (Codec) Root(blk block.Block) ledgerid.BlockHash      { return blk.Root() }
