package bootstrap

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/blockcodec"
	"github.com/raiproto/node/ledgerid"
)

// frontierPair is one (account, latest hash) record in a frontier_req
// response stream.
type frontierPair struct {
	Address ledgerid.Address
	Latest  ledgerid.BlockHash
}

const (
	recordMore byte = 1
	recordEnd  byte = 0
)

func writeFrontierFrame(w io.Writer, addr ledgerid.Address, hash ledgerid.BlockHash) error {
	if _, err := w.Write([]byte{recordMore}); err != nil {
		return err
	}
	if _, err := w.Write(addr[:]); err != nil {
		return err
	}
	_, err := w.Write(hash[:])
	return err
}

func writeFrontierSentinel(w io.Writer) error {
	_, err := w.Write([]byte{recordEnd})
	return err
}

func readFrontierFrame(r io.Reader) (frontierPair, bool, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return frontierPair{}, false, err
	}
	if marker[0] == recordEnd {
		return frontierPair{}, false, nil
	}
	var p frontierPair
	if _, err := io.ReadFull(r, p.Address[:]); err != nil {
		return frontierPair{}, false, err
	}
	if _, err := io.ReadFull(r, p.Latest[:]); err != nil {
		return frontierPair{}, false, err
	}
	return p, true, nil
}

// writeBlockFrame serializes blk through codec and length-prefixes it, the
// same framing discipline internal/wire uses for its own payloads, so a
// block boundary never depends on the codec's wire format being
// self-delimiting.
func writeBlockFrame(w io.Writer, codec blockcodec.Codec, blk block.Block) error {
	var buf bytes.Buffer
	if err := codec.Serialize(&buf, blk); err != nil {
		return err
	}
	if _, err := w.Write([]byte{recordMore}); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(buf.Len()))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func writeBlockSentinel(w io.Writer) error {
	_, err := w.Write([]byte{recordEnd})
	return err
}

func readBlockFrame(r io.Reader, codec blockcodec.Codec) (block.Block, bool, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, false, err
	}
	if marker[0] == recordEnd {
		return nil, false, nil
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, false, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	blk, err := codec.Deserialize(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, false, err
	}
	return blk, true, nil
}
