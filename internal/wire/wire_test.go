package wire

import (
	"bytes"
	"io"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/ledgerid"
)

// fakeBlock is a minimal block.Block for round-trip tests; it serializes as
// its kind byte followed by its 32-byte hash, previous and root.
type fakeBlock struct {
	kind     block.Kind
	hash     ledgerid.BlockHash
	previous ledgerid.BlockHash
	root     ledgerid.Root
}

func (b fakeBlock) Kind() block.Kind            { return b.kind }
func (b fakeBlock) Hash() ledgerid.BlockHash     { return b.hash }
func (b fakeBlock) Previous() ledgerid.BlockHash { return b.previous }
func (b fakeBlock) Root() ledgerid.Root          { return b.root }

// fakeCodec implements blockcodec.Codec with the fakeBlock wire shape above.
type fakeCodec struct{}

func (fakeCodec) Serialize(w io.Writer, blk block.Block) error {
	b := blk.(fakeBlock)
	if _, err := w.Write([]byte{byte(b.kind)}); err != nil {
		return err
	}
	if _, err := w.Write(b.hash[:]); err != nil {
		return err
	}
	if _, err := w.Write(b.previous[:]); err != nil {
		return err
	}
	_, err := w.Write(b.root[:])
	return err
}

func (fakeCodec) Deserialize(r io.Reader) (block.Block, error) {
	var kindByte [1]byte
	if _, err := io.ReadFull(r, kindByte[:]); err != nil {
		return nil, err
	}
	var b fakeBlock
	b.kind = block.Kind(kindByte[0])
	if _, err := io.ReadFull(r, b.hash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.previous[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b.root[:]); err != nil {
		return nil, err
	}
	return b, nil
}

func (fakeCodec) KindByte(blk block.Block) byte { return byte(blk.(fakeBlock).kind) }
func (fakeCodec) Hash(blk block.Block) ledgerid.BlockHash { return blk.(fakeBlock).hash }
func (fakeCodec) Previous(blk block.Block) ledgerid.BlockHash {
	return blk.(fakeBlock).previous
}
func (fakeCodec) Root(blk block.Block) ledgerid.Root { return blk.(fakeBlock).root }

func hashN(n byte) ledgerid.BlockHash {
	var h ledgerid.BlockHash
	h[31] = n
	return h
}

func addrN(n byte) ledgerid.Address {
	var a ledgerid.Address
	a[31] = n
	return a
}

func nonceN(n byte) (out [32]byte) {
	out[0] = n
	return out
}

func ep(s string) ledgerid.Endpoint {
	return ledgerid.EndpointFromAddrPort(netip.MustParseAddrPort(s))
}

func samplePeers() [peertableSampleSize]ledgerid.Endpoint {
	var out [peertableSampleSize]ledgerid.Endpoint
	out[0] = ep("10.0.0.2:7075")
	out[1] = ep("10.0.0.3:7075")
	return out
}

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, NetworkTest, msg, fakeCodec{}))
	network, decoded, err := Decode(&buf, fakeCodec{})
	require.NoError(t, err)
	require.Equal(t, NetworkTest, network)
	return decoded
}

func TestRoundTripKeepaliveReq(t *testing.T) {
	msg := KeepaliveReq{Peers: samplePeers()}
	require.Equal(t, msg, roundTrip(t, msg))
}

func TestRoundTripKeepaliveAck(t *testing.T) {
	msg := KeepaliveAck{Peers: samplePeers(), Checksum: [32]byte{1, 2, 3}}
	got := roundTrip(t, msg).(KeepaliveAck)
	require.True(t, msg.Equal(got))
}

func TestRoundTripPublishReq(t *testing.T) {
	blk := fakeBlock{kind: block.Send, hash: hashN(1), previous: hashN(2), root: hashN(2)}
	msg := PublishReq{Work: nonceN(7), Block: blk}
	got := roundTrip(t, msg).(PublishReq)
	require.Equal(t, msg.Work, got.Work)
	require.Equal(t, blk, got.Block)
}

func TestRoundTripConfirmReq(t *testing.T) {
	blk := fakeBlock{kind: block.Open, hash: hashN(3), previous: ledgerid.BlockHash{}, root: ledgerid.Root(addrN(9))}
	msg := ConfirmReq{Work: nonceN(8), Block: blk}
	got := roundTrip(t, msg).(ConfirmReq)
	require.Equal(t, msg.Work, got.Work)
	require.Equal(t, blk, got.Block)
}

func TestRoundTripConfirmAck(t *testing.T) {
	vote := ledgerid.Vote{
		Representative: addrN(5),
		Sequence:       42,
		Signature:      ledgerid.Signature{9, 9, 9},
		BlockHash:      hashN(6),
	}
	msg := ConfirmAck{Vote: vote, Work: nonceN(1)}
	require.Equal(t, msg, roundTrip(t, msg))
}

func TestRoundTripConfirmUnk(t *testing.T) {
	msg := ConfirmUnk{RepHint: addrN(11)}
	require.Equal(t, msg, roundTrip(t, msg))
}

func TestRoundTripBulkReq(t *testing.T) {
	msg := BulkReq{Start: hashN(1), End: hashN(2), Count: 100}
	require.Equal(t, msg, roundTrip(t, msg))
}

func TestRoundTripFrontierReq(t *testing.T) {
	msg := FrontierReq{Start: addrN(4), Age: 3600, Count: 1000}
	require.Equal(t, msg, roundTrip(t, msg))
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, NetworkTest, ConfirmUnk{}, fakeCodec{}))
	raw := buf.Bytes()
	raw[0] = 0xFF
	_, _, err := Decode(bytes.NewReader(raw), fakeCodec{})
	require.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, _, err := Decode(bytes.NewReader([]byte{Magic, 1}), fakeCodec{})
	require.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{Magic, byte(NetworkTest), 0xEE, 0})
	var lenBuf [4]byte
	buf.Write(lenBuf[:])
	_, _, err := Decode(&buf, fakeCodec{})
	require.ErrorIs(t, err, ErrUnknownKind)
}
