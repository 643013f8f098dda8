// Package wire serializes and parses the eight UDP gossip message kinds and
// the two stream bootstrap request kinds described in §4.4. Every message
// is framed by a fixed header (magic byte, network-id byte, kind byte,
// flags byte) followed by a big-endian uint32 payload length and the
// payload itself.
//
// Grounded on the fixed message_type/serialize/deserialize shape of
// original_source's rai::message hierarchy, re-expressed with
// encoding/binary the way internal/ringtail's certificate codec in this
// pack serializes its own fixed-width fields.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net/netip"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/blockcodec"
	"github.com/raiproto/node/ledgerid"
	"github.com/raiproto/node/pow"
)

// Magic identifies the protocol itself, independent of network id.
const Magic byte = 0x52 // 'R'

// Network identifies which network a message belongs to.
type Network byte

const (
	NetworkTest Network = 1
	NetworkLive Network = 2
)

// Kind is the wire message kind byte.
type Kind byte

const (
	KindInvalid Kind = iota
	KindKeepaliveReq
	KindKeepaliveAck
	KindPublishReq
	KindConfirmReq
	KindConfirmAck
	KindConfirmUnk
	KindBulkReq
	KindFrontierReq
)

func (k Kind) String() string {
	switch k {
	case KindKeepaliveReq:
		return "keepalive_req"
	case KindKeepaliveAck:
		return "keepalive_ack"
	case KindPublishReq:
		return "publish_req"
	case KindConfirmReq:
		return "confirm_req"
	case KindConfirmAck:
		return "confirm_ack"
	case KindConfirmUnk:
		return "confirm_unk"
	case KindBulkReq:
		return "bulk_req"
	case KindFrontierReq:
		return "frontier_req"
	default:
		return "invalid"
	}
}

// headerLen is magic + network + kind + flags.
const headerLen = 4

// Errors returned by Decode. Decode checks only the magic byte, returning
// ErrMalformedMessage on a mismatch; the network byte is returned to the
// caller unchecked, and the transport drops a network mismatch as bad_sender.
var (
	ErrMalformedMessage = errors.New("wire: malformed message")
	ErrUnknownKind      = errors.New("wire: unknown message kind")
)

// Message is implemented by every one of the eight kinds.
type Message interface {
	Kind() Kind
}

// Endpoint wire size: 16-byte v6 address + 2-byte port.
const endpointWireLen = 18

// KeepaliveReq carries up to 24 peer endpoints.
type KeepaliveReq struct {
	Peers [peertableSampleSize]ledgerid.Endpoint
}

func (KeepaliveReq) Kind() Kind { return KindKeepaliveReq }

// KeepaliveAck carries 24 peer endpoints plus a checksum of recently
// published block hashes.
type KeepaliveAck struct {
	Peers    [peertableSampleSize]ledgerid.Endpoint
	Checksum [32]byte
}

func (KeepaliveAck) Kind() Kind { return KindKeepaliveAck }

// Equal compares two keepalive_ack messages by peers and checksum.
func (a KeepaliveAck) Equal(other KeepaliveAck) bool {
	return a.Peers == other.Peers && a.Checksum == other.Checksum
}

// peertableSampleSize mirrors internal/peertable.SampleSize without
// importing the peertable package: keeping wire free of every other
// internal package avoids coupling the codec to peer-table internals it has
// no need to know about.
const peertableSampleSize = 24

// PublishReq carries a proof-of-work nonce and a block to publish.
type PublishReq struct {
	Work  pow.Nonce
	Block block.Block
}

func (PublishReq) Kind() Kind { return KindPublishReq }

// ConfirmReq carries a proof-of-work nonce and a block to solicit votes on.
type ConfirmReq struct {
	Work  pow.Nonce
	Block block.Block
}

func (ConfirmReq) Kind() Kind { return KindConfirmReq }

// ConfirmAck carries a representative's vote plus the proof-of-work nonce
// of the block it is voting for.
type ConfirmAck struct {
	Vote ledgerid.Vote
	Work pow.Nonce
}

func (ConfirmAck) Kind() Kind { return KindConfirmAck }

// ConfirmUnk indicates the sender is not a representative.
type ConfirmUnk struct {
	RepHint ledgerid.Address
}

func (ConfirmUnk) Kind() Kind { return KindConfirmUnk }

// BulkReq requests a block range over a bootstrap stream. The responder
// walks an account chain forward, oldest to newest: a Start naming a stored
// block is exclusive (its successor is served first), otherwise Start is
// read as an account address and the range begins at its Open block. The
// walk stops after serving End (inclusive) or Count blocks (0: no limit).
// Ranges are not served newest-first.
type BulkReq struct {
	Start ledgerid.BlockHash
	End   ledgerid.BlockHash
	Count uint32
}

func (BulkReq) Kind() Kind { return KindBulkReq }

// FrontierReq requests (address, latest hash) pairs over a bootstrap
// stream, starting at Start and skipping accounts older than Age seconds.
type FrontierReq struct {
	Start ledgerid.Address
	Age   uint32
	Count uint32
}

func (FrontierReq) Kind() Kind { return KindFrontierReq }

// Encode writes msg's header and payload to w. codec is required only for
// PublishReq/ConfirmReq, whose payload embeds a serialized block.
func Encode(w io.Writer, network Network, msg Message, codec blockcodec.Codec) error {
	var payload bytes.Buffer
	if err := encodePayload(&payload, msg, codec); err != nil {
		return err
	}

	header := [headerLen]byte{Magic, byte(network), byte(msg.Kind()), 0}
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(payload.Len()))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

func encodePayload(buf *bytes.Buffer, msg Message, codec blockcodec.Codec) error {
	switch m := msg.(type) {
	case KeepaliveReq:
		return writeEndpoints(buf, m.Peers[:])
	case KeepaliveAck:
		if err := writeEndpoints(buf, m.Peers[:]); err != nil {
			return err
		}
		_, err := buf.Write(m.Checksum[:])
		return err
	case PublishReq:
		if _, err := buf.Write(m.Work[:]); err != nil {
			return err
		}
		return codec.Serialize(buf, m.Block)
	case ConfirmReq:
		if _, err := buf.Write(m.Work[:]); err != nil {
			return err
		}
		return codec.Serialize(buf, m.Block)
	case ConfirmAck:
		if err := writeVote(buf, m.Vote); err != nil {
			return err
		}
		_, err := buf.Write(m.Work[:])
		return err
	case ConfirmUnk:
		_, err := buf.Write(m.RepHint[:])
		return err
	case BulkReq:
		if _, err := buf.Write(m.Start[:]); err != nil {
			return err
		}
		if _, err := buf.Write(m.End[:]); err != nil {
			return err
		}
		return binary.Write(buf, binary.BigEndian, m.Count)
	case FrontierReq:
		if _, err := buf.Write(m.Start[:]); err != nil {
			return err
		}
		if err := binary.Write(buf, binary.BigEndian, m.Age); err != nil {
			return err
		}
		return binary.Write(buf, binary.BigEndian, m.Count)
	default:
		return ErrUnknownKind
	}
}

// Decode reads one message from r. codec is required only for kinds whose
// payload embeds a serialized block.
func Decode(r io.Reader, codec blockcodec.Codec) (Network, Message, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, ErrMalformedMessage
	}
	if header[0] != Magic {
		return 0, nil, ErrMalformedMessage
	}
	network := Network(header[1])
	kind := Kind(header[2])

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, ErrMalformedMessage
	}
	payloadLen := binary.BigEndian.Uint32(lenBuf[:])
	payload := io.LimitReader(r, int64(payloadLen))

	msg, err := decodePayload(kind, payload, codec)
	if err != nil {
		return network, nil, err
	}
	return network, msg, nil
}

func decodePayload(kind Kind, r io.Reader, codec blockcodec.Codec) (Message, error) {
	switch kind {
	case KindKeepaliveReq:
		var m KeepaliveReq
		peers, err := readEndpoints(r, peertableSampleSize)
		if err != nil {
			return nil, err
		}
		copy(m.Peers[:], peers)
		return m, nil
	case KindKeepaliveAck:
		var m KeepaliveAck
		peers, err := readEndpoints(r, peertableSampleSize)
		if err != nil {
			return nil, err
		}
		copy(m.Peers[:], peers)
		if _, err := io.ReadFull(r, m.Checksum[:]); err != nil {
			return nil, ErrMalformedMessage
		}
		return m, nil
	case KindPublishReq:
		var m PublishReq
		if _, err := io.ReadFull(r, m.Work[:]); err != nil {
			return nil, ErrMalformedMessage
		}
		blk, err := codec.Deserialize(r)
		if err != nil {
			return nil, ErrMalformedMessage
		}
		m.Block = blk
		return m, nil
	case KindConfirmReq:
		var m ConfirmReq
		if _, err := io.ReadFull(r, m.Work[:]); err != nil {
			return nil, ErrMalformedMessage
		}
		blk, err := codec.Deserialize(r)
		if err != nil {
			return nil, ErrMalformedMessage
		}
		m.Block = blk
		return m, nil
	case KindConfirmAck:
		var m ConfirmAck
		vote, err := readVote(r)
		if err != nil {
			return nil, err
		}
		m.Vote = vote
		if _, err := io.ReadFull(r, m.Work[:]); err != nil {
			return nil, ErrMalformedMessage
		}
		return m, nil
	case KindConfirmUnk:
		var m ConfirmUnk
		if _, err := io.ReadFull(r, m.RepHint[:]); err != nil {
			return nil, ErrMalformedMessage
		}
		return m, nil
	case KindBulkReq:
		var m BulkReq
		if _, err := io.ReadFull(r, m.Start[:]); err != nil {
			return nil, ErrMalformedMessage
		}
		if _, err := io.ReadFull(r, m.End[:]); err != nil {
			return nil, ErrMalformedMessage
		}
		if err := binary.Read(r, binary.BigEndian, &m.Count); err != nil {
			return nil, ErrMalformedMessage
		}
		return m, nil
	case KindFrontierReq:
		var m FrontierReq
		if _, err := io.ReadFull(r, m.Start[:]); err != nil {
			return nil, ErrMalformedMessage
		}
		if err := binary.Read(r, binary.BigEndian, &m.Age); err != nil {
			return nil, ErrMalformedMessage
		}
		if err := binary.Read(r, binary.BigEndian, &m.Count); err != nil {
			return nil, ErrMalformedMessage
		}
		return m, nil
	default:
		return nil, ErrUnknownKind
	}
}

func writeEndpoints(buf *bytes.Buffer, peers []ledgerid.Endpoint) error {
	for _, ep := range peers {
		var raw [endpointWireLen]byte
		if ep.Addr.IsValid() {
			as16 := ep.Addr.As16()
			copy(raw[:16], as16[:])
		}
		binary.BigEndian.PutUint16(raw[16:18], ep.Port)
		if _, err := buf.Write(raw[:]); err != nil {
			return err
		}
	}
	return nil
}

func readEndpoints(r io.Reader, n int) ([]ledgerid.Endpoint, error) {
	out := make([]ledgerid.Endpoint, n)
	for i := 0; i < n; i++ {
		var raw [endpointWireLen]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return nil, ErrMalformedMessage
		}
		var addrBytes [16]byte
		copy(addrBytes[:], raw[:16])
		port := binary.BigEndian.Uint16(raw[16:18])
		if addrBytes == ([16]byte{}) && port == 0 {
			out[i] = ledgerid.Endpoint{}
			continue
		}
		addr := netip.AddrFrom16(addrBytes)
		if addr.Is4In6() {
			addr = addr.Unmap()
		}
		out[i] = ledgerid.Endpoint{Addr: addr, Port: port}
	}
	return out, nil
}

func writeVote(buf *bytes.Buffer, v ledgerid.Vote) error {
	if _, err := buf.Write(v.Representative[:]); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, v.Sequence); err != nil {
		return err
	}
	if _, err := buf.Write(v.Signature[:]); err != nil {
		return err
	}
	_, err := buf.Write(v.BlockHash[:])
	return err
}

func readVote(r io.Reader) (ledgerid.Vote, error) {
	var v ledgerid.Vote
	if _, err := io.ReadFull(r, v.Representative[:]); err != nil {
		return v, ErrMalformedMessage
	}
	if err := binary.Read(r, binary.BigEndian, &v.Sequence); err != nil {
		return v, ErrMalformedMessage
	}
	if _, err := io.ReadFull(r, v.Signature[:]); err != nil {
		return v, ErrMalformedMessage
	}
	if _, err := io.ReadFull(r, v.BlockHash[:]); err != nil {
		return v, ErrMalformedMessage
	}
	return v, nil
}
