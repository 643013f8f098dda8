// Package ledgerid defines the small value types shared across the node:
// account addresses, block hashes, signatures and the UDP/TCP endpoints
// peers are addressed by.
package ledgerid

import (
	"encoding/hex"
	"net/netip"
)

// AddressLen is the length in bytes of an account address.
const AddressLen = 32

// HashLen is the length in bytes of a block hash.
const HashLen = 32

// SignatureLen is the length in bytes of a block or vote signature.
const SignatureLen = 64

// Address identifies an account. It doubles as the root of an account's
// first (open) block.
type Address [AddressLen]byte

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// BlockHash identifies a block.
type BlockHash [HashLen]byte

// IsZero reports whether h is the zero hash.
func (h BlockHash) IsZero() bool {
	return h == BlockHash{}
}

func (h BlockHash) String() string {
	return hex.EncodeToString(h[:])
}

// Less orders hashes numerically; used for the election tie-break rule
// (the numerically smaller hash wins a tied vote).
func (h BlockHash) Less(other BlockHash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// Root is either an account's address (for its first block) or the hash of
// the block it extends. The two are the same width and are compared as
// opaque 32-byte keys by the conflict resolver.
type Root = BlockHash

// Signature is an opaque signature over a block or a vote.
type Signature [SignatureLen]byte

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// Endpoint is a UDP gossip address: an IP (v4 or v6) plus port.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// IsZero reports whether e is the unset endpoint.
func (e Endpoint) IsZero() bool {
	return !e.Addr.IsValid() && e.Port == 0
}

func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

// AddrPort returns e as a netip.AddrPort for use with the net package.
func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Addr, e.Port)
}

// EndpointFromAddrPort converts a netip.AddrPort into an Endpoint.
func EndpointFromAddrPort(ap netip.AddrPort) Endpoint {
	return Endpoint{Addr: ap.Addr(), Port: ap.Port()}
}

// TCPEndpoint is the stream-bootstrap counterpart of Endpoint.
type TCPEndpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e TCPEndpoint) String() string {
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

// AddrPort returns e as a netip.AddrPort for use with the net package.
func (e TCPEndpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Addr, e.Port)
}

// IsReserved reports whether addr belongs to a range that must never be
// treated as a routable peer: loopback, link-local, multicast, unspecified,
// or one of the IETF documentation ranges.
func IsReserved(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	switch {
	case addr.IsLoopback(),
		addr.IsUnspecified(),
		addr.IsMulticast(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast():
		return true
	}
	if addr.Is4() || addr.Is4In6() {
		a4 := addr.As4()
		switch {
		case a4[0] == 192 && a4[1] == 0 && a4[2] == 2: // TEST-NET-1
			return true
		case a4[0] == 198 && a4[1] == 51 && a4[2] == 100: // TEST-NET-2
			return true
		case a4[0] == 203 && a4[1] == 0 && a4[2] == 113: // TEST-NET-3
			return true
		}
	}
	if addr.Is6() && !addr.Is4In6() {
		a16 := addr.As16()
		if a16[0] == 0x20 && a16[1] == 0x01 && a16[2] == 0x0d && a16[3] == 0xb8 { // 2001:db8::/32
			return true
		}
	}
	return false
}
