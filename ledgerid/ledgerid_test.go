package ledgerid

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsReserved(t *testing.T) {
	cases := []struct {
		name     string
		addr     string
		reserved bool
	}{
		{"loopback v4", "127.0.0.1", true},
		{"loopback v6", "::1", true},
		{"unspecified v4", "0.0.0.0", true},
		{"multicast v4", "224.0.0.1", true},
		{"link-local v4", "169.254.1.1", true},
		{"doc range", "192.0.2.5", true},
		{"public v4", "8.8.8.8", false},
		{"public v6", "2606:4700:4700::1111", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr := netip.MustParseAddr(tc.addr)
			require.Equal(t, tc.reserved, IsReserved(addr))
		})
	}
}

func TestBlockHashLess(t *testing.T) {
	var a, b BlockHash
	a[31] = 1
	b[31] = 2
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.False(t, a.Less(a))
}

func TestEndpointRoundTrip(t *testing.T) {
	ap := netip.MustParseAddrPort("203.0.113.9:7075")
	ep := EndpointFromAddrPort(ap)
	require.Equal(t, ap, ep.AddrPort())
	require.False(t, ep.IsZero())

	var zero Endpoint
	require.True(t, zero.IsZero())
}
