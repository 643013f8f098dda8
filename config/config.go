// Package config holds the node's process-wide configuration: the local
// listen address, the network it participates in, its genesis account, an
// optional representative identity, and the peers it seeds its peer table
// and bootstrap attempts from.
//
// Grounded on the teacher's config package: a plain struct with
// Default*()-style network presets and a Valid() method returning
// package-level sentinel errors.
package config

import (
	"time"

	"github.com/raiproto/node/bootstrap"
	"github.com/raiproto/node/internal/gapcache"
	"github.com/raiproto/node/internal/wire"
	"github.com/raiproto/node/ledgerid"
)

// Config is the node's process-wide configuration.
type Config struct {
	// ListenAddr is this node's own UDP gossip endpoint. The stream
	// bootstrap responder listens on the same IP and port number over TCP
	// (spec.md §6.1).
	ListenAddr ledgerid.Endpoint

	// Network selects the wire network-id byte every outbound message
	// carries and every inbound message is checked against.
	Network wire.Network

	// GenesisAccount is the account whose open block seeds the ledger; its
	// balance is the chain's total supply minus whatever has since been
	// sent to the burn address.
	GenesisAccount ledgerid.Address
	GenesisBalance uint64

	// RepresentativeKeyRef names the key this node should load from its
	// (out of scope) keystore to act as a representative. Empty means the
	// node does not vote.
	RepresentativeKeyRef string

	// BootstrapPeers seeds the peer table at node construction. No stream
	// bootstrap session is started against them on their own account.
	BootstrapPeers []ledgerid.Endpoint

	// PeerCutoff is the liveness window after which a quiet peer is purged
	// from the peer table; KeepalivePeriod is the gossip period used both
	// to rate-limit outbound keepalives and to space an election's rounds.
	PeerCutoff      time.Duration
	KeepalivePeriod time.Duration

	// GapCacheBound is the maximum number of orphaned blocks the gap cache
	// retains before evicting the oldest.
	GapCacheBound int

	// BootstrapQueueSize is checked by Valid but not read by the node; a
	// bootstrap session's outstanding-request bound is the fixed
	// bootstrap.MaxQueueSize.
	BootstrapQueueSize int
}

// Default returns the test-network configuration every preset starts from.
// ListenAddr and GenesisAccount are left unset; callers must fill them in.
func Default() Config {
	return Config{
		Network:            wire.NetworkTest,
		GenesisBalance:     0,
		PeerCutoff:         5 * time.Minute,
		KeepalivePeriod:    1 * time.Minute,
		GapCacheBound:      gapcache.DefaultBound,
		BootstrapQueueSize: bootstrap.MaxQueueSize,
	}
}

// Mainnet returns Default with the live network id and production timings.
func Mainnet() Config {
	c := Default()
	c.Network = wire.NetworkLive
	c.PeerCutoff = 10 * time.Minute
	c.KeepalivePeriod = 1 * time.Minute
	return c
}

// Testnet returns Default unchanged; kept as a named preset so callers don't
// have to reach for Default directly when they mean "the test network".
func Testnet() Config {
	return Default()
}

// Local returns a preset tuned for a single-process multi-node test network:
// short timings so elections and peer purges settle quickly.
func Local() Config {
	c := Default()
	c.PeerCutoff = 5 * time.Second
	c.KeepalivePeriod = 1 * time.Second
	c.GapCacheBound = 64
	return c
}

// Valid reports whether c is well-formed, independent of whether the
// referenced representative key or bootstrap peers are actually reachable.
func (c Config) Valid() error {
	switch {
	case c.ListenAddr.IsZero():
		return ErrMissingListenAddr
	case c.Network != wire.NetworkTest && c.Network != wire.NetworkLive:
		return ErrInvalidNetwork
	case c.GenesisAccount.IsZero():
		return ErrMissingGenesisAccount
	case c.GenesisBalance == 0:
		return ErrGenesisBalanceZero
	case c.PeerCutoff < c.KeepalivePeriod:
		return ErrPeerCutoffTooLow
	case c.GapCacheBound < 1:
		return ErrGapBoundTooLow
	case c.KeepalivePeriod < time.Millisecond:
		return ErrElectionPeriodTooLow
	case c.BootstrapQueueSize < 1:
		return ErrBootstrapQueueTooLow
	}
	return nil
}

// IsRepresentative reports whether this node is configured to vote.
func (c Config) IsRepresentative() bool {
	return c.RepresentativeKeyRef != ""
}
