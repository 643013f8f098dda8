package bootstrap

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/blockcodec"
	"github.com/raiproto/node/internal/wire"
	"github.com/raiproto/node/ledger"
	"github.com/raiproto/node/ledgerid"
)

// OnBlock is invoked for every block a bulk_req response delivers, so the
// caller can re-enter it through the message processor exactly like a
// freshly published block (including gap-cache orphan re-entry).
type OnBlock func(blk block.Block, from ledgerid.Endpoint)

// Initiator drives outbound bootstrap sessions. Each session sends one
// frontier_req, then up to MaxQueueSize bulk_req frames for the accounts
// the frontier exchange found lagging.
type Initiator struct {
	log     log.Logger
	ledger  ledger.Ledger
	codec   blockcodec.Codec
	network wire.Network
	onBlock OnBlock
	onDone  func(Stats)

	mu      sync.Mutex
	running bool

	sessions     prometheus.Counter
	ioErrors     prometheus.Counter
	blocksPulled prometheus.Counter
}

// NewInitiator returns an Initiator ready to accept StartBootstrap calls.
// onBlock re-enters every pulled block through the caller's message
// processor; onDone, if set, is notified with the session's Stats once it
// finishes or fails.
func NewInitiator(
	ledg ledger.Ledger,
	codec blockcodec.Codec,
	network wire.Network,
	onBlock OnBlock,
	onDone func(Stats),
	logger log.Logger,
	reg prometheus.Registerer,
) *Initiator {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	i := &Initiator{
		log:     logger,
		ledger:  ledg,
		codec:   codec,
		network: network,
		onBlock: onBlock,
		onDone:  onDone,
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bootstrap_sessions_total",
			Help: "Bootstrap sessions initiated.",
		}),
		ioErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bootstrap_io_errors_total",
			Help: "Bootstrap sessions aborted on a stream I/O or protocol error.",
		}),
		blocksPulled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bootstrap_blocks_pulled_total",
			Help: "Blocks received from bulk_req responses.",
		}),
	}
	if reg != nil {
		_ = reg.Register(i.sessions)
		_ = reg.Register(i.ioErrors)
		_ = reg.Register(i.blocksPulled)
	}
	return i
}

// IsBootstrapping reports whether a session is currently in flight.
func (i *Initiator) IsBootstrapping() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// StartBootstrap implements processor.BootstrapStarter: it opens a TCP
// session to ep's bootstrap port — the same port number as the UDP socket,
// per spec.md §6.1 — and runs it on its own goroutine. A session already
// in flight makes this a no-op; the caller (the message processor) already
// guards against concurrent starts, but Initiator guards itself too since
// it may be driven from more than one caller in the future.
func (i *Initiator) StartBootstrap(ep ledgerid.Endpoint) {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return
	}
	i.running = true
	i.mu.Unlock()

	go i.run(ep)
}

func (i *Initiator) run(ep ledgerid.Endpoint) {
	stats := Stats{State: StateConnecting}
	defer func() {
		i.mu.Lock()
		i.running = false
		i.mu.Unlock()
		if i.onDone != nil {
			i.onDone(stats)
		}
	}()

	addr := net.JoinHostPort(ep.Addr.String(), strconv.Itoa(int(ep.Port)))
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		i.ioErrors.Inc()
		i.log.Debug("bootstrap dial failed", "peer", ep.String(), "error", err.Error())
		stats.State = StateFailed
		return
	}
	defer conn.Close()
	i.sessions.Inc()

	stats.State = StateFrontiers
	pairs, err := i.fetchFrontiers(conn)
	if err != nil {
		i.ioErrors.Inc()
		i.log.Debug("bootstrap frontier exchange failed", "peer", ep.String(), "error", err.Error())
		stats.State = StateFailed
		return
	}
	stats.AccountsScanned = len(pairs)

	stats.State = StateBulk
	queued := 0
	for _, p := range pairs {
		if queued >= MaxQueueSize {
			i.log.Debug("bootstrap queue full, deferring remaining accounts",
				"peer", ep.String(), "remaining", len(pairs)-queued)
			break
		}
		local, ok := i.ledger.Latest(p.Address)
		if ok && local == p.Latest {
			continue
		}
		queued++

		pulled, err := i.fetchBulk(conn, p, local, ep)
		stats.BlocksPulled += pulled
		i.blocksPulled.Add(float64(pulled))
		if err != nil {
			i.ioErrors.Inc()
			i.log.Debug("bootstrap bulk transfer failed",
				"peer", ep.String(), "account", p.Address.String(), "error", err.Error())
			stats.State = StateFailed
			return
		}
	}
	stats.State = StateFinished
}

func (i *Initiator) fetchFrontiers(conn net.Conn) ([]frontierPair, error) {
	req := wire.FrontierReq{Start: ledgerid.Address{}, Age: 0, Count: 0}
	if err := wire.Encode(conn, i.network, req, i.codec); err != nil {
		return nil, err
	}
	var pairs []frontierPair
	for {
		pair, ok, err := readFrontierFrame(conn)
		if err != nil {
			return nil, err
		}
		if !ok {
			return pairs, nil
		}
		pairs = append(pairs, pair)
	}
}

// fetchBulk requests the range after local (the account's last known
// block, or the zero hash if none is known yet) up to p.Latest. A fresh
// account is named by its address instead of a hash — the same 32-byte
// value reused for both purposes, mirroring the original bulk_req.start
// field — so the responder can distinguish "continue from this block"
// from "start this account's chain".
//
// Each delivered block is validated against expecting, the predecessor
// hash this account's chain should continue from: seeded from local (the
// zero hash for a fresh account, which an Open block's own zero Previous()
// satisfies), then advanced to each accepted block's own hash before the
// next frame is read. A block whose Previous() does not match expecting
// means the responder served a gap, a reorder, or outright garbage; the
// session is torn down on the spot rather than feeding a broken chain to
// the ledger.
func (i *Initiator) fetchBulk(conn net.Conn, p frontierPair, local ledgerid.BlockHash, from ledgerid.Endpoint) (int, error) {
	start := local
	if start.IsZero() {
		start = ledgerid.BlockHash(p.Address)
	}
	req := wire.BulkReq{Start: start, End: p.Latest, Count: 0}
	if err := wire.Encode(conn, i.network, req, i.codec); err != nil {
		return 0, err
	}

	count := 0
	expecting := local
	for {
		blk, ok, err := readBlockFrame(conn, i.codec)
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}
		if blk.Previous() != expecting {
			return count, fmt.Errorf("%w: account %s: expected predecessor %s, got block with previous %s",
				ErrBootstrapProtocol, p.Address.String(), expecting.String(), blk.Previous().String())
		}
		expecting = blk.Hash()

		count++
		if i.onBlock != nil {
			i.onBlock(blk, from)
		}
	}
}
