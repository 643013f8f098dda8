// Package node is the composition root: it owns every subsystem described
// by spec.md §2 and wires them together in dependency order, exposing only
// Start and Stop to the CLI entrypoint.
//
// Grounded on the teacher's cmd/consensus/main.go composition-root style —
// a root command constructing and wiring named subsystems — generalized
// here from a one-shot CLI tool to a long-running node process.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/blockcodec"
	"github.com/raiproto/node/bootstrap"
	"github.com/raiproto/node/config"
	"github.com/raiproto/node/internal/conflicts"
	"github.com/raiproto/node/internal/gapcache"
	"github.com/raiproto/node/internal/peertable"
	"github.com/raiproto/node/internal/processor"
	"github.com/raiproto/node/internal/scheduler"
	"github.com/raiproto/node/internal/transport"
	"github.com/raiproto/node/internal/wire"
	"github.com/raiproto/node/ledger"
	"github.com/raiproto/node/ledgerid"
	"github.com/raiproto/node/pow"
	"github.com/raiproto/node/wallet"
)

// Node owns every long-lived subsystem and drives their lifecycle.
type Node struct {
	cfg config.Config
	log log.Logger

	ledger ledger.Ledger

	peers     *peertable.Table
	gaps      *gapcache.Cache
	sched     *scheduler.Scheduler
	conflicts *conflicts.Conflicts
	transport *transport.Transport
	processor *processor.Processor
	initiator *bootstrap.Initiator
	responder *bootstrap.Responder

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Announce is called by Conflicts to broadcast a confirm_req for an
// election's current candidates; Node relays it through the peer table and
// transport.
func (n *Node) broadcastConfirmReq(ep ledgerid.Endpoint, req wire.ConfirmReq) {
	if err := n.transport.Send(ep, req); err != nil {
		n.log.Debug("confirm_req broadcast failed", "peer", ep.String(), "error", err.Error())
	}
}

// New builds a Node from cfg and its external collaborators. codec, powImpl
// and wlt are the (out of scope) block codec, proof-of-work checker and
// representative keystore; callers wanting to run end-to-end without a
// real disk-backed ledger can pass internal/ledgerstub,
// internal/powstub and internal/walletstub implementations.
func New(cfg config.Config, ledg ledger.Ledger, codec blockcodec.Codec, powImpl pow.PoW, wlt wallet.Wallet, logger log.Logger, reg prometheus.Registerer) (*Node, error) {
	if err := cfg.Valid(); err != nil {
		return nil, fmt.Errorf("node: invalid config: %w", err)
	}
	if logger == nil {
		logger = log.NewNoOpLogger()
	}

	n := &Node{cfg: cfg, log: logger, ledger: ledg}

	n.peers = peertable.New(cfg.ListenAddr, cfg.PeerCutoff, cfg.KeepalivePeriod, logger, reg)
	n.gaps = gapcache.New(cfg.GapCacheBound, logger, reg)
	n.sched = scheduler.New(logger)
	n.conflicts = conflicts.New(ledg, wlt, n.peers, n.sched, cfg.KeepalivePeriod, n.broadcastConfirmReq, n.onConfirmed, logger, reg)

	var err error
	n.transport, err = transport.New(cfg.ListenAddr, cfg.Network, codec, n.handleInbound, logger, reg)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	n.initiator = bootstrap.NewInitiator(ledg, codec, cfg.Network, n.onBootstrapBlock, n.onBootstrapDone, logger, reg)
	n.responder = bootstrap.NewResponder(ledg, codec, cfg.Network, logger, reg)

	n.processor = processor.New(ledg, powImpl, n.peers, n.gaps, n.conflicts, n.transport, n.initiator, logger, reg)

	for _, ep := range cfg.BootstrapPeers {
		n.peers.IncomingFromPeer(ep)
	}

	return n, nil
}

// handleInbound adapts transport.Handler to processor.ProcessMessage.
func (n *Node) handleInbound(_ wire.Network, msg wire.Message, from ledgerid.Endpoint) {
	n.processor.ProcessMessage(msg, from, false)
}

// onBootstrapBlock re-enters a bulk_req-delivered block through the
// message processor exactly like a freshly published block, skipping the
// proof-of-work check since bulk-transferred blocks were already checked
// by whichever node first accepted them onto the wire.
func (n *Node) onBootstrapBlock(blk block.Block, from ledgerid.Endpoint) {
	n.processor.ProcessMessage(wire.PublishReq{Block: blk}, from, true)
}

func (n *Node) onBootstrapDone(stats bootstrap.Stats) {
	n.log.Debug("bootstrap session finished",
		"state", stats.State.String(),
		"accounts", stats.AccountsScanned,
		"blocks", stats.BlocksPulled)
	n.processor.BootstrapFinished()
}

// sendKeepalive delivers a keepalive_req carrying a fresh peer sample to
// each endpoint in to, satisfying peertable.Table.StartRefresh's
// sendKeepalive hook.
func (n *Node) sendKeepalive(to []ledgerid.Endpoint) {
	var sample [peertable.SampleSize]ledgerid.Endpoint
	n.peers.RandomFill(&sample)
	req := wire.KeepaliveReq{Peers: sample}
	for _, ep := range to {
		if err := n.transport.Send(ep, req); err != nil {
			n.log.Debug("keepalive send failed", "peer", ep.String(), "error", err.Error())
		}
	}
}

func (n *Node) onConfirmed(blk block.Block) {
	n.log.Debug("election confirmed", "root", blk.Root().String(), "block", blk.Hash().String())
}

// Start launches every background goroutine: the UDP transport's
// receive/send loops, the scheduler loop that fires election rounds and
// keepalive retries, and the stream bootstrap responder's TCP accept loop.
// Start returns once everything is listening; subsystems keep running
// until ctx is canceled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	ln, err := net.Listen("tcp", n.cfg.ListenAddr.String())
	if err != nil {
		cancel()
		return fmt.Errorf("node: bootstrap listen: %w", err)
	}

	n.mu.Lock()
	n.cancel = cancel
	n.mu.Unlock()

	n.transport.Start(ctx)
	go n.sched.Run()
	go n.responder.Serve(ln)
	n.peers.StartRefresh(n.sched, n.sendKeepalive)

	n.log.Debug("node started", "addr", n.cfg.ListenAddr.String(), "network", n.cfg.Network)
	return nil
}

// Stop cancels Start's context, stops the scheduler, waits for the
// bootstrap responder to drain, and then stops the transport.
func (n *Node) Stop() error {
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	n.sched.Stop()
	if err := n.responder.Stop(); err != nil {
		n.log.Debug("bootstrap responder stop failed", "error", err.Error())
	}
	return n.transport.Stop()
}

// RepresentativeBalance reports the voting weight currently delegated to
// rep, a thin pass-through used by operational tooling.
func (n *Node) RepresentativeBalance(rep ledgerid.Address) uint64 {
	return n.ledger.RepresentativeBalance(rep)
}

// PeerCount reports the number of peers currently known.
func (n *Node) PeerCount() int {
	return n.peers.Len()
}

// electionSettleWait is how long a scenario test typically waits for an
// election's rounds to complete.
const electionSettleWait = 4 * time.Second
