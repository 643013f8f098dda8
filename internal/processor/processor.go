// Package processor implements the message processor: the single dispatch
// point every decoded inbound message passes through on its way to the
// ledger, peer table, gap cache and conflict resolver.
//
// Grounded on spec.md §4.6's process_message table, generalized in the
// teacher's style of a thin dispatcher delegating to owned subsystems
// (protocol/prism's poll Set delegating to Poll, applied here to wire
// kinds instead of consensus votes).
package processor

import (
	"sync"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/internal/conflicts"
	"github.com/raiproto/node/internal/gapcache"
	"github.com/raiproto/node/internal/peertable"
	"github.com/raiproto/node/internal/wire"
	"github.com/raiproto/node/ledger"
	"github.com/raiproto/node/ledgerid"
	"github.com/raiproto/node/pow"
)

// checksumHistory is how many of the most recently published block hashes
// feed the keepalive_ack checksum.
const checksumHistory = 32

// Sender delivers an outbound wire message to a peer. Implemented by
// internal/transport.Transport; kept as a narrow interface here so
// processor never imports transport.
type Sender interface {
	Send(ep ledgerid.Endpoint, msg wire.Message) error
}

// BootstrapStarter begins a stream bootstrap session against ep. Implemented
// by bootstrap.Initiator; a narrow interface for the same reason as Sender.
type BootstrapStarter interface {
	StartBootstrap(ep ledgerid.Endpoint)
}

// Processor is the message processor described by spec.md §4.6.
type Processor struct {
	log       log.Logger
	ledger    ledger.Ledger
	pow       pow.PoW
	peers     *peertable.Table
	gaps      *gapcache.Cache
	conflicts *conflicts.Conflicts
	sender    Sender
	bootstrap BootstrapStarter

	mu               sync.Mutex
	bootstrapping    bool
	recentHashes     [][]byte
	checksum         [32]byte

	insufficientWork prometheus.Counter
	dropped          *prometheus.CounterVec
	unknownOverUDP   prometheus.Counter
}

// New returns a Processor wired to its collaborators. conf must already be
// configured with whatever representative identity this node holds;
// Processor relays confirm_ack votes through conf.CastVote rather than
// minting its own.
func New(
	ledg ledger.Ledger,
	powChecker pow.PoW,
	peers *peertable.Table,
	gaps *gapcache.Cache,
	conf *conflicts.Conflicts,
	sender Sender,
	bootstrap BootstrapStarter,
	logger log.Logger,
	reg prometheus.Registerer,
) *Processor {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	p := &Processor{
		log:       logger,
		ledger:    ledg,
		pow:       powChecker,
		peers:     peers,
		gaps:      gaps,
		conflicts: conf,
		sender:    sender,
		bootstrap: bootstrap,
		insufficientWork: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_insufficient_work_total",
			Help: "Publish/confirm requests dropped for failing the proof-of-work check.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "processor_dropped_total",
			Help: "Blocks dropped by ledger outcome (old, bad_signature, negative_spend, overspend, not_receive_from_send).",
		}, []string{"reason"}),
		unknownOverUDP: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_unknown_over_udp_total",
			Help: "Stream-only message kinds received over the UDP transport.",
		}),
	}
	if reg != nil {
		_ = reg.Register(p.insufficientWork)
		_ = reg.Register(p.dropped)
		_ = reg.Register(p.unknownOverUDP)
	}
	return p
}

// ProcessMessage is the single entry point for every decoded inbound
// datagram, per spec.md §4.6. allowWorkCheckSkip bypasses the proof-of-work
// gate; it exists for re-entering gap-cache orphans, which already passed
// the check once.
func (p *Processor) ProcessMessage(msg wire.Message, from ledgerid.Endpoint, allowWorkCheckSkip bool) {
	switch m := msg.(type) {
	case wire.KeepaliveReq:
		p.mergePeers(m.Peers[:], from)
		var sample [peertable.SampleSize]ledgerid.Endpoint
		p.peers.RandomFill(&sample)
		ack := wire.KeepaliveAck{Peers: sample, Checksum: p.snapshotChecksum()}
		_ = p.sender.Send(from, ack)

	case wire.KeepaliveAck:
		p.mergePeers(m.Peers[:], from)
		p.peers.IncomingFromPeer(from)

	case wire.PublishReq:
		p.processReceiveRepublish(m.Block, m.Work, from, allowWorkCheckSkip, false)

	case wire.ConfirmReq:
		p.processReceiveRepublish(m.Block, m.Work, from, allowWorkCheckSkip, true)

	case wire.ConfirmAck:
		// Conflicts.Update verifies the vote's signature against its
		// claimed representative before tallying it. The wire format
		// carries only the voted hash, not the block itself, so there is
		// no embedded block to seed the ledger with here.
		p.conflicts.Update(m.Vote)

	case wire.ConfirmUnk:
		// Representative-hint feature; no core policy action.

	case wire.BulkReq, wire.FrontierReq:
		p.unknownOverUDP.Inc()

	default:
		p.unknownOverUDP.Inc()
	}
}

func (p *Processor) mergePeers(peers []ledgerid.Endpoint, from ledgerid.Endpoint) {
	for _, ep := range peers {
		if ep.IsZero() || ep == from {
			continue
		}
		p.peers.IncomingFromPeer(ep)
	}
}

// processReceiveRepublish implements process_receive_republish: validate
// proof of work, apply the block to the ledger, and act on the outcome.
// When requestConfirm is set (the message was a confirm_req), this node
// also casts and relays its own vote if it is a representative.
func (p *Processor) processReceiveRepublish(blk block.Block, work pow.Nonce, from ledgerid.Endpoint, allowWorkCheckSkip, requestConfirm bool) {
	if !allowWorkCheckSkip && !p.pow.Validate(blk.Root(), work) {
		p.insufficientWork.Inc()
		return
	}

	result := p.ledger.Process(blk)
	switch {
	case result == ledger.Progress:
		p.recordPublished(blk.Hash())
		p.republish(blk, work, from)
		p.reenterOrphan(blk.Hash())

	case result.IsGap():
		// Both gap kinds are cached under blk.Previous(). A GapSource
		// orphan is therefore not re-entered when its source send
		// arrives, and Open blocks all share the zero key, so only the
		// first uncached one is kept.
		p.log.Debug("gap detected", "hash", blk.Hash().String(), "missing", blk.Previous().String())
		p.gaps.Add(blk, blk.Previous())
		p.maybeStartBootstrap(from)

	case result.IsFork():
		p.log.Debug("fork detected", "root", blk.Root().String(), "hash", blk.Hash().String())
		p.conflicts.Start(blk, work)

	default:
		p.log.Debug("block dropped", "reason", result.String())
		p.dropped.WithLabelValues(result.String()).Inc()
	}

	if requestConfirm && result != ledger.BadSignature {
		p.replyConfirmAck(blk, work, from)
	}
}

func (p *Processor) republish(blk block.Block, work pow.Nonce, from ledgerid.Endpoint) {
	req := wire.PublishReq{Work: work, Block: blk}
	for _, ep := range p.peers.All() {
		if ep == from {
			continue
		}
		_ = p.sender.Send(ep, req)
	}
}

// reenterOrphan looks up any orphan waiting on hash and re-applies it, now
// that its dependency has arrived. The orphan already passed its PoW check
// once, so the check is skipped on re-entry.
func (p *Processor) reenterOrphan(hash ledgerid.BlockHash) {
	orphan, ok := p.gaps.Get(hash)
	if !ok {
		return
	}
	p.processReceiveRepublish(orphan, pow.Nonce{}, ledgerid.Endpoint{}, true, false)
}

func (p *Processor) maybeStartBootstrap(from ledgerid.Endpoint) {
	p.mu.Lock()
	if p.bootstrapping {
		p.mu.Unlock()
		return
	}
	p.bootstrapping = true
	p.mu.Unlock()

	if p.bootstrap != nil {
		p.bootstrap.StartBootstrap(from)
	}
}

// BootstrapFinished is called by the bootstrap subsystem once a session
// completes (successfully or not), allowing the next gap to trigger a new
// session.
func (p *Processor) BootstrapFinished() {
	p.mu.Lock()
	p.bootstrapping = false
	p.mu.Unlock()
}

func (p *Processor) replyConfirmAck(blk block.Block, work pow.Nonce, from ledgerid.Endpoint) {
	vote, ok := p.conflicts.CastVote(blk)
	if !ok {
		return
	}
	ack := wire.ConfirmAck{Vote: vote, Work: work}
	_ = p.sender.Send(from, ack)
}

// recordPublished folds hash into the running checksum of the most
// recently published blocks, bounded to the last checksumHistory entries.
func (p *Processor) recordPublished(hash ledgerid.BlockHash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recentHashes = append(p.recentHashes, append([]byte{}, hash[:]...))
	if len(p.recentHashes) > checksumHistory {
		p.recentHashes = p.recentHashes[len(p.recentHashes)-checksumHistory:]
	}
	var sum [32]byte
	for _, h := range p.recentHashes {
		for i := range sum {
			sum[i] ^= h[i]
		}
	}
	p.checksum = sum
}

func (p *Processor) snapshotChecksum() [32]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checksum
}
