// Package conflicts maintains the set of active elections, one per
// contested block root, and drives their vote tallying, confirmation
// thresholds and timeout rounds.
//
// Grounded on protocol/prism/set.go's request-keyed poll set (oldest-first
// finish processing, Debug-level structured logging on every state
// transition, a prometheus Gauge tracking the live set size) adapted from
// request-ID-keyed polls over an abstract validator bag to root-keyed
// elections over representative balance, and on poll/poll.go's
// earlyTermPoll for the early-termination-by-threshold tallying shape.
package conflicts

import (
	"math"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/internal/peertable"
	"github.com/raiproto/node/internal/scheduler"
	"github.com/raiproto/node/internal/wire"
	"github.com/raiproto/node/ledger"
	"github.com/raiproto/node/ledgerid"
	"github.com/raiproto/node/pow"
	"github.com/raiproto/node/wallet"
)

// maxRounds is the number of scheduled announcement rounds an election
// survives before it is dropped unconfirmed.
const maxRounds = 4

// Announce sends a confirm_req for blk (with its accompanying proof of
// work) to ep. Conflicts never touches a socket directly; it is handed
// this callback so it stays ignorant of transport.
type Announce func(ep ledgerid.Endpoint, req wire.ConfirmReq)

// OnConfirmed is invoked once an election confirms, with the winning
// candidate. Conflicts does not commit the winner to the ledger: a
// candidate that entered the election through a fork result, and so was
// refused by the ledger, stays uncommitted after it is confirmed. This hook
// is for application-level notification (e.g. releasing anything blocked
// on confirmation).
type OnConfirmed func(blk block.Block)

// Conflicts holds the live elections, keyed by block root.
type Conflicts struct {
	log    log.Logger
	ledger ledger.Ledger
	wallet wallet.Wallet
	peers  *peertable.Table
	sched  *scheduler.Scheduler
	period time.Duration

	announce    Announce
	onConfirmed OnConfirmed

	mu        sync.Mutex
	elections map[ledgerid.Root]*election
	hashRoot  map[ledgerid.BlockHash]ledgerid.Root
	sequences map[ledgerid.Address]uint64

	active    prometheus.Gauge
	confirmed prometheus.Counter
	expired   prometheus.Counter
}

// New returns an empty Conflicts. period is the gossip period; each
// election's four rounds are spaced one period apart.
func New(
	ledg ledger.Ledger,
	wlt wallet.Wallet,
	peers *peertable.Table,
	sched *scheduler.Scheduler,
	period time.Duration,
	announce Announce,
	onConfirmed OnConfirmed,
	logger log.Logger,
	reg prometheus.Registerer,
) *Conflicts {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	c := &Conflicts{
		log:         logger,
		ledger:      ledg,
		wallet:      wlt,
		peers:       peers,
		sched:       sched,
		period:      period,
		announce:    announce,
		onConfirmed: onConfirmed,
		elections:   make(map[ledgerid.Root]*election),
		hashRoot:    make(map[ledgerid.BlockHash]ledgerid.Root),
		sequences:   make(map[ledgerid.Address]uint64),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conflicts_active_elections",
			Help: "Number of elections currently open.",
		}),
		confirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conflicts_confirmed_total",
			Help: "Elections that reached a confirmation threshold.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conflicts_expired_total",
			Help: "Elections dropped after exhausting their round budget.",
		}),
	}
	if reg != nil {
		_ = reg.Register(c.active)
		_ = reg.Register(c.confirmed)
		_ = reg.Register(c.expired)
	}
	return c
}

// Start opens (or updates) the election for blk.Root(). If no election is
// open, one is created and its first announcement round runs immediately.
// If one is already open and blk is a new candidate for that root, it is
// added to the tally; an already-known candidate is a no-op.
func (c *Conflicts) Start(blk block.Block, work pow.Nonce) {
	c.mu.Lock()
	e, exists := c.elections[blk.Root()]
	if !exists {
		e = newElection(blk.Root())
		c.elections[blk.Root()] = e
		c.active.Set(float64(len(c.elections)))
	}
	isNewCandidate := e.addCandidate(blk, work)
	if isNewCandidate {
		c.hashRoot[blk.Hash()] = blk.Root()
	}
	c.mu.Unlock()

	if !exists {
		c.log.Debug("opened election", "root", blk.Root().String())
		c.runRound(e)
		return
	}
	if isNewCandidate {
		c.log.Debug("election contested",
			zap.String("root", blk.Root().String()),
			zap.String("hash", blk.Hash().String()),
		)
	}
}

// Update applies an incoming vote to the election for the root of the
// block it names, if one is open, replacing the representative's stored
// vote only if the new one carries a higher sequence number. A vote for a
// hash no open election has seen as a candidate is ignored, matching
// "look up election by the voted block's root" — the root is recovered
// from the hash-to-root index populated by Start. Per spec.md §4.7, a
// vote whose signature does not verify against its claimed representative
// is not counted at all.
func (c *Conflicts) Update(vote ledgerid.Vote) {
	c.mu.Lock()
	root, ok := c.hashRoot[vote.BlockHash]
	if !ok {
		c.mu.Unlock()
		return
	}
	e, ok := c.elections[root]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if !c.wallet.Verify(vote.Representative, voteMessage(root, vote.BlockHash), vote.Signature) {
		c.log.Debug("vote signature failed verification",
			zap.String("root", root.String()),
			zap.String("representative", vote.Representative.String()),
		)
		return
	}

	c.mu.Lock()
	applied := e.applyVote(vote)
	c.mu.Unlock()

	if applied {
		c.log.Debug("vote applied",
			zap.String("root", root.String()),
			zap.String("representative", vote.Representative.String()),
			zap.Uint64("sequence", vote.Sequence),
		)
	}
}

// voteMessage is the byte string a representative's vote signs: the
// election's root followed by the voted-for block's hash. CastVote signs
// the same layout when minting a self-vote.
func voteMessage(root ledgerid.Root, hash ledgerid.BlockHash) []byte {
	return append(append([]byte{}, root[:]...), hash[:]...)
}

// Stop removes the election keyed by root, if any, without regard to its
// confirmation state.
func (c *Conflicts) Stop(root ledgerid.Root) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.elections[root]; ok {
		for hash := range e.candidates {
			delete(c.hashRoot, hash)
		}
		delete(c.elections, root)
		c.active.Set(float64(len(c.elections)))
	}
}

// runRound executes one announcement round for e: broadcast confirm_req,
// inject a self-vote if this node is a representative, tally, and either
// confirm, expire, or schedule the next round.
func (c *Conflicts) runRound(e *election) {
	c.mu.Lock()
	e.round++
	round := e.round
	e.lastVoteTime = time.Now()
	candidates := e.candidateList()
	c.mu.Unlock()

	if round == 1 {
		if blk, ok := firstOf(candidates); ok {
			c.CastVote(blk)
		}
	}
	c.broadcastConfirmReq(candidates)

	c.mu.Lock()
	winner, confirmed := e.evaluate(c.ledger.SupplyMinusBurn(), c.ledger)
	done := confirmed || round >= maxRounds
	if done {
		for hash := range e.candidates {
			delete(c.hashRoot, hash)
		}
		delete(c.elections, e.root)
		c.active.Set(float64(len(c.elections)))
	}
	c.mu.Unlock()

	switch {
	case confirmed:
		c.confirmed.Inc()
		c.log.Debug("election confirmed",
			zap.String("root", e.root.String()),
			zap.String("winner", winner.Hash().String()),
			zap.Int("round", round),
		)
		if c.onConfirmed != nil {
			c.onConfirmed(winner)
		}
	case round >= maxRounds:
		c.expired.Inc()
		c.log.Debug("election expired", "root", e.root.String())
	default:
		c.sched.Add(time.Now().Add(c.period), func() { c.runRound(e) })
	}
}

// CastVote produces this node's own vote for blk, if it is configured as a
// representative, advancing that representative's sequence counter and
// applying the vote to blk's election if one is currently open. It is the
// single place a self-vote is ever minted, so the sequence namespace stays
// consistent whether the vote originates from an election round or from
// the message processor replying to a confirm_req (spec scenario 6).
func (c *Conflicts) CastVote(blk block.Block) (ledgerid.Vote, bool) {
	repAddr, ok := c.wallet.RepresentativeKey()
	if !ok {
		return ledgerid.Vote{}, false
	}
	key, ok := c.wallet.Fetch(repAddr)
	if !ok {
		return ledgerid.Vote{}, false
	}

	c.mu.Lock()
	c.sequences[repAddr]++
	seq := c.sequences[repAddr]
	c.mu.Unlock()

	msg := voteMessage(blk.Root(), blk.Hash())
	vote := ledgerid.Vote{
		Representative: repAddr,
		Sequence:       seq,
		Signature:      key.Sign(msg),
		BlockHash:      blk.Hash(),
	}

	c.mu.Lock()
	if e, ok := c.elections[blk.Root()]; ok {
		e.applyVote(vote)
	}
	c.mu.Unlock()

	return vote, true
}

// firstOf returns an arbitrary candidate's block from candidates, used to
// pick what this node casts its own round-1 self-vote for.
func firstOf(candidates []candidate) (block.Block, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[0].block, true
}

func (c *Conflicts) broadcastConfirmReq(candidates []candidate) {
	if len(candidates) == 0 {
		return
	}
	all := c.peers.All()
	n := int(math.Ceil(math.Sqrt(float64(len(all)))))
	targets := c.peers.Sample(n)
	if len(targets) == 0 {
		targets = all
	}
	for _, cand := range candidates {
		req := wire.ConfirmReq{Work: cand.work, Block: cand.block}
		for _, ep := range targets {
			c.announce(ep, req)
		}
	}
}

// Len returns the number of currently open elections.
func (c *Conflicts) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.elections)
}
