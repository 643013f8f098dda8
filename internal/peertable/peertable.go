// Package peertable maintains the set of known peers with contact
// timestamps, supports random sampling for gossip fan-out, and purges
// peers that have gone quiet.
package peertable

import (
	"math/rand"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raiproto/node/internal/scheduler"
	"github.com/raiproto/node/ledgerid"
)

// SampleSize is the fixed width of a keepalive peer list (§4.4 wire
// format: 24 endpoints).
const SampleSize = 24

// entry is the mutable record kept per peer.
type entry struct {
	endpoint    ledgerid.Endpoint
	lastContact time.Time
	lastAttempt time.Time
}

// Table is a peer table keyed by endpoint. Entries are pairwise distinct by
// endpoint and never equal to self; purge and throttling decisions are made
// by scanning the (small) primary map rather than maintaining separate
// ordered indices, since the table is expected to hold at most a few
// thousand peers.
type Table struct {
	log    log.Logger
	self   ledgerid.Endpoint
	cutoff time.Duration
	period time.Duration

	mu      sync.Mutex
	peers   map[ledgerid.Endpoint]*entry
	known   prometheus.Gauge
	purged  prometheus.Counter
}

// New returns an empty peer table. self is never added as a peer. cutoff is
// the liveness window (a peer with no contact within cutoff is considered
// dead); period is the gossip period used to rate-limit outbound contact
// attempts to the same endpoint.
func New(self ledgerid.Endpoint, cutoff, period time.Duration, logger log.Logger, reg prometheus.Registerer) *Table {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	t := &Table{
		log:    logger,
		self:   self,
		cutoff: cutoff,
		period: period,
		peers:  make(map[ledgerid.Endpoint]*entry),
		known: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peertable_known_peers",
			Help: "Number of peers currently tracked in the peer table.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peertable_purged_total",
			Help: "Total peers removed for exceeding the liveness cutoff.",
		}),
	}
	if reg != nil {
		_ = reg.Register(t.known)
		_ = reg.Register(t.purged)
	}
	return t
}

// KnownPeer reports whether ep is present and was contacted within cutoff.
func (t *Table) KnownPeer(ep ledgerid.Endpoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.peers[ep]
	if !ok {
		return false
	}
	return time.Since(e.lastContact) <= t.cutoff
}

// IncomingFromPeer records that a valid message was just received from ep,
// creating the entry if this is the first time ep has been seen. Self and
// reserved addresses are rejected at ingress and never added.
func (t *Table) IncomingFromPeer(ep ledgerid.Endpoint) {
	if ep == t.self || ledgerid.IsReserved(ep.Addr) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.peers[ep]
	if !ok {
		e = &entry{endpoint: ep}
		t.peers[ep] = e
		t.known.Set(float64(len(t.peers)))
	}
	e.lastContact = time.Now()
}

// ContactingPeer reports whether it is permissible to send to ep right now,
// and if so records the attempt. It rate-limits to at most one permitted
// attempt per gossip period per endpoint.
func (t *Table) ContactingPeer(ep ledgerid.Endpoint) bool {
	if ep == t.self || ledgerid.IsReserved(ep.Addr) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	e, ok := t.peers[ep]
	if !ok {
		e = &entry{endpoint: ep}
		t.peers[ep] = e
		t.known.Set(float64(len(t.peers)))
	}
	if !e.lastAttempt.IsZero() && now.Sub(e.lastAttempt) < t.period {
		return false
	}
	e.lastAttempt = now
	return true
}

// RandomFill fills out with a sample of known peers without replacement,
// padding any remaining slots with the zero endpoint.
func (t *Table) RandomFill(out *[SampleSize]ledgerid.Endpoint) {
	t.mu.Lock()
	all := make([]ledgerid.Endpoint, 0, len(t.peers))
	for ep := range t.peers {
		all = append(all, ep)
	}
	t.mu.Unlock()

	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

	var zero ledgerid.Endpoint
	for i := range out {
		if i < len(all) {
			out[i] = all[i]
		} else {
			out[i] = zero
		}
	}
}

// Sample returns up to n distinct known peer endpoints, chosen uniformly at
// random without replacement. Used by elections to solicit a subset of
// peers sized >= sqrt(|peers|).
func (t *Table) Sample(n int) []ledgerid.Endpoint {
	t.mu.Lock()
	all := make([]ledgerid.Endpoint, 0, len(t.peers))
	for ep := range t.peers {
		all = append(all, ep)
	}
	t.mu.Unlock()

	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// All returns every currently known peer endpoint, used when a message must
// be rebroadcast to the whole peer list.
func (t *Table) All() []ledgerid.Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ledgerid.Endpoint, 0, len(t.peers))
	for ep := range t.peers {
		out = append(out, ep)
	}
	return out
}

// Len returns the number of known peers.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Purge removes every peer whose last contact is older than before and
// returns the removed endpoints.
func (t *Table) Purge(before time.Time) []ledgerid.Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []ledgerid.Endpoint
	for ep, e := range t.peers {
		if e.lastContact.Before(before) {
			removed = append(removed, ep)
			delete(t.peers, ep)
		}
	}
	if len(removed) > 0 {
		t.purged.Add(float64(len(removed)))
		t.known.Set(float64(len(t.peers)))
		t.log.Debug("purged stale peers", "count", len(removed))
	}
	return removed
}

// StartRefresh schedules the recurring keepalive + purge cycle described in
// §4.2: every gossip period, send a keepalive via sendKeepalive to a random
// sample of peers and purge peers that have gone quiet. It reschedules
// itself on sched until sched is stopped.
func (t *Table) StartRefresh(sched *scheduler.Scheduler, sendKeepalive func([]ledgerid.Endpoint)) {
	var tick func()
	tick = func() {
		sample := t.Sample(SampleSize)
		if len(sample) > 0 {
			sendKeepalive(sample)
		}
		t.Purge(time.Now().Add(-t.cutoff))
		sched.Add(time.Now().Add(t.period), tick)
	}
	sched.Add(time.Now().Add(t.period), tick)
}
