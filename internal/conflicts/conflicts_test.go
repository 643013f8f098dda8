package conflicts

import (
	"net/netip"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/internal/peertable"
	"github.com/raiproto/node/internal/scheduler"
	"github.com/raiproto/node/internal/wire"
	"github.com/raiproto/node/ledger"
	"github.com/raiproto/node/ledgerid"
	"github.com/raiproto/node/pow"
	"github.com/raiproto/node/wallet"
)

type fakeBlock struct {
	hash ledgerid.BlockHash
	root ledgerid.Root
}

func (b fakeBlock) Kind() block.Kind            { return block.Send }
func (b fakeBlock) Hash() ledgerid.BlockHash     { return b.hash }
func (b fakeBlock) Previous() ledgerid.BlockHash { return ledgerid.BlockHash{} }
func (b fakeBlock) Root() ledgerid.Root          { return b.root }

type fakeLedger struct {
	balances map[ledgerid.Address]uint64
	supply   uint64
}

func (l *fakeLedger) Process(block.Block) ledger.ProcessResult { return ledger.Progress }
func (l *fakeLedger) Latest(ledgerid.Address) (ledgerid.BlockHash, bool) {
	return ledgerid.BlockHash{}, false
}
func (l *fakeLedger) RepresentativeBalance(rep ledgerid.Address) uint64 {
	return l.balances[rep]
}
func (l *fakeLedger) SupplyMinusBurn() uint64                   { return l.supply }
func (l *fakeLedger) BlockExists(ledgerid.BlockHash) bool       { return false }
func (l *fakeLedger) Frontiers(ledgerid.Address, func(ledger.FrontierPair) bool) {}
func (l *fakeLedger) Block(ledgerid.BlockHash) (block.Block, bool)        { return nil, false }
func (l *fakeLedger) OpenBlock(ledgerid.Address) (block.Block, bool)      { return nil, false }
func (l *fakeLedger) Successor(ledgerid.BlockHash) (block.Block, bool)    { return nil, false }

type fakeKey struct{}

func (fakeKey) Sign(msg []byte) ledgerid.Signature {
	var s ledgerid.Signature
	copy(s[:], msg)
	return s
}

type fakeWallet struct {
	rep    ledgerid.Address
	hasRep bool
}

func (w fakeWallet) Fetch(pub ledgerid.Address) (wallet.PrivateKey, bool) {
	if w.hasRep && pub == w.rep {
		return fakeKey{}, true
	}
	return nil, false
}

func (w fakeWallet) RepresentativeKey() (ledgerid.Address, bool) {
	return w.rep, w.hasRep
}

// Verify mirrors fakeKey.Sign's determinism: a vote verifies iff its
// signature is exactly the signed message copied into a Signature, the
// same transform voteFor and CastVote both produce.
func (w fakeWallet) Verify(_ ledgerid.Address, msg []byte, sig ledgerid.Signature) bool {
	var want ledgerid.Signature
	copy(want[:], msg)
	return want == sig
}

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

func nonceN(n byte) (out pow.Nonce) {
	out[0] = n
	return out
}

func ep(s string) ledgerid.Endpoint {
	return ledgerid.EndpointFromAddrPort(netip.MustParseAddrPort(s))
}

// voteFor builds a vote naming hash for root with the given representative
// and sequence number, signed the same way CastVote signs a self-vote so it
// passes fakeWallet.Verify.
func voteFor(rep ledgerid.Address, seq uint64, root ledgerid.Root, hash ledgerid.BlockHash) ledgerid.Vote {
	sig := fakeKey{}.Sign(voteMessage(root, hash))
	return ledgerid.Vote{Representative: rep, Sequence: seq, BlockHash: hash, Signature: sig}
}

func newTestPeers() *peertable.Table {
	pt := peertable.New(ep("10.0.0.1:7075"), 50*time.Second, 10*time.Second, log.NewNoOpLogger(), nil)
	pt.IncomingFromPeer(ep("10.0.0.2:7075"))
	pt.IncomingFromPeer(ep("10.0.0.3:7075"))
	return pt
}

func TestUncontestedElectionConfirms(t *testing.T) {
	sched := scheduler.New(log.NewNoOpLogger())
	ledg := &fakeLedger{
		balances: map[ledgerid.Address]uint64{addrN(1): 70, addrN(2): 30},
		supply:   100,
	}

	var confirmedBlocks []block.Block
	var reqCount int
	announce := func(ledgerid.Endpoint, wire.ConfirmReq) { reqCount++ }
	onConfirmed := func(blk block.Block) { confirmedBlocks = append(confirmedBlocks, blk) }

	c := New(ledg, fakeWallet{}, newTestPeers(), sched, 10*time.Millisecond, announce, onConfirmed, log.NewNoOpLogger(), nil)

	blk := fakeBlock{hash: hashN(1), root: hashN(100)}
	c.Start(blk, nonceN(1))
	require.Equal(t, 1, c.Len())
	require.Greater(t, reqCount, 0)

	c.Update(voteFor(addrN(1), 1, blk.root, hashN(1)))

	require.Equal(t, 1, sched.Len())
	time.Sleep(10 * time.Millisecond)
	require.True(t, sched.PollOne())

	require.Equal(t, 0, c.Len())
	require.Len(t, confirmedBlocks, 1)
	require.Equal(t, hashN(1), confirmedBlocks[0].Hash())
}

func TestContestedElectionRequiresSupermajority(t *testing.T) {
	sched := scheduler.New(log.NewNoOpLogger())
	ledg := &fakeLedger{
		balances: map[ledgerid.Address]uint64{addrN(1): 60, addrN(2): 40},
		supply:   100,
	}
	announce := func(ledgerid.Endpoint, wire.ConfirmReq) {}

	c := New(ledg, fakeWallet{}, newTestPeers(), sched, time.Millisecond, announce, nil, log.NewNoOpLogger(), nil)

	root := hashN(100)
	x := fakeBlock{hash: hashN(1), root: root}
	y := fakeBlock{hash: hashN(2), root: root}
	c.Start(x, nonceN(1))
	c.Start(y, nonceN(2))
	require.Equal(t, 1, c.Len())

	c.Update(voteFor(addrN(1), 1, root, hashN(1)))
	c.Update(voteFor(addrN(2), 1, root, hashN(2)))

	// Round 1 already ran synchronously inside Start. Rounds 2 and 3 keep
	// the election open; round 4 exhausts its budget and expires it.
	for i := 0; i < maxRounds-2; i++ {
		time.Sleep(time.Millisecond)
		require.True(t, sched.PollOne())
		require.Equal(t, 1, c.Len(), "election should still be open before round 4")
	}
	time.Sleep(time.Millisecond)
	require.True(t, sched.PollOne())
	require.Equal(t, 0, c.Len(), "election should expire after exhausting its rounds")
}

func TestSelfVoteCastWhenRepresentative(t *testing.T) {
	sched := scheduler.New(log.NewNoOpLogger())
	rep := addrN(9)
	ledg := &fakeLedger{
		balances: map[ledgerid.Address]uint64{rep: 90},
		supply:   100,
	}
	announce := func(ledgerid.Endpoint, wire.ConfirmReq) {}
	var confirmedBlocks []block.Block
	onConfirmed := func(blk block.Block) { confirmedBlocks = append(confirmedBlocks, blk) }

	c := New(ledg, fakeWallet{rep: rep, hasRep: true}, newTestPeers(), sched, time.Millisecond, announce, onConfirmed, log.NewNoOpLogger(), nil)

	blk := fakeBlock{hash: hashN(5), root: hashN(200)}
	c.Start(blk, nonceN(1))

	require.Len(t, confirmedBlocks, 1, "self-vote from a 90%% representative should confirm on round 1")
}

func TestUpdateRejectsForgedSignature(t *testing.T) {
	sched := scheduler.New(log.NewNoOpLogger())
	ledg := &fakeLedger{
		balances: map[ledgerid.Address]uint64{addrN(1): 70, addrN(2): 30},
		supply:   100,
	}
	announce := func(ledgerid.Endpoint, wire.ConfirmReq) {}

	c := New(ledg, fakeWallet{}, newTestPeers(), sched, time.Hour, announce, nil, log.NewNoOpLogger(), nil)

	root := hashN(100)
	blk := fakeBlock{hash: hashN(1), root: root}
	c.Start(blk, nonceN(1))

	forged := ledgerid.Vote{Representative: addrN(1), Sequence: 1, BlockHash: hashN(1)}
	c.Update(forged)

	c.mu.Lock()
	_, counted := c.elections[root].votes[addrN(1)]
	c.mu.Unlock()
	require.False(t, counted, "a vote with a signature that does not verify must not be tallied")
}

func TestStopRemovesElection(t *testing.T) {
	sched := scheduler.New(log.NewNoOpLogger())
	ledg := &fakeLedger{balances: map[ledgerid.Address]uint64{}, supply: 100}
	announce := func(ledgerid.Endpoint, wire.ConfirmReq) {}

	c := New(ledg, fakeWallet{}, newTestPeers(), sched, time.Hour, announce, nil, log.NewNoOpLogger(), nil)
	root := hashN(50)
	c.Start(fakeBlock{hash: hashN(1), root: root}, nonceN(1))
	require.Equal(t, 1, c.Len())

	c.Stop(root)
	require.Equal(t, 0, c.Len())
}
