package bootstrap

import (
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/internal/wire"
	"github.com/raiproto/node/ledger"
	"github.com/raiproto/node/ledgerid"
)

type fakeBlock struct {
	kind     block.Kind
	hash     ledgerid.BlockHash
	previous ledgerid.BlockHash
	root     ledgerid.Root
}

func (b fakeBlock) Kind() block.Kind            { return b.kind }
func (b fakeBlock) Hash() ledgerid.BlockHash     { return b.hash }
func (b fakeBlock) Previous() ledgerid.BlockHash { return b.previous }
func (b fakeBlock) Root() ledgerid.Root          { return b.root }

// fakeCodec (de)serializes fakeBlock as kind||hash||previous||root, a
// fixed-width layout with no length prefix of its own — frame.go supplies
// the delimiting.
type fakeCodec struct{}

func (fakeCodec) Serialize(w io.Writer, blk block.Block) error {
	b := blk.(fakeBlock)
	buf := append([]byte{byte(b.kind)}, b.hash[:]...)
	buf = append(buf, b.previous[:]...)
	buf = append(buf, b.root[:]...)
	_, err := w.Write(buf)
	return err
}

func (fakeCodec) Deserialize(r io.Reader) (block.Block, error) {
	var buf [97]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	var b fakeBlock
	b.kind = block.Kind(buf[0])
	copy(b.hash[:], buf[1:33])
	copy(b.previous[:], buf[33:65])
	copy(b.root[:], buf[65:97])
	return b, nil
}

func (fakeCodec) KindByte(blk block.Block) byte          { return byte(blk.(fakeBlock).kind) }
func (fakeCodec) Hash(blk block.Block) ledgerid.BlockHash { return blk.Hash() }
func (fakeCodec) Previous(blk block.Block) ledgerid.BlockHash {
	return blk.Previous()
}
func (fakeCodec) Root(blk block.Block) ledgerid.BlockHash { return blk.Root() }

func hashN(n byte) ledgerid.BlockHash {
	var h ledgerid.BlockHash
	h[31] = n
	return h
}

// addrN sets byte 0 (hashN sets byte 31) so a test address and a test hash
// built from the same n never collide when reinterpreted as each other's
// type, the way a bulk_req's Start field legitimately can.
func addrN(n byte) ledgerid.Address {
	var a ledgerid.Address
	a[0] = n
	return a
}

// responderLedger serves a single account's three-block chain.
type responderLedger struct {
	account   ledgerid.Address
	open      fakeBlock
	send      fakeBlock
	receive   fakeBlock
	successor map[ledgerid.BlockHash]block.Block
}

func newResponderLedger() *responderLedger {
	acct := addrN(1)
	open := fakeBlock{kind: block.Open, hash: hashN(1), previous: ledgerid.BlockHash{}, root: ledgerid.Root(acct)}
	send := fakeBlock{kind: block.Send, hash: hashN(2), previous: hashN(1), root: hashN(1)}
	recv := fakeBlock{kind: block.Receive, hash: hashN(3), previous: hashN(2), root: hashN(1)}
	return &responderLedger{
		account: acct,
		open:    open,
		send:    send,
		receive: recv,
		successor: map[ledgerid.BlockHash]block.Block{
			hashN(1): send,
			hashN(2): recv,
		},
	}
}

func (l *responderLedger) Process(block.Block) ledger.ProcessResult { return ledger.Progress }
func (l *responderLedger) Latest(addr ledgerid.Address) (ledgerid.BlockHash, bool) {
	if addr == l.account {
		return l.receive.Hash(), true
	}
	return ledgerid.BlockHash{}, false
}
func (l *responderLedger) RepresentativeBalance(ledgerid.Address) uint64 { return 0 }
func (l *responderLedger) SupplyMinusBurn() uint64                      { return 0 }
func (l *responderLedger) BlockExists(hash ledgerid.BlockHash) bool {
	return hash == l.open.hash || hash == l.send.hash || hash == l.receive.hash
}
func (l *responderLedger) Frontiers(start ledgerid.Address, f func(ledger.FrontierPair) bool) {
	f(ledger.FrontierPair{Address: l.account, Latest: l.receive.Hash()})
}
func (l *responderLedger) Block(hash ledgerid.BlockHash) (block.Block, bool) {
	switch hash {
	case l.open.hash:
		return l.open, true
	case l.send.hash:
		return l.send, true
	case l.receive.hash:
		return l.receive, true
	default:
		return nil, false
	}
}
func (l *responderLedger) OpenBlock(account ledgerid.Address) (block.Block, bool) {
	if account == l.account {
		return l.open, true
	}
	return nil, false
}
func (l *responderLedger) Successor(prev ledgerid.BlockHash) (block.Block, bool) {
	blk, ok := l.successor[prev]
	return blk, ok
}

// emptyLedger is the initiator side: it knows nothing yet.
type emptyLedger struct{}

func (emptyLedger) Process(block.Block) ledger.ProcessResult { return ledger.Progress }
func (emptyLedger) Latest(ledgerid.Address) (ledgerid.BlockHash, bool) {
	return ledgerid.BlockHash{}, false
}
func (emptyLedger) RepresentativeBalance(ledgerid.Address) uint64 { return 0 }
func (emptyLedger) SupplyMinusBurn() uint64                       { return 0 }
func (emptyLedger) BlockExists(ledgerid.BlockHash) bool           { return false }
func (emptyLedger) Frontiers(ledgerid.Address, func(ledger.FrontierPair) bool) {
}
func (emptyLedger) Block(ledgerid.BlockHash) (block.Block, bool)           { return nil, false }
func (emptyLedger) OpenBlock(ledgerid.Address) (block.Block, bool)        { return nil, false }
func (emptyLedger) Successor(ledgerid.BlockHash) (block.Block, bool)      { return nil, false }

func TestBootstrapSessionPullsAccountChain(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	responder := NewResponder(newResponderLedger(), fakeCodec{}, wire.NetworkTest, log.NewNoOpLogger(), nil)
	go responder.Serve(ln)
	defer responder.Stop()

	received := make(chan block.Block, 8)
	done := make(chan Stats, 1)
	onBlock := func(blk block.Block, from ledgerid.Endpoint) { received <- blk }
	onDone := func(s Stats) { done <- s }

	initiator := NewInitiator(emptyLedger{}, fakeCodec{}, wire.NetworkTest, onBlock, onDone, log.NewNoOpLogger(), nil)

	tcpAddr := ln.Addr().(*net.TCPAddr)
	ep := ledgerid.Endpoint{Addr: netip.MustParseAddr("127.0.0.1"), Port: uint16(tcpAddr.Port)}
	initiator.StartBootstrap(ep)

	var got []block.Block
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case blk := <-received:
			got = append(got, blk)
		case <-timeout:
			t.Fatalf("timed out waiting for blocks, got %d", len(got))
		}
	}

	select {
	case s := <-done:
		require.Equal(t, StateFinished, s.State)
		require.Equal(t, 1, s.AccountsScanned)
		require.Equal(t, 3, s.BlocksPulled)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session completion")
	}

	require.Equal(t, hashN(1), got[0].Hash())
	require.Equal(t, hashN(2), got[1].Hash())
	require.Equal(t, hashN(3), got[2].Hash())
	require.False(t, initiator.IsBootstrapping())
}

// brokenResponderLedger serves a chain whose second block's Previous()
// does not reference the first block's hash, simulating a responder that
// reordered or fabricated a frame.
type brokenResponderLedger struct{ *responderLedger }

func newBrokenResponderLedger() *brokenResponderLedger {
	l := newResponderLedger()
	l.send.previous = hashN(99) // should be hashN(1), the open block's hash
	l.successor[hashN(1)] = l.send
	return &brokenResponderLedger{l}
}

// multiAccountLedger serves a fixed set of frontier pairs with independent
// Modified timestamps, for exercising serveFrontiers' Age/Count filters.
type multiAccountLedger struct {
	*responderLedger
	pairs []ledger.FrontierPair
}

func (l *multiAccountLedger) Frontiers(start ledgerid.Address, f func(ledger.FrontierPair) bool) {
	for _, p := range l.pairs {
		if !f(p) {
			return
		}
	}
}

func TestServeFrontiersHonorsCountAndAge(t *testing.T) {
	now := time.Now()
	l := &multiAccountLedger{
		responderLedger: newResponderLedger(),
		pairs: []ledger.FrontierPair{
			{Address: addrN(1), Latest: hashN(1), Modified: now},
			{Address: addrN(2), Latest: hashN(2), Modified: now.Add(-time.Hour)},
			{Address: addrN(3), Latest: hashN(3), Modified: now},
		},
	}
	r := NewResponder(l, fakeCodec{}, wire.NetworkTest, log.NewNoOpLogger(), nil)

	client, server := net.Pipe()
	defer client.Close()
	go func() {
		_ = r.serveFrontiers(server, wire.FrontierReq{Age: 60, Count: 2})
		server.Close()
	}()

	var got []frontierPair
	for {
		p, ok, err := readFrontierFrame(client)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, p)
	}

	require.Equal(t, []frontierPair{
		{Address: addrN(1), Latest: hashN(1)},
		{Address: addrN(3), Latest: hashN(3)},
	}, got, "the stale account-2 pair is skipped by Age and the count cap stops after 2 fresh pairs")
}

func TestBootstrapSessionAbortsOnPredecessorMismatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	responder := NewResponder(newBrokenResponderLedger(), fakeCodec{}, wire.NetworkTest, log.NewNoOpLogger(), nil)
	go responder.Serve(ln)
	defer responder.Stop()

	received := make(chan block.Block, 8)
	done := make(chan Stats, 1)
	onBlock := func(blk block.Block, from ledgerid.Endpoint) { received <- blk }
	onDone := func(s Stats) { done <- s }

	initiator := NewInitiator(emptyLedger{}, fakeCodec{}, wire.NetworkTest, onBlock, onDone, log.NewNoOpLogger(), nil)

	tcpAddr := ln.Addr().(*net.TCPAddr)
	ep := ledgerid.Endpoint{Addr: netip.MustParseAddr("127.0.0.1"), Port: uint16(tcpAddr.Port)}
	initiator.StartBootstrap(ep)

	select {
	case s := <-done:
		require.Equal(t, StateFailed, s.State)
		require.Equal(t, 1, s.BlocksPulled, "only the open block precedes the mismatch")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session completion")
	}
}
