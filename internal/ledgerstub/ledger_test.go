package ledgerstub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raiproto/node/ledger"
	"github.com/raiproto/node/ledgerid"
)

func addr(n byte) ledgerid.Address {
	var a ledgerid.Address
	a[0] = n
	return a
}

func TestSendThenReceiveCreditsDestination(t *testing.T) {
	genesis := addr(1)
	dest := addr(2)
	l := NewLedger(genesis, 1000)

	genesisOpen, ok := l.Latest(genesis)
	require.True(t, ok)

	send := NewSend(genesis, genesisOpen, genesis, 400, dest)
	require.Equal(t, ledger.Progress, l.Process(send))

	open := NewOpen(dest, dest, send.Hash(), 600)
	require.Equal(t, ledger.Progress, l.Process(open))

	require.Equal(t, uint64(600), l.repWeight[dest])
	require.Equal(t, uint64(400), l.repWeight[genesis])
}

func TestUnknownPreviousIsGap(t *testing.T) {
	genesis := addr(1)
	l := NewLedger(genesis, 1000)

	var bogus ledgerid.BlockHash
	bogus[31] = 0xFF
	send := NewSend(genesis, bogus, genesis, 500, addr(2))
	require.Equal(t, ledger.GapPrevious, l.Process(send))
}

func TestUnknownSourceIsGapSource(t *testing.T) {
	dest := addr(2)
	var bogusSource ledgerid.BlockHash
	bogusSource[31] = 0xEE
	open := NewOpen(dest, dest, bogusSource, 600)

	l := NewLedger(addr(1), 1000)
	require.Equal(t, ledger.GapSource, l.Process(open))
}

func TestCompetingBlockOnSameRootForks(t *testing.T) {
	genesis := addr(1)
	l := NewLedger(genesis, 1000)
	genesisOpen, _ := l.Latest(genesis)

	first := NewSend(genesis, genesisOpen, genesis, 400, addr(2))
	require.Equal(t, ledger.Progress, l.Process(first))

	second := NewSend(genesis, genesisOpen, genesis, 300, addr(3))
	require.Equal(t, ledger.ForkPrevious, l.Process(second))
}

func TestReplayIsOld(t *testing.T) {
	genesis := addr(1)
	l := NewLedger(genesis, 1000)
	genesisOpen, _ := l.Latest(genesis)

	send := NewSend(genesis, genesisOpen, genesis, 400, addr(2))
	require.Equal(t, ledger.Progress, l.Process(send))
	require.Equal(t, ledger.Old, l.Process(send))
}

func TestSendAboveBalanceIsNegativeSpend(t *testing.T) {
	genesis := addr(1)
	l := NewLedger(genesis, 1000)
	genesisOpen, _ := l.Latest(genesis)

	send := NewSend(genesis, genesisOpen, genesis, 1001, addr(2))
	require.Equal(t, ledger.NegativeSpend, l.Process(send))
}

func TestFrontiersReturnsEachAccountsLatest(t *testing.T) {
	genesis := addr(1)
	l := NewLedger(genesis, 1000)

	var got []ledger.FrontierPair
	l.Frontiers(ledgerid.Address{}, func(p ledger.FrontierPair) bool {
		got = append(got, p)
		return true
	})

	require.Len(t, got, 1)
	require.Equal(t, genesis, got[0].Address)
	require.False(t, got[0].Modified.IsZero(), "committing the genesis open block should stamp a modified time")
}

func TestBulkChainWalkFromOpenToSuccessor(t *testing.T) {
	genesis := addr(1)
	l := NewLedger(genesis, 1000)
	genesisOpen, _ := l.Latest(genesis)

	send := NewSend(genesis, genesisOpen, genesis, 400, addr(2))
	require.Equal(t, ledger.Progress, l.Process(send))

	open, ok := l.OpenBlock(genesis)
	require.True(t, ok)
	require.Equal(t, genesisOpen, open.Hash())

	next, ok := l.Successor(open.Hash())
	require.True(t, ok)
	require.Equal(t, send.Hash(), next.Hash())
}
