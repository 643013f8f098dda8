package ledgerstub

import (
	"sort"
	"sync"
	"time"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/ledger"
	"github.com/raiproto/node/ledgerid"
)

type accountState struct {
	open           ledgerid.BlockHash
	latest         ledgerid.BlockHash
	balance        uint64
	representative ledgerid.Address
	modified       time.Time
}

type pendingSend struct {
	destination ledgerid.Address
	amount      uint64
	consumed    bool
}

// Ledger is an in-memory account-chain store implementing ledger.Ledger.
type Ledger struct {
	mu sync.Mutex

	accounts map[ledgerid.Address]*accountState
	blocks   map[ledgerid.BlockHash]*Block
	owner    map[ledgerid.BlockHash]ledgerid.Address // block hash -> account it belongs to
	sends    map[ledgerid.BlockHash]*pendingSend     // send block hash -> pending receive state

	rootOwner   map[ledgerid.Root]ledgerid.BlockHash // root -> first block committed against it
	sourceOwner map[ledgerid.BlockHash]ledgerid.BlockHash // source send hash -> the receive/open that claimed it

	repWeight map[ledgerid.Address]uint64
	supply    uint64
}

// NewLedger returns a Ledger seeded with one Open block for genesisAccount
// holding genesisBalance, representing itself. SupplyMinusBurn always
// reports genesisBalance: this store tracks no burn account, so funds sent
// anywhere still count toward the supply.
func NewLedger(genesisAccount ledgerid.Address, genesisBalance uint64) *Ledger {
	l := &Ledger{
		accounts:    make(map[ledgerid.Address]*accountState),
		blocks:      make(map[ledgerid.BlockHash]*Block),
		owner:       make(map[ledgerid.BlockHash]ledgerid.Address),
		sends:       make(map[ledgerid.BlockHash]*pendingSend),
		rootOwner:   make(map[ledgerid.Root]ledgerid.BlockHash),
		sourceOwner: make(map[ledgerid.BlockHash]ledgerid.BlockHash),
		repWeight:   make(map[ledgerid.Address]uint64),
		supply:      genesisBalance,
	}
	genesis := NewOpen(genesisAccount, genesisAccount, ledgerid.BlockHash{}, genesisBalance)
	l.commit(genesis)
	return l
}

// commit stores blk unconditionally, assuming the caller already validated
// it. Callers hold l.mu.
func (l *Ledger) commit(blk *Block) {
	l.blocks[blk.hash] = blk
	l.owner[blk.hash] = blk.account
	l.rootOwner[blk.Root()] = blk.hash

	st, ok := l.accounts[blk.account]
	if !ok {
		st = &accountState{}
		l.accounts[blk.account] = st
	}
	if blk.kind == block.Open {
		st.open = blk.hash
	}
	l.repWeight[st.representative] -= st.balance
	st.latest = blk.hash
	st.balance = blk.balance
	st.representative = blk.representative
	st.modified = time.Now()
	l.repWeight[st.representative] += st.balance

	switch blk.kind {
	case block.Send:
		l.sends[blk.hash] = &pendingSend{destination: ledgerid.Address(blk.link), amount: 0}
	case block.Receive, block.Open:
		l.sourceOwner[blk.link] = blk.hash
		if ps, ok := l.sends[blk.link]; ok {
			ps.consumed = true
		}
	}
}

// Process applies blk to the ledger, classifying the outcome per
// ledger.ProcessResult.
func (l *Ledger) Process(blk block.Block) ledger.ProcessResult {
	b, ok := blk.(*Block)
	if !ok {
		return ledger.BadSignature
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.blocks[b.hash]; ok {
		return ledger.Old
	}

	if b.kind == block.Open {
		return l.processOpen(b)
	}
	return l.processChained(b)
}

func (l *Ledger) processOpen(b *Block) ledger.ProcessResult {
	if existing, ok := l.rootOwner[b.Root()]; ok && existing != b.hash {
		return ledger.ForkPrevious
	}
	return l.processSourced(b, 0)
}

func (l *Ledger) processChained(b *Block) ledger.ProcessResult {
	prev, ok := l.blocks[b.previous]
	if !ok {
		return ledger.GapPrevious
	}
	if existing, ok := l.rootOwner[b.Root()]; ok && existing != b.hash {
		return ledger.ForkPrevious
	}

	account := l.owner[b.previous]
	st := l.accounts[account]
	if st == nil || st.latest != prev.hash {
		return ledger.ForkPrevious
	}
	b.account = account

	switch b.kind {
	case block.Send:
		if b.balance > st.balance {
			return ledger.NegativeSpend
		}
		l.commit(b)
		return ledger.Progress
	case block.Change:
		if b.balance != st.balance {
			return ledger.BadSignature
		}
		l.commit(b)
		return ledger.Progress
	case block.Receive:
		return l.processSourced(b, st.balance)
	default:
		return ledger.BadSignature
	}
}

// processSourced validates a Receive or Open block's paired Send and
// commits it. base is the account's pre-existing balance (0 for Open).
func (l *Ledger) processSourced(b *Block, base uint64) ledger.ProcessResult {
	send, ok := l.blocks[b.link]
	if !ok {
		return ledger.GapSource
	}
	ps, ok := l.sends[b.link]
	if !ok {
		return ledger.NotReceiveFromSend
	}

	account := b.account
	if b.kind == block.Receive {
		account = l.owner[b.previous]
	}
	if ps.destination != account {
		return ledger.NotReceiveFromSend
	}
	if existing, ok := l.sourceOwner[b.link]; ok && existing != b.hash {
		return ledger.ForkSource
	}
	if ps.consumed {
		return ledger.NotReceiveFromSend
	}

	amount := l.amountOf(send)
	newBalance := base + amount
	if newBalance < base {
		return ledger.Overspend
	}
	if b.balance != newBalance {
		return ledger.BadSignature
	}

	l.commit(b)
	return ledger.Progress
}

// amountOf recovers a Send block's transferred amount from the balance
// drop it recorded against its own previous block.
func (l *Ledger) amountOf(send *Block) uint64 {
	prev, ok := l.blocks[send.previous]
	if !ok {
		return 0
	}
	return prev.balance - send.balance
}

func (l *Ledger) Latest(address ledgerid.Address) (ledgerid.BlockHash, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.accounts[address]
	if !ok {
		return ledgerid.BlockHash{}, false
	}
	return st.latest, true
}

func (l *Ledger) RepresentativeBalance(rep ledgerid.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repWeight[rep]
}

func (l *Ledger) SupplyMinusBurn() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply
}

func (l *Ledger) BlockExists(hash ledgerid.BlockHash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.blocks[hash]
	return ok
}

func (l *Ledger) Frontiers(start ledgerid.Address, f func(ledger.FrontierPair) bool) {
	l.mu.Lock()
	addrs := make([]ledgerid.Address, 0, len(l.accounts))
	for addr := range l.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return lessAddress(addrs[i], addrs[j]) })
	pairs := make([]ledger.FrontierPair, 0, len(addrs))
	for _, addr := range addrs {
		if lessAddress(addr, start) {
			continue
		}
		st := l.accounts[addr]
		pairs = append(pairs, ledger.FrontierPair{Address: addr, Latest: st.latest, Modified: st.modified})
	}
	l.mu.Unlock()

	for _, p := range pairs {
		if !f(p) {
			return
		}
	}
}

func (l *Ledger) Block(hash ledgerid.BlockHash) (block.Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.blocks[hash]
	if !ok {
		return nil, false
	}
	return b, true
}

func (l *Ledger) OpenBlock(account ledgerid.Address) (block.Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.accounts[account]
	if !ok {
		return nil, false
	}
	return l.blocks[st.open], true
}

func (l *Ledger) Successor(prev ledgerid.BlockHash) (block.Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.blocks {
		if b.previous == prev && b.kind != block.Open {
			return b, true
		}
	}
	return nil, false
}

func lessAddress(a, b ledgerid.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
