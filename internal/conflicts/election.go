package conflicts

import (
	"time"

	"github.com/raiproto/node/block"
	"github.com/raiproto/node/ledger"
	"github.com/raiproto/node/ledgerid"
	"github.com/raiproto/node/pow"
)

// candidate is one proposed block for an election's root, paired with the
// proof of work that accompanied it so re-announcements can resend both.
type candidate struct {
	block block.Block
	work  pow.Nonce
}

// election is the voting process for a single contested root. All access
// goes through Conflicts, which holds the lock guarding it.
type election struct {
	root ledgerid.Root

	candidates map[ledgerid.BlockHash]candidate
	votes      map[ledgerid.Address]ledgerid.Vote

	lastVoteTime time.Time
	round        int
	confirmed    bool
}

func newElection(root ledgerid.Root) *election {
	return &election{
		root:       root,
		candidates: make(map[ledgerid.BlockHash]candidate),
		votes:      make(map[ledgerid.Address]ledgerid.Vote),
	}
}

// addCandidate registers blk as a competing block for e.root, reusing its
// existing entry if the hash is already known. Reports whether blk was a
// previously-unseen candidate.
func (e *election) addCandidate(blk block.Block, work pow.Nonce) bool {
	if _, exists := e.candidates[blk.Hash()]; exists {
		return false
	}
	e.candidates[blk.Hash()] = candidate{block: blk, work: work}
	return true
}

// candidateList returns every candidate currently tallied, for
// re-announcement.
func (e *election) candidateList() []candidate {
	out := make([]candidate, 0, len(e.candidates))
	for _, c := range e.candidates {
		out = append(out, c)
	}
	return out
}

// applyVote stores vote as the representative's latest vote if it
// supersedes what is stored, reporting whether it was applied.
func (e *election) applyVote(vote ledgerid.Vote) bool {
	stored, ok := e.votes[vote.Representative]
	if ok && !vote.Supersedes(stored) {
		return false
	}
	e.votes[vote.Representative] = vote
	return true
}

// tally sums each candidate's delegated weight from the representatives'
// latest votes naming it. Votes for a hash this election never saw as a
// candidate are skipped and add weight to no candidate, since there is no
// block to hand back to the caller.
func (e *election) tally(ledg ledger.Ledger) map[ledgerid.BlockHash]uint64 {
	weights := make(map[ledgerid.BlockHash]uint64, len(e.candidates))
	for rep, vote := range e.votes {
		if _, known := e.candidates[vote.BlockHash]; !known {
			continue
		}
		weights[vote.BlockHash] += ledg.RepresentativeBalance(rep)
	}
	return weights
}

// leading returns the tallied hash with the greatest weight, breaking ties
// in favor of the numerically smaller hash.
func leading(weights map[ledgerid.BlockHash]uint64) (ledgerid.BlockHash, uint64, bool) {
	var best ledgerid.BlockHash
	var bestWeight uint64
	found := false
	for hash, weight := range weights {
		switch {
		case !found:
			best, bestWeight, found = hash, weight, true
		case weight > bestWeight:
			best, bestWeight = hash, weight
		case weight == bestWeight && hash.Less(best):
			best = hash
		}
	}
	return best, bestWeight, found
}

// evaluate recomputes the tally and reports whether it has crossed a
// confirmation threshold: uncontested (>1/2 of total) when only one
// candidate has ever been seen, contested (>7/8 of total) otherwise.
func (e *election) evaluate(total uint64, ledg ledger.Ledger) (block.Block, bool) {
	weights := e.tally(ledg)
	winnerHash, winnerWeight, found := leading(weights)
	if !found || total == 0 {
		return nil, false
	}

	var confirmed bool
	if len(e.candidates) <= 1 {
		confirmed = winnerWeight*2 > total
	} else {
		confirmed = winnerWeight*8 > total*7
	}
	if !confirmed {
		return nil, false
	}
	e.confirmed = true
	return e.candidates[winnerHash].block, true
}
