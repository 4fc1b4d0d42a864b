package consensus

import (
	"bytes"

	"github.com/tolelom/quorumchain/core"
)

// Candidate is one observed block at the current height, along with the
// vote weight it has accumulated so far. FinalityCert is non-nil only
// for a block that has actually reached commit quorum.
type Candidate struct {
	Hash         [32]byte
	CommitWeight uint64
	PrevoteWeight uint64
	FinalityCert *core.FinalityCertificate
}

// ChooseFork applies the deterministic fork-choice rule from spec §4.3:
//  1. prefer any candidate with a FinalityCertificate,
//  2. else the highest commit weight,
//  3. else the highest prevote weight,
//  4. break ties by lexicographically smallest hash.
//
// Returns false if candidates is empty.
func ChooseFork(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	return best, true
}

// better reports whether a should be preferred over b under the
// fork-choice ordering.
func better(a, b Candidate) bool {
	aCert := a.FinalityCert != nil
	bCert := b.FinalityCert != nil
	if aCert != bCert {
		return aCert
	}
	if a.CommitWeight != b.CommitWeight {
		return a.CommitWeight > b.CommitWeight
	}
	if a.PrevoteWeight != b.PrevoteWeight {
		return a.PrevoteWeight > b.PrevoteWeight
	}
	return bytes.Compare(a.Hash[:], b.Hash[:]) < 0
}
