package consensus

import (
	"github.com/tolelom/quorumchain/core"
)

// prevoteKey identifies the at-most-one-per-validator slot a Prevote
// occupies for a given (height, round).
type prevoteKey struct {
	height uint64
	round  uint64
	val    core.ValidatorId
}

// PrevoteSet aggregates Prevotes for a single (height, round), tracking
// per-block-hash weight and flagging equivocation (two different hashes
// from the same validator at the same slot).
type PrevoteSet struct {
	vs   *core.ValidatorSet
	byId map[prevoteKey]core.Prevote
	// weight[hash] accumulates the weight of distinct validators who
	// prevoted for hash; a validator's first vote only, per the
	// equivocation rule in spec §4.3.
	weight map[[32]byte]uint64
	nilWeight uint64
}

// NewPrevoteSet creates an empty aggregator scoped to validator set vs.
func NewPrevoteSet(vs *core.ValidatorSet) *PrevoteSet {
	return &PrevoteSet{
		vs:     vs,
		byId:   make(map[prevoteKey]core.Prevote),
		weight: make(map[[32]byte]uint64),
	}
}

// Add inserts v. It returns (equivocation=true) if this validator already
// voted for a different hash at this (height, round); the second vote is
// not stored and does not change aggregated weight — only the first vote
// counts, per spec §4.3. Reporting the equivocation is left to the caller.
func (s *PrevoteSet) Add(v core.Prevote) (equivocation bool) {
	key := prevoteKey{height: v.Height, round: v.Round, val: v.Validator}
	existing, seen := s.byId[key]
	if seen {
		if existing.HasBlock != v.HasBlock || existing.BlockHash != v.BlockHash {
			return true
		}
		return false
	}
	s.byId[key] = v

	w := s.vs.Weight(v.Validator)
	if v.HasBlock {
		s.weight[v.BlockHash] += w
	} else {
		s.nilWeight += w
	}
	return false
}

// QuorumHash returns the block hash with weight >= quorum, if any exists.
func (s *PrevoteSet) QuorumHash(quorum uint64) ([32]byte, bool) {
	for hash, w := range s.weight {
		if w >= quorum {
			return hash, true
		}
	}
	return [32]byte{}, false
}

// WeightFor returns the accumulated prevote weight for hash.
func (s *PrevoteSet) WeightFor(hash [32]byte) uint64 {
	return s.weight[hash]
}

// commitKey identifies the at-most-one-per-validator slot a Commit
// occupies for a given height. Deliberately round-less: a locked
// validator re-sends its Commit verbatim in every later round of the
// same height it stays locked, and that retransmission must not be
// double-counted as additional weight, nor mistaken for equivocation.
type commitKey struct {
	height uint64
	val    core.ValidatorId
}

// CommitSet aggregates Commits for a single height, across however many
// rounds it takes to reach quorum.
type CommitSet struct {
	vs     *core.ValidatorSet
	byId   map[commitKey]core.Commit
	weight map[[32]byte]uint64
}

// NewCommitSet creates an empty aggregator scoped to validator set vs.
func NewCommitSet(vs *core.ValidatorSet) *CommitSet {
	return &CommitSet{
		vs:     vs,
		byId:   make(map[commitKey]core.Commit),
		weight: make(map[[32]byte]uint64),
	}
}

// Add inserts c, returning equivocation=true if this validator already
// committed a different hash at this height (in any round).
func (s *CommitSet) Add(c core.Commit) (equivocation bool) {
	key := commitKey{height: c.Height, val: c.Validator}
	existing, seen := s.byId[key]
	if seen {
		if existing.BlockHash != c.BlockHash {
			return true
		}
		return false
	}
	s.byId[key] = c
	s.weight[c.BlockHash] += s.vs.Weight(c.Validator)
	return false
}

// QuorumHash returns the block hash with committed weight >= quorum, if
// one exists.
func (s *CommitSet) QuorumHash(quorum uint64) ([32]byte, bool) {
	for hash, w := range s.weight {
		if w >= quorum {
			return hash, true
		}
	}
	return [32]byte{}, false
}

// CommitsFor returns every Commit recorded for hash, the evidence bundled
// into a FinalityCertificate.
func (s *CommitSet) CommitsFor(hash [32]byte) []core.Commit {
	out := make([]core.Commit, 0, len(s.byId))
	for _, c := range s.byId {
		if c.BlockHash == hash {
			out = append(out, c)
		}
	}
	return out
}

// WeightFor returns the accumulated commit weight for hash.
func (s *CommitSet) WeightFor(hash [32]byte) uint64 {
	return s.weight[hash]
}
