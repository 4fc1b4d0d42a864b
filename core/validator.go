package core

import (
	"bytes"
	"sort"
)

// ValidatorId is a 32-byte public-key identifier, unique within a
// ValidatorSet and never reused across sets.
type ValidatorId [32]byte

// Bytes returns the raw 32-byte identifier.
func (v ValidatorId) Bytes() []byte { return v[:] }

// Less reports whether v sorts lexicographically before o, the ordering
// every deterministic iteration over a ValidatorSet must use (spec §9).
func (v ValidatorId) Less(o ValidatorId) bool {
	return bytes.Compare(v[:], o[:]) < 0
}

// ValidatorIdFromBytes decodes a 32-byte slice into a ValidatorId.
func ValidatorIdFromBytes(b []byte) (ValidatorId, bool) {
	var v ValidatorId
	if len(b) != len(v) {
		return v, false
	}
	copy(v[:], b)
	return v, true
}

// ValidatorSet is the ordered, weighted set of validators for a chain.
// Order is always lexicographic by ValidatorId, so leader rotation and
// quorum iteration are deterministic across every implementation.
type ValidatorSet struct {
	ids     []ValidatorId
	weights map[ValidatorId]uint64
	total   uint64
}

// NewValidatorSet builds a ValidatorSet from id/weight pairs. A weight of 0
// is rejected: every validator in the set casts real votes.
func NewValidatorSet(weights map[ValidatorId]uint64) *ValidatorSet {
	ids := make([]ValidatorId, 0, len(weights))
	var total uint64
	cp := make(map[ValidatorId]uint64, len(weights))
	for id, w := range weights {
		if w == 0 {
			continue
		}
		ids = append(ids, id)
		cp[id] = w
		total += w
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return &ValidatorSet{ids: ids, weights: cp, total: total}
}

// Len returns the number of validators in the set.
func (vs *ValidatorSet) Len() int { return len(vs.ids) }

// TotalWeight returns W, the sum of all validator weights.
func (vs *ValidatorSet) TotalWeight() uint64 { return vs.total }

// Quorum returns Q = floor(2W/3) + 1.
func (vs *ValidatorSet) Quorum() uint64 {
	return (2*vs.total)/3 + 1
}

// Validators returns the set in canonical (lexicographic) order. The
// returned slice is a copy; callers must not mutate it.
func (vs *ValidatorSet) Validators() []ValidatorId {
	out := make([]ValidatorId, len(vs.ids))
	copy(out, vs.ids)
	return out
}

// Weight returns the voting weight of id, or 0 if id is not a member.
func (vs *ValidatorSet) Weight(id ValidatorId) uint64 {
	return vs.weights[id]
}

// IsMember reports whether id belongs to the set.
func (vs *ValidatorSet) IsMember(id ValidatorId) bool {
	_, ok := vs.weights[id]
	return ok
}

// Leader returns the deterministic leader for (height, round):
// validators[(height+round) mod n]. No election, no randomness.
func (vs *ValidatorSet) Leader(height uint64, round uint64) (ValidatorId, bool) {
	n := uint64(len(vs.ids))
	if n == 0 {
		return ValidatorId{}, false
	}
	idx := (height + round) % n
	return vs.ids[idx], true
}
