package consensus

import (
	"testing"

	"github.com/tolelom/quorumchain/core"
	"github.com/tolelom/quorumchain/crypto"
)

func genVal(t *testing.T) core.ValidatorId {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return pub.Array()
}

func TestPrevoteSetQuorumAndEquivocation(t *testing.T) {
	a, b, c := genVal(t), genVal(t), genVal(t)
	vs := core.NewValidatorSet(map[core.ValidatorId]uint64{a: 1, b: 1, c: 1})
	ps := NewPrevoteSet(vs)

	hash := [32]byte{1}
	if equiv := ps.Add(core.Prevote{Height: 1, Round: 0, HasBlock: true, BlockHash: hash, Validator: a}); equiv {
		t.Fatal("unexpected equivocation on first vote")
	}
	if equiv := ps.Add(core.Prevote{Height: 1, Round: 0, HasBlock: true, BlockHash: hash, Validator: b}); equiv {
		t.Fatal("unexpected equivocation")
	}
	if _, ok := ps.QuorumHash(vs.Quorum()); ok {
		t.Fatal("should not have quorum yet with weight 2 < quorum 3")
	}

	// a votes again for a different hash: equivocation, but the first
	// vote's weight must not change.
	other := [32]byte{2}
	if equiv := ps.Add(core.Prevote{Height: 1, Round: 0, HasBlock: true, BlockHash: other, Validator: a}); !equiv {
		t.Fatal("expected equivocation when a votes twice for different hashes")
	}
	if w := ps.WeightFor(hash); w != 2 {
		t.Errorf("WeightFor(hash) = %d, want 2 (equivocating second vote must not count)", w)
	}
	if w := ps.WeightFor(other); w != 0 {
		t.Errorf("WeightFor(other) = %d, want 0", w)
	}

	if equiv := ps.Add(core.Prevote{Height: 1, Round: 0, HasBlock: true, BlockHash: hash, Validator: c}); equiv {
		t.Fatal("unexpected equivocation")
	}
	got, ok := ps.QuorumHash(vs.Quorum())
	if !ok || got != hash {
		t.Fatalf("QuorumHash = (%x, %v), want (%x, true)", got, ok, hash)
	}
}

func TestCommitSetQuorumAndCertificateEvidence(t *testing.T) {
	a, b, c := genVal(t), genVal(t), genVal(t)
	vs := core.NewValidatorSet(map[core.ValidatorId]uint64{a: 1, b: 1, c: 1})
	cs := NewCommitSet(vs)

	hash := [32]byte{9}
	cs.Add(core.Commit{Height: 5, Round: 0, BlockHash: hash, Validator: a})
	cs.Add(core.Commit{Height: 5, Round: 0, BlockHash: hash, Validator: b})
	cs.Add(core.Commit{Height: 5, Round: 0, BlockHash: hash, Validator: c})

	got, ok := cs.QuorumHash(vs.Quorum())
	if !ok || got != hash {
		t.Fatalf("QuorumHash = (%x, %v), want (%x, true)", got, ok, hash)
	}
	evidence := cs.CommitsFor(hash)
	if len(evidence) != 3 {
		t.Errorf("CommitsFor returned %d commits, want 3", len(evidence))
	}
}
