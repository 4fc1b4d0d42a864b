package consensus

import (
	"testing"

	"github.com/tolelom/quorumchain/core"
)

func TestChooseForkPrefersFinalityCertificate(t *testing.T) {
	fc := core.NewFinalityCertificate(1, [32]byte{1}, nil)
	candidates := []Candidate{
		{Hash: [32]byte{2}, CommitWeight: 100, PrevoteWeight: 100},
		{Hash: [32]byte{1}, CommitWeight: 1, PrevoteWeight: 1, FinalityCert: &fc},
	}
	best, ok := ChooseFork(candidates)
	if !ok || best.Hash != [32]byte{1} {
		t.Fatalf("ChooseFork = %+v, want hash {1}", best)
	}
}

func TestChooseForkPrefersHigherCommitWeight(t *testing.T) {
	candidates := []Candidate{
		{Hash: [32]byte{1}, CommitWeight: 2},
		{Hash: [32]byte{2}, CommitWeight: 5},
	}
	best, ok := ChooseFork(candidates)
	if !ok || best.Hash != [32]byte{2} {
		t.Fatalf("ChooseFork = %+v, want hash {2}", best)
	}
}

func TestChooseForkPrefersHigherPrevoteWeightOnCommitTie(t *testing.T) {
	candidates := []Candidate{
		{Hash: [32]byte{1}, CommitWeight: 3, PrevoteWeight: 1},
		{Hash: [32]byte{2}, CommitWeight: 3, PrevoteWeight: 9},
	}
	best, ok := ChooseFork(candidates)
	if !ok || best.Hash != [32]byte{2} {
		t.Fatalf("ChooseFork = %+v, want hash {2}", best)
	}
}

func TestChooseForkBreaksTiesByLexicographicHash(t *testing.T) {
	candidates := []Candidate{
		{Hash: [32]byte{0xFF}, CommitWeight: 1, PrevoteWeight: 1},
		{Hash: [32]byte{0x01}, CommitWeight: 1, PrevoteWeight: 1},
	}
	best, ok := ChooseFork(candidates)
	if !ok || best.Hash != [32]byte{0x01} {
		t.Fatalf("ChooseFork = %+v, want hash {0x01} (lexicographically smallest)", best)
	}
}

func TestChooseForkEmptyReturnsFalse(t *testing.T) {
	if _, ok := ChooseFork(nil); ok {
		t.Fatal("expected ok=false for empty candidate list")
	}
}
