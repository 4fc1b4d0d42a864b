package store

import (
	"os"
	"testing"

	"github.com/tolelom/quorumchain/core"
)

func mustStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "store-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := New(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	return s, dir
}

func sampleBlock(height uint64, prevHash [32]byte) core.Block {
	return core.Block{Height: height, PrevHash: prevHash, StateRoot: [32]byte{byte(height)}}
}

func applyBlock(state *core.MemState, b core.Block) {
	state.SetChainHead(b.Height, b.Hash())
}

func TestCommitThenReloadYieldsSameArtifacts(t *testing.T) {
	s, _ := mustStore(t)
	state := core.NewMemState()
	block := sampleBlock(1, [32]byte{})
	fc := core.NewFinalityCertificate(1, block.Hash(), nil)

	if err := s.Commit(1, block, state, fc, "test-chain", "00"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := s.LoadBlock(1)
	if err != nil {
		t.Fatalf("LoadBlock: %v", err)
	}
	if got.Hash() != block.Hash() {
		t.Error("reloaded block hash mismatch")
	}

	gotFC, err := s.LoadFinality(1)
	if err != nil {
		t.Fatalf("LoadFinality: %v", err)
	}
	if gotFC.BlockHash != fc.BlockHash {
		t.Error("reloaded finality certificate mismatch")
	}

	meta, ok, err := s.LoadMeta()
	if err != nil || !ok {
		t.Fatalf("LoadMeta: ok=%v err=%v", ok, err)
	}
	if meta.LatestHeight != 1 || meta.ChainID != "test-chain" {
		t.Errorf("meta = %+v, want height=1 chain=test-chain", meta)
	}
}

func TestRecoverFreshDirYieldsGenesis(t *testing.T) {
	s, _ := mustStore(t)
	result, err := s.Recover(applyBlock)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if result.LatestHeight != 0 {
		t.Errorf("LatestHeight = %d, want 0", result.LatestHeight)
	}
	if result.HasRoundState {
		t.Error("expected no round state on a fresh data dir")
	}
}

func TestRecoverReplaysFinalizedBlocks(t *testing.T) {
	s, _ := mustStore(t)
	state := core.NewMemState()

	var prevHash [32]byte
	for h := uint64(1); h <= 3; h++ {
		b := sampleBlock(h, prevHash)
		fc := core.NewFinalityCertificate(h, b.Hash(), nil)
		if err := s.Commit(h, b, state, fc, "test-chain", "00"); err != nil {
			t.Fatalf("Commit height %d: %v", h, err)
		}
		applyBlock(state, b)
		prevHash = b.Hash()
	}

	result, err := s.Recover(applyBlock)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if result.LatestHeight != 3 {
		t.Fatalf("LatestHeight = %d, want 3", result.LatestHeight)
	}
	if result.State.Height() != 3 {
		t.Errorf("recovered state height = %d, want 3", result.State.Height())
	}
}

func TestRecoverTruncatesBlockMissingFinality(t *testing.T) {
	s, _ := mustStore(t)
	state := core.NewMemState()

	b1 := sampleBlock(1, [32]byte{})
	fc1 := core.NewFinalityCertificate(1, b1.Hash(), nil)
	if err := s.Commit(1, b1, state, fc1, "test-chain", "00"); err != nil {
		t.Fatalf("Commit height 1: %v", err)
	}
	applyBlock(state, b1)

	// Write a dangling block file at height 2 with no finality certificate,
	// simulating a crash between the block write and the finality write.
	b2 := sampleBlock(2, b1.Hash())
	if err := writeAtomic(s.blockPath(2), b2.Encode()); err != nil {
		t.Fatalf("writeAtomic dangling block: %v", err)
	}

	result, err := s.Recover(applyBlock)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if result.LatestHeight != 1 {
		t.Errorf("LatestHeight = %d, want 1 (height 2 should be truncated)", result.LatestHeight)
	}
}

func TestRoundStateRoundTrip(t *testing.T) {
	s, _ := mustStore(t)
	rs := core.RoundState{Height: 5, Round: 2, Phase: core.PhasePrevote, Locked: true, LockedBlockHash: "abcd", LockedRound: 1}
	if err := s.WriteRoundState(rs); err != nil {
		t.Fatalf("WriteRoundState: %v", err)
	}
	got, ok, err := s.LoadRoundState()
	if err != nil || !ok {
		t.Fatalf("LoadRoundState: ok=%v err=%v", ok, err)
	}
	if got != rs {
		t.Errorf("LoadRoundState = %+v, want %+v", got, rs)
	}
}
