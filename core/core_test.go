package core

import (
	"bytes"
	"testing"

	"github.com/tolelom/quorumchain/crypto"
)

func genId(t *testing.T) (crypto.PrivateKey, ValidatorId) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub.Array()
}

func TestValidatorSetLeaderRotation(t *testing.T) {
	_, a := genId(t)
	_, b := genId(t)
	_, c := genId(t)
	vs := NewValidatorSet(map[ValidatorId]uint64{a: 1, b: 1, c: 1})

	if vs.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", vs.Len())
	}
	if vs.Quorum() != 3 {
		t.Errorf("Quorum() = %d, want 3 (floor(2*3/3)+1)", vs.Quorum())
	}

	ids := vs.Validators()
	for i, id := range ids {
		leader, ok := vs.Leader(uint64(i), 0)
		if !ok || leader != id {
			t.Errorf("Leader(%d,0) = %x, want %x", i, leader.Bytes(), id.Bytes())
		}
	}
	// leader rotation wraps around with round too
	l1, _ := vs.Leader(0, uint64(len(ids)))
	if l1 != ids[0] {
		t.Errorf("Leader wraparound mismatch: got %x want %x", l1.Bytes(), ids[0].Bytes())
	}
}

func TestValidatorSetDropsZeroWeight(t *testing.T) {
	_, a := genId(t)
	_, b := genId(t)
	vs := NewValidatorSet(map[ValidatorId]uint64{a: 1, b: 0})
	if vs.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (zero-weight member dropped)", vs.Len())
	}
	if vs.IsMember(b) {
		t.Error("zero-weight validator should not be a member")
	}
}

func TestTransactionWireRoundTrip(t *testing.T) {
	priv, from := genId(t)
	_, to := genId(t)

	tx := Transaction{From: from, To: to, Amount: 42, Nonce: 7}
	tx.Sign(priv)

	wire := tx.Wire()
	decoded, ok := DecodeTransactionWire(wire)
	if !ok {
		t.Fatal("DecodeTransactionWire failed")
	}
	if decoded.From != from || decoded.To != to || decoded.Amount != 42 || decoded.Nonce != 7 {
		t.Errorf("round-trip mismatch: got %+v", decoded)
	}
	if decoded.Signature != tx.Signature {
		t.Error("signature did not round-trip")
	}
}

func TestTransactionIDStableAcrossEncode(t *testing.T) {
	priv, from := genId(t)
	_, to := genId(t)
	tx := Transaction{From: from, To: to, Amount: 1, Nonce: 1}
	tx.Sign(priv)

	id1 := tx.ID()
	id2 := tx.ID()
	if id1 != id2 {
		t.Error("ID() should be stable across calls")
	}
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	priv, from := genId(t)
	_, to := genId(t)
	tx := Transaction{From: from, To: to, Amount: 5, Nonce: 1}
	tx.Sign(priv)

	b := Block{Height: 3, Txs: []Transaction{tx}}
	b.PrevHash = crypto.HashBytes32([]byte("prev"))
	b.StateRoot = crypto.HashBytes32([]byte("state"))

	encoded := b.Encode()
	decoded, ok := DecodeBlock(encoded)
	if !ok {
		t.Fatal("DecodeBlock failed")
	}
	if decoded.Height != b.Height || decoded.PrevHash != b.PrevHash || decoded.StateRoot != b.StateRoot {
		t.Errorf("header mismatch: got %+v", decoded)
	}
	if len(decoded.Txs) != 1 || decoded.Txs[0].Amount != 5 {
		t.Fatalf("tx list mismatch: got %+v", decoded.Txs)
	}
	if decoded.Hash() != b.Hash() {
		t.Error("hash should be stable across encode/decode")
	}
}

func TestEmptyBlockEncodesAndDecodes(t *testing.T) {
	b := Block{Height: 1}
	encoded := b.Encode()
	decoded, ok := DecodeBlock(encoded)
	if !ok {
		t.Fatal("DecodeBlock failed on empty block")
	}
	if len(decoded.Txs) != 0 {
		t.Errorf("expected no transactions, got %d", len(decoded.Txs))
	}
}

func TestMemStateSnapshotRevert(t *testing.T) {
	s := NewMemState()
	_, addr := genId(t)

	s.SetAccount(Account{Address: addr, Balance: 100})
	rootBefore := s.ComputeRoot()

	snap := s.Snapshot()
	s.SetAccount(Account{Address: addr, Balance: 999})
	if got := s.GetAccount(addr).Balance; got != 999 {
		t.Fatalf("balance after mutate = %d, want 999", got)
	}

	s.RevertToSnapshot(snap)
	if got := s.GetAccount(addr).Balance; got != 100 {
		t.Fatalf("balance after revert = %d, want 100", got)
	}
	if s.ComputeRoot() != rootBefore {
		t.Error("ComputeRoot should match pre-mutation root after revert")
	}
}

func TestMemStateCommitPersists(t *testing.T) {
	s := NewMemState()
	_, addr := genId(t)
	s.SetAccount(Account{Address: addr, Balance: 50})
	s.Commit()
	if got := s.GetAccount(addr).Balance; got != 50 {
		t.Fatalf("balance after commit = %d, want 50", got)
	}
}

func TestProposalSignedBytesExcludesSignature(t *testing.T) {
	priv, leader := genId(t)
	b := Block{Height: 1}
	p := Proposal{Height: 1, Round: 0, Block: b, ProposerId: leader}
	p.Sign(priv)

	signed := p.SignedBytes()
	if bytes.Contains(signed, p.Signature[:]) {
		t.Error("SignedBytes should not contain the signature bytes")
	}
}
