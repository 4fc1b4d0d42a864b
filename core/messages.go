package core

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/tolelom/quorumchain/crypto"
)

// Phase names a RoundState's position in the propose/prevote/commit cycle.
type Phase string

const (
	PhasePropose   Phase = "propose"
	PhasePrevote   Phase = "prevote"
	PhaseCommit    Phase = "commit"
	PhaseCommitted Phase = "committed"
)

// Proposal is the leader's offer of a block for (Height, Round). Signed
// by the deterministic leader; ProposerId equals the trailing pubkey.
type Proposal struct {
	Height     uint64
	Round      uint64
	Block      Block
	ProposerId ValidatorId
	Signature  [64]byte
}

// SignedBytes returns the canonical encoding of every Proposal field
// except Signature: height(8,BE) ‖ round(8,BE) ‖ block_len(varint) ‖
// block_bytes ‖ proposer(32).
func (p *Proposal) SignedBytes() []byte {
	var u64 [8]byte
	blockBytes := p.Block.Encode()

	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(blockBytes)))

	out := make([]byte, 0, 16+n+len(blockBytes)+32)
	binary.BigEndian.PutUint64(u64[:], p.Height)
	out = append(out, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], p.Round)
	out = append(out, u64[:]...)
	out = append(out, varintBuf[:n]...)
	out = append(out, blockBytes...)
	out = append(out, p.ProposerId[:]...)
	return out
}

// Wire appends the 64-byte signature to SignedBytes, whose last field is
// already the proposer pubkey, so the wire form ends in
// [validator_pubkey(32) ‖ ed25519_sig(64)] as spec §6 describes.
func (p *Proposal) Wire() []byte {
	out := p.SignedBytes()
	return append(out, p.Signature[:]...)
}

func (p *Proposal) Sign(priv crypto.PrivateKey) {
	sig := crypto.SignRaw(priv, p.SignedBytes())
	copy(p.Signature[:], sig)
}

// DecodeProposal parses the wire form produced by Wire(): height(8,BE) ‖
// round(8,BE) ‖ block_len(varint) ‖ block_bytes ‖ proposer(32) ‖
// signature(64).
func DecodeProposal(data []byte) (Proposal, bool) {
	if len(data) < 16 {
		return Proposal{}, false
	}
	var p Proposal
	p.Height = binary.BigEndian.Uint64(data[0:8])
	p.Round = binary.BigEndian.Uint64(data[8:16])

	rest := data[16:]
	blockLen, n := binary.Uvarint(rest)
	if n <= 0 || uint64(n)+blockLen > uint64(len(rest)) {
		return Proposal{}, false
	}
	blockBytes := rest[n : n+int(blockLen)]
	block, ok := DecodeBlock(blockBytes)
	if !ok {
		return Proposal{}, false
	}
	p.Block = block

	tail := rest[n+int(blockLen):]
	if len(tail) != 32+64 {
		return Proposal{}, false
	}
	copy(p.ProposerId[:], tail[:32])
	copy(p.Signature[:], tail[32:])
	return p, true
}

// Prevote is a validator's vote on a candidate block hash for (Height,
// Round), or a nil vote (HasBlock == false) if no valid proposal was seen
// before the phase deadline.
type Prevote struct {
	Height    uint64
	Round     uint64
	HasBlock  bool
	BlockHash [32]byte
	Validator ValidatorId
	Signature [64]byte
}

func (v *Prevote) SignedBytes() []byte {
	var u64 [8]byte
	out := make([]byte, 0, 8+8+1+32+32)
	binary.BigEndian.PutUint64(u64[:], v.Height)
	out = append(out, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], v.Round)
	out = append(out, u64[:]...)
	if v.HasBlock {
		out = append(out, 0xFF)
	} else {
		out = append(out, 0x00)
	}
	out = append(out, v.BlockHash[:]...)
	out = append(out, v.Validator[:]...)
	return out
}

func (v *Prevote) Wire() []byte {
	out := v.SignedBytes()
	return append(out, v.Signature[:]...)
}

func (v *Prevote) Sign(priv crypto.PrivateKey) {
	sig := crypto.SignRaw(priv, v.SignedBytes())
	copy(v.Signature[:], sig)
}

// DecodePrevote parses the wire form produced by Wire(): height(8,BE) ‖
// round(8,BE) ‖ has_block(1) ‖ block_hash(32) ‖ validator(32) ‖
// signature(64).
func DecodePrevote(data []byte) (Prevote, bool) {
	const size = 8 + 8 + 1 + 32 + 32 + 64
	if len(data) != size {
		return Prevote{}, false
	}
	var v Prevote
	v.Height = binary.BigEndian.Uint64(data[0:8])
	v.Round = binary.BigEndian.Uint64(data[8:16])
	v.HasBlock = data[16] != 0x00
	copy(v.BlockHash[:], data[17:49])
	copy(v.Validator[:], data[49:81])
	copy(v.Signature[:], data[81:145])
	return v, true
}

// Commit is a validator's vote to finalize block_hash for (Height,
// Round); unlike Prevote it never carries a nil hash — it is only
// emitted after observing a prevote quorum.
type Commit struct {
	Height    uint64
	Round     uint64
	BlockHash [32]byte
	Validator ValidatorId
	Signature [64]byte
}

func (c *Commit) SignedBytes() []byte {
	var u64 [8]byte
	out := make([]byte, 0, 8+8+32+32)
	binary.BigEndian.PutUint64(u64[:], c.Height)
	out = append(out, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], c.Round)
	out = append(out, u64[:]...)
	out = append(out, c.BlockHash[:]...)
	out = append(out, c.Validator[:]...)
	return out
}

func (c *Commit) Wire() []byte {
	out := c.SignedBytes()
	return append(out, c.Signature[:]...)
}

func (c *Commit) Sign(priv crypto.PrivateKey) {
	sig := crypto.SignRaw(priv, c.SignedBytes())
	copy(c.Signature[:], sig)
}

// DecodeCommit parses the wire form produced by Wire(): height(8,BE) ‖
// round(8,BE) ‖ block_hash(32) ‖ validator(32) ‖ signature(64).
func DecodeCommit(data []byte) (Commit, bool) {
	const size = 8 + 8 + 32 + 32 + 64
	if len(data) != size {
		return Commit{}, false
	}
	var c Commit
	c.Height = binary.BigEndian.Uint64(data[0:8])
	c.Round = binary.BigEndian.Uint64(data[8:16])
	copy(c.BlockHash[:], data[16:48])
	copy(c.Validator[:], data[48:80])
	copy(c.Signature[:], data[80:144])
	return c, true
}

// RoundState is Consensus's persisted view of in-progress work at a
// height: phase, round, and the lock (if any) set by a prevote quorum.
// Store writes it as canonical JSON text (spec §4.4); byte arrays are
// hex-encoded since JSON has no native fixed-width binary type, the same
// convention the rest of this codebase uses for on-disk/RPC text.
type RoundState struct {
	Height          uint64 `json:"height"`
	Round           uint64 `json:"round"`
	Phase           Phase  `json:"phase"`
	LockedBlockHash string `json:"locked_block_hash,omitempty"`
	LockedRound     uint64 `json:"locked_round,omitempty"`
	Locked          bool   `json:"locked"`
}

// CommitRecord is a FinalityCertificate's archived copy of one Commit,
// serialized as hex text.
type CommitRecord struct {
	Validator string `json:"validator"`
	Signature string `json:"signature"`
}

// FinalityCertificate is the durable proof that a block reached commit
// quorum: height, the finalized block's hash, and every Commit that
// contributed to the quorum.
type FinalityCertificate struct {
	Height    uint64         `json:"height"`
	BlockHash string         `json:"block_hash"`
	Commits   []CommitRecord `json:"commits"`
}

// NewFinalityCertificate builds a FinalityCertificate from the Commit
// set that reached quorum.
func NewFinalityCertificate(height uint64, blockHash [32]byte, commits []Commit) FinalityCertificate {
	records := make([]CommitRecord, 0, len(commits))
	for _, c := range commits {
		records = append(records, CommitRecord{
			Validator: hex.EncodeToString(c.Validator[:]),
			Signature: hex.EncodeToString(c.Signature[:]),
		})
	}
	return FinalityCertificate{
		Height:    height,
		BlockHash: hex.EncodeToString(blockHash[:]),
		Commits:   records,
	}
}
