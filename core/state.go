package core

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/tolelom/quorumchain/crypto"
)

// State is the full account-balance/nonce world state, owned exclusively
// by the Runtime. Validation takes a snapshot, dry-applies a block, and
// rolls back; only apply_block ever commits a snapshot for real. No
// implementation here performs I/O — State lives entirely in memory, as
// spec §4.2 requires ("pure, deterministic, no I/O").
type State interface {
	GetAccount(addr ValidatorId) Account
	SetAccount(acc Account)

	// Snapshot/RevertToSnapshot/Commit let the Runtime dry-run a block
	// (validate_block) without ever exposing a partial mutation, and let
	// apply_block commit for real.
	Snapshot() int
	RevertToSnapshot(id int)
	Commit()

	// ComputeRoot returns the deterministic hash of the world state
	// (committed state merged with the current write buffer) without
	// flushing it. Safe to call before signing or finalizing a block.
	ComputeRoot() [32]byte

	// Height and LatestHash track chain progress; updated only by
	// ApplyBlock in the runtime package.
	Height() uint64
	LatestHash() [32]byte
	SetChainHead(height uint64, hash [32]byte)
}

type stateSnapshot struct {
	dirty      map[ValidatorId]Account
	height     uint64
	latestHash [32]byte
}

// MemState is the in-memory State implementation. It generalizes the
// teacher's StateDB write-buffer/snapshot/ComputeRoot technique
// (storage/statedb.go) to the spec's account-only schema, dropping the
// underlying on-disk DB entirely since Runtime must not perform I/O —
// persistence of State belongs to the store package instead.
type MemState struct {
	committed map[ValidatorId]Account
	dirty     map[ValidatorId]Account

	height     uint64
	latestHash [32]byte

	snapshots []stateSnapshot
}

// NewMemState creates an empty world state (genesis height 0).
func NewMemState() *MemState {
	return &MemState{
		committed: make(map[ValidatorId]Account),
		dirty:     make(map[ValidatorId]Account),
	}
}

func (s *MemState) GetAccount(addr ValidatorId) Account {
	if acc, ok := s.dirty[addr]; ok {
		return acc
	}
	if acc, ok := s.committed[addr]; ok {
		return acc
	}
	return Account{Address: addr}
}

func (s *MemState) SetAccount(acc Account) {
	s.dirty[acc.Address] = acc
}

func (s *MemState) Snapshot() int {
	cp := make(map[ValidatorId]Account, len(s.dirty))
	for k, v := range s.dirty {
		cp[k] = v
	}
	s.snapshots = append(s.snapshots, stateSnapshot{dirty: cp, height: s.height, latestHash: s.latestHash})
	return len(s.snapshots) - 1
}

func (s *MemState) RevertToSnapshot(id int) {
	if id < 0 || id >= len(s.snapshots) {
		return
	}
	snap := s.snapshots[id]
	dirty := make(map[ValidatorId]Account, len(snap.dirty))
	for k, v := range snap.dirty {
		dirty[k] = v
	}
	s.dirty = dirty
	s.height = snap.height
	s.latestHash = snap.latestHash
	s.snapshots = s.snapshots[:id]
}

func (s *MemState) Commit() {
	for k, v := range s.dirty {
		s.committed[k] = v
	}
	s.dirty = make(map[ValidatorId]Account)
	s.snapshots = nil
}

func (s *MemState) Height() uint64 { return s.height }

func (s *MemState) LatestHash() [32]byte { return s.latestHash }

func (s *MemState) SetChainHead(height uint64, hash [32]byte) {
	s.height = height
	s.latestHash = hash
}

// ComputeRoot merges committed accounts with the uncommitted write buffer,
// iterates in canonical (address-sorted) order per spec §9, and hashes the
// concatenated fixed-width address(32) ‖ balance(8,BE) ‖ nonce(8,BE)
// records (no length prefixes) — adapted from the teacher's ComputeRoot
// in storage/statedb.go, narrowed from arbitrary key/value pairs to the
// Account schema. An empty state hashes to SHA-256 of the empty string.
func (s *MemState) ComputeRoot() [32]byte {
	merged := make(map[ValidatorId]Account, len(s.committed)+len(s.dirty))
	for k, v := range s.committed {
		merged[k] = v
	}
	for k, v := range s.dirty {
		merged[k] = v
	}

	addrs := make([]ValidatorId, 0, len(merged))
	for a := range merged {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	var buf bytes.Buffer
	var u64 [8]byte
	for _, a := range addrs {
		acc := merged[a]
		buf.Write(a[:])
		binary.BigEndian.PutUint64(u64[:], acc.Balance)
		buf.Write(u64[:])
		binary.BigEndian.PutUint64(u64[:], acc.Nonce)
		buf.Write(u64[:])
	}
	return crypto.HashBytes32(buf.Bytes())
}

// Encode returns the canonical byte encoding of the full committed state
// (the write buffer must be empty — callers commit before persisting):
// height(8,BE) ‖ latest_hash(32) ‖ account_count(varint) ‖ accounts...,
// accounts sorted by address for determinism, each encoded as
// address(32) ‖ balance(8,BE) ‖ nonce(8,BE). This is what the store
// package writes to state/latest.state and state/snapshot_{h}.state.
func (s *MemState) Encode() []byte {
	addrs := make([]ValidatorId, 0, len(s.committed))
	for a := range s.committed {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	var buf bytes.Buffer
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], s.height)
	buf.Write(u64[:])
	buf.Write(s.latestHash[:])

	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(addrs)))
	buf.Write(varintBuf[:n])

	for _, a := range addrs {
		acc := s.committed[a]
		buf.Write(a[:])
		binary.BigEndian.PutUint64(u64[:], acc.Balance)
		buf.Write(u64[:])
		binary.BigEndian.PutUint64(u64[:], acc.Nonce)
		buf.Write(u64[:])
	}
	return buf.Bytes()
}

// DecodeMemState parses a state encoded by Encode into a fresh MemState
// with an empty write buffer.
func DecodeMemState(data []byte) (*MemState, bool) {
	if len(data) < 8+32 {
		return nil, false
	}
	s := NewMemState()
	s.height = binary.BigEndian.Uint64(data[0:8])
	copy(s.latestHash[:], data[8:40])

	rest := data[40:]
	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, false
	}
	rest = rest[n:]

	const accEnc = 32 + 8 + 8
	for i := uint64(0); i < count; i++ {
		if len(rest) < accEnc {
			return nil, false
		}
		var addr ValidatorId
		copy(addr[:], rest[0:32])
		balance := binary.BigEndian.Uint64(rest[32:40])
		nonce := binary.BigEndian.Uint64(rest[40:48])
		s.committed[addr] = Account{Address: addr, Balance: balance, Nonce: nonce}
		rest = rest[accEnc:]
	}
	return s, true
}
