// Package store provides crash-safe, atomic persistence of blocks,
// world state, round state, and finality certificates as flat files on
// disk. It is the sole owner of on-disk artifacts (spec §3); no other
// component performs file I/O for chain data.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tolelom/quorumchain/chain"
	"github.com/tolelom/quorumchain/core"
)

// ChainMeta is the durable record of chain identity and progress,
// written to meta/chain.meta as canonical JSON text.
type ChainMeta struct {
	GenesisHash  string `json:"genesis_hash"`
	ChainID      string `json:"chain_id"`
	LatestHeight uint64 `json:"latest_height"`
}

// Store owns the data directory's block/state/meta layout.
type Store struct {
	dataDir          string
	snapshotInterval uint64
}

// New creates a Store rooted at dataDir, creating the blocks/, state/,
// and meta/ subdirectories if they do not already exist.
func New(dataDir string, snapshotInterval uint64) (*Store, error) {
	if snapshotInterval == 0 {
		snapshotInterval = 1
	}
	s := &Store{dataDir: dataDir, snapshotInterval: snapshotInterval}
	for _, sub := range []string{"blocks", "state", "meta"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, chain.New(chain.KindStoreIOError, fmt.Errorf("create %s dir: %w", sub, err))
		}
	}
	return s, nil
}

func (s *Store) blockPath(height uint64) string {
	return filepath.Join(s.dataDir, "blocks", fmt.Sprintf("%06d.block", height))
}

func (s *Store) latestStatePath() string {
	return filepath.Join(s.dataDir, "state", "latest.state")
}

func (s *Store) snapshotPath(height uint64) string {
	return filepath.Join(s.dataDir, "state", fmt.Sprintf("snapshot_%d.state", height))
}

func (s *Store) roundStatePath() string {
	return filepath.Join(s.dataDir, "state", "round_state.json")
}

func (s *Store) finalityPath(height uint64) string {
	return filepath.Join(s.dataDir, "state", fmt.Sprintf("finality_%d.json", height))
}

func (s *Store) metaPath() string {
	return filepath.Join(s.dataDir, "meta", "chain.meta")
}

// Commit performs the ordered, fsync-durable write sequence from spec
// §4.4: block file, then state file, then finality file, then
// chain.meta. Every step fsyncs before the next begins; if any step
// fails the remaining steps are skipped and the error is returned, so a
// restart's recovery procedure sees a well-defined partial state rather
// than a mix of old and new artifacts.
func (s *Store) Commit(height uint64, block core.Block, state *core.MemState, finality core.FinalityCertificate, chainID string, genesisHash string) error {
	if err := writeAtomic(s.blockPath(height), block.Encode()); err != nil {
		return err
	}

	stateBytes := state.Encode()
	if err := writeAtomic(s.latestStatePath(), stateBytes); err != nil {
		return err
	}
	if height%s.snapshotInterval == 0 {
		if err := writeAtomic(s.snapshotPath(height), stateBytes); err != nil {
			return err
		}
	}

	finalityJSON, err := json.Marshal(finality)
	if err != nil {
		return chain.New(chain.KindStoreIOError, fmt.Errorf("marshal finality certificate: %w", err))
	}
	if err := writeAtomic(s.finalityPath(height), finalityJSON); err != nil {
		return err
	}

	meta := ChainMeta{GenesisHash: genesisHash, ChainID: chainID, LatestHeight: height}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return chain.New(chain.KindStoreIOError, fmt.Errorf("marshal chain meta: %w", err))
	}
	return writeAtomic(s.metaPath(), metaJSON)
}

// LoadBlock reads and decodes the block at height.
func (s *Store) LoadBlock(height uint64) (core.Block, error) {
	data, err := os.ReadFile(s.blockPath(height))
	if err != nil {
		return core.Block{}, chain.New(chain.KindStoreIOError, err)
	}
	block, ok := core.DecodeBlock(data)
	if !ok {
		return core.Block{}, chain.Newf(chain.KindStoreCorrupt, "malformed block file at height %d", height)
	}
	return block, nil
}

// LoadLatestState reads and decodes state/latest.state.
func (s *Store) LoadLatestState() (*core.MemState, error) {
	data, err := os.ReadFile(s.latestStatePath())
	if err != nil {
		return nil, chain.New(chain.KindStoreIOError, err)
	}
	state, ok := core.DecodeMemState(data)
	if !ok {
		return nil, chain.Newf(chain.KindStoreCorrupt, "malformed state file %s", s.latestStatePath())
	}
	return state, nil
}

// LoadFinality reads and decodes the finality certificate for height.
func (s *Store) LoadFinality(height uint64) (core.FinalityCertificate, error) {
	data, err := os.ReadFile(s.finalityPath(height))
	if err != nil {
		return core.FinalityCertificate{}, chain.New(chain.KindStoreIOError, err)
	}
	var fc core.FinalityCertificate
	if err := json.Unmarshal(data, &fc); err != nil {
		return core.FinalityCertificate{}, chain.Newf(chain.KindStoreCorrupt, "malformed finality file at height %d: %v", height, err)
	}
	return fc, nil
}

// WriteRoundState atomically persists rs as canonical JSON text.
func (s *Store) WriteRoundState(rs core.RoundState) error {
	data, err := json.Marshal(rs)
	if err != nil {
		return chain.New(chain.KindStoreIOError, err)
	}
	return writeAtomic(s.roundStatePath(), data)
}

// LoadRoundState reads round_state.json if present. ok is false if the
// file does not exist (a fresh chain, or one that has never been
// mid-round at process exit).
func (s *Store) LoadRoundState() (rs core.RoundState, ok bool, err error) {
	data, readErr := os.ReadFile(s.roundStatePath())
	if os.IsNotExist(readErr) {
		return core.RoundState{}, false, nil
	}
	if readErr != nil {
		return core.RoundState{}, false, chain.New(chain.KindStoreIOError, readErr)
	}
	if err := json.Unmarshal(data, &rs); err != nil {
		return core.RoundState{}, false, chain.Newf(chain.KindStoreCorrupt, "malformed round state file: %v", err)
	}
	return rs, true, nil
}

// LoadMeta reads meta/chain.meta. ok is false for a fresh chain (no meta
// file has ever been written).
func (s *Store) LoadMeta() (meta ChainMeta, ok bool, err error) {
	data, readErr := os.ReadFile(s.metaPath())
	if os.IsNotExist(readErr) {
		return ChainMeta{}, false, nil
	}
	if readErr != nil {
		return ChainMeta{}, false, chain.New(chain.KindStoreIOError, readErr)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return ChainMeta{}, false, chain.Newf(chain.KindStoreCorrupt, "malformed chain meta: %v", err)
	}
	return meta, true, nil
}

// heightsOnDisk returns every height with a blocks/*.block file, sorted
// ascending.
func (s *Store) heightsOnDisk() ([]uint64, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "blocks"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, chain.New(chain.KindStoreIOError, err)
	}
	heights := make([]uint64, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".block")
		if name == e.Name() {
			continue // not a .block file
		}
		h, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights, nil
}

// RecoveryResult is what a restart learns from replaying disk artifacts.
type RecoveryResult struct {
	LatestHeight  uint64
	State         *core.MemState
	RoundState    core.RoundState
	HasRoundState bool
}

// Recover implements spec §4.5: read chain.meta, walk blocks/ in
// ascending height verifying hash continuity, truncate any trailing
// blocks that lack a finality certificate, reload the latest state
// snapshot, and replay any finalized-but-unsnapshotted blocks on top of
// it so the returned State matches LatestHeight exactly.
func (s *Store) Recover(apply func(state *core.MemState, block core.Block)) (RecoveryResult, error) {
	heights, err := s.heightsOnDisk()
	if err != nil {
		return RecoveryResult{}, err
	}
	if len(heights) == 0 {
		state := core.NewMemState()
		rs, hasRS, err := s.LoadRoundState()
		if err != nil {
			return RecoveryResult{}, err
		}
		return RecoveryResult{LatestHeight: 0, State: state, RoundState: rs, HasRoundState: hasRS}, nil
	}

	blocks := make(map[uint64]core.Block, len(heights))
	var prevHash [32]byte
	validHeight := uint64(0)
	for i, h := range heights {
		b, err := s.LoadBlock(h)
		if err != nil {
			break
		}
		if i > 0 && b.PrevHash != prevHash {
			break // continuity broken; stop trusting anything from here on
		}
		if _, err := s.LoadFinality(h); err != nil {
			break // no finality certificate for this height: truncate here
		}
		blocks[h] = b
		prevHash = b.Hash()
		validHeight = h
	}

	state, err := s.LoadLatestState()
	if err != nil || state.Height() > validHeight {
		// No usable latest.state (missing, malformed, or ahead of the last
		// finalized block): fall back to the most recent snapshot at or
		// below validHeight, or genesis if none exists.
		state = core.NewMemState()
		for h := validHeight; h > 0; h-- {
			data, readErr := os.ReadFile(s.snapshotPath(h))
			if readErr != nil {
				continue
			}
			if snap, ok := core.DecodeMemState(data); ok {
				state = snap
				break
			}
		}
	}

	for h := state.Height() + 1; h <= validHeight; h++ {
		b, ok := blocks[h]
		if !ok {
			break
		}
		apply(state, b)
	}

	rs, hasRS, err := s.LoadRoundState()
	if err != nil {
		return RecoveryResult{}, err
	}
	return RecoveryResult{LatestHeight: validHeight, State: state, RoundState: rs, HasRoundState: hasRS}, nil
}
