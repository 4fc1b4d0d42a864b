// Package consensus implements the round-based BFT coordinator: leader
// rotation, the Propose/Prevote/Commit/Committed phase machine, the
// locking rule, timeouts, fork choice, and equivocation evidence. It
// consumes only the Verified* types verifier produces and drives
// runtime.Runtime and store.Store on finality.
package consensus

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tolelom/quorumchain/chain"
	"github.com/tolelom/quorumchain/core"
	"github.com/tolelom/quorumchain/crypto"
	"github.com/tolelom/quorumchain/events"
	"github.com/tolelom/quorumchain/runtime"
	"github.com/tolelom/quorumchain/store"
	"github.com/tolelom/quorumchain/transport"
	"github.com/tolelom/quorumchain/verifier"
)

// Engine is the single-threaded consensus event loop for one validator.
// Every mutation of round state happens on the Run goroutine; external
// callers only ever hand it verified messages over channels.
type Engine struct {
	vs      *core.ValidatorSet
	selfID  core.ValidatorId
	priv    crypto.PrivateKey
	rt      *runtime.Runtime
	st      *store.Store
	tr      transport.Transport
	emitter *events.Emitter
	params  TimeoutParams
	clock   Clock

	maxTxsPerBlock int
	chainID        string
	genesisHash    string

	mu          sync.Mutex
	height      uint64
	round       uint64
	phase       core.Phase
	locked      bool
	lockedHash  [32]byte
	lockedRound uint64

	prevotes  *PrevoteSet
	commits   *CommitSet
	proposals map[[32]byte]core.Block

	deadlineSeq uint64
}

// Config bundles an Engine's collaborators and static parameters.
type Config struct {
	Validators     *core.ValidatorSet
	SelfID         core.ValidatorId
	PrivateKey     crypto.PrivateKey
	Runtime        *runtime.Runtime
	Store          *store.Store
	Transport      transport.Transport
	Emitter        *events.Emitter
	Timeouts       TimeoutParams
	Clock          Clock
	MaxTxsPerBlock int
	ChainID        string
	GenesisHash    string
}

// New builds an Engine at the height after the runtime state's current
// height (height 1 for a fresh chain), round 0, Propose phase. Call Resume
// on the returned Engine when recovering from persisted round state.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock
	}
	e := &Engine{
		vs:             cfg.Validators,
		selfID:         cfg.SelfID,
		priv:           cfg.PrivateKey,
		rt:             cfg.Runtime,
		st:             cfg.Store,
		tr:             cfg.Transport,
		emitter:        cfg.Emitter,
		params:         cfg.Timeouts,
		clock:          clock,
		maxTxsPerBlock: cfg.MaxTxsPerBlock,
		chainID:        cfg.ChainID,
		genesisHash:    cfg.GenesisHash,
		height:         cfg.Runtime.State().Height() + 1,
		phase:          core.PhasePropose,
	}
	e.resetVoteSets()
	return e
}

// Resume restores round-in-progress state from a recovered RoundState,
// per spec §4.4's recovery procedure: "load round_state.json if present
// to resume an in-flight round at the next height."
func (e *Engine) Resume(rs core.RoundState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.height = rs.Height
	e.round = rs.Round
	e.phase = core.PhasePropose
	e.locked = rs.Locked
	e.lockedRound = rs.LockedRound
	if rs.LockedBlockHash != "" {
		if decoded, err := hex.DecodeString(rs.LockedBlockHash); err == nil {
			copy(e.lockedHash[:], decoded)
		}
	}
	e.resetVoteSets()
}

// resetVoteSets clears all round evidence for a fresh height. Use
// resetRoundPrevotes instead when merely advancing rounds within the same
// height, since commit evidence and seen proposals remain valid finality
// evidence across round advances (see onCommit).
func (e *Engine) resetVoteSets() {
	e.prevotes = NewPrevoteSet(e.vs)
	e.commits = NewCommitSet(e.vs)
	e.proposals = make(map[[32]byte]core.Block)
}

// resetRoundPrevotes clears only the per-round Prevote evidence; the lock,
// commits and previously seen proposals carry over so a commit quorum
// reached in an earlier round of this height is
// never forgotten just because this validator's local timeout advanced
// past it.
func (e *Engine) resetRoundPrevotes() {
	e.prevotes = NewPrevoteSet(e.vs)
}

// Run drives the event loop until ctx is cancelled. proposalCh/
// prevoteCh/commitCh carry already-verified inbound consensus messages;
// the caller (cmd/node's wiring) is responsible for decoding and
// verifying raw transport bytes before handing them to Run.
func (e *Engine) Run(ctx context.Context, proposalCh <-chan verifier.VerifiedProposal, prevoteCh <-chan verifier.VerifiedPrevote, commitCh <-chan verifier.VerifiedCommit) {
	e.mu.Lock()
	e.enterPropose()
	deadline := e.armDeadline()
	e.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-proposalCh:
			if !ok {
				proposalCh = nil
				continue
			}
			e.mu.Lock()
			e.onProposal(p.Proposal())
			deadline = e.armDeadline()
			e.mu.Unlock()
		case v, ok := <-prevoteCh:
			if !ok {
				prevoteCh = nil
				continue
			}
			e.mu.Lock()
			e.onPrevote(v.Prevote())
			deadline = e.armDeadline()
			e.mu.Unlock()
		case c, ok := <-commitCh:
			if !ok {
				commitCh = nil
				continue
			}
			e.mu.Lock()
			e.onCommit(c.Commit())
			deadline = e.armDeadline()
			e.mu.Unlock()
		case <-deadline:
			e.mu.Lock()
			e.onDeadline()
			deadline = e.armDeadline()
			e.mu.Unlock()
		}
	}
}

// armDeadline returns a fresh channel that fires when the current
// phase's timeout elapses, tagged with a generation counter so a timer
// from a since-superseded phase is ignored if it somehow still fires
// (the returned channel is always the one selected on, so in practice
// this only guards against duplicate arming within one phase).
func (e *Engine) armDeadline() <-chan struct{} {
	e.deadlineSeq++
	seq := e.deadlineSeq
	var d time.Duration
	switch e.phase {
	case core.PhasePropose:
		d = e.params.Propose(e.round)
	case core.PhasePrevote:
		d = e.params.Prevote(e.round)
	case core.PhaseCommit:
		d = e.params.Commit(e.round)
	default:
		d = e.params.Propose(e.round)
	}
	out := make(chan struct{}, 1)
	go func() {
		<-e.clock.After(d)
		e.mu.Lock()
		fire := seq == e.deadlineSeq
		e.mu.Unlock()
		if fire {
			out <- struct{}{}
		}
	}()
	return out
}

// enterPropose transitions into Propose for the current (height, round):
// resets the prevote set (commits and proposals are kept) and, if this
// validator is the deterministic leader,
// produces and broadcasts its own proposal immediately rather than
// waiting on the phase deadline.
func (e *Engine) enterPropose() {
	e.phase = core.PhasePropose
	e.resetRoundPrevotes()
	e.persistRoundState()

	leader, ok := e.vs.Leader(e.height, e.round)
	if !ok || leader != e.selfID {
		return
	}

	// Once locked, the MVP locking rule requires re-proposing the locked
	// block verbatim in every later round of this height rather than
	// producing a fresh one.
	var proposed core.Block
	if e.locked {
		proposed = e.proposals[e.lockedHash]
	} else {
		prevHash := e.rt.State().LatestHash()
		proposed = e.rt.ProduceBlock(e.height, prevHash, e.maxTxsPerBlock)
	}

	p := core.Proposal{Height: e.height, Round: e.round, Block: proposed, ProposerId: e.selfID}
	p.Sign(e.priv)
	e.proposals[proposed.Hash()] = proposed
	e.tr.Broadcast(transport.TopicProposal, p.Wire())
}

// onProposal implements spec §4.3's on_proposal handler: reject if the
// (height, round) or proposer don't match expectations, or the block
// fails validate_block; on accept, transition to Prevote and broadcast
// this validator's own Prevote for the proposed block.
func (e *Engine) onProposal(p core.Proposal) {
	if p.Height != e.height || p.Round != e.round {
		return
	}
	leader, ok := e.vs.Leader(e.height, e.round)
	if !ok || p.ProposerId != leader {
		return
	}
	if e.phase != core.PhasePropose {
		return
	}

	hash := p.Block.Hash()
	e.proposals[hash] = p.Block

	var votedHash [32]byte
	hasBlock := true
	if e.locked && e.lockedHash != hash {
		// MVP locking rule: once locked, never prevote for a different
		// block within the same height.
		votedHash = e.lockedHash
	} else if err := e.rt.ValidateBlock(p.Block); err != nil {
		hasBlock = false
	} else {
		votedHash = hash
	}

	e.phase = core.PhasePrevote
	e.persistRoundState()

	v := core.Prevote{Height: e.height, Round: e.round, HasBlock: hasBlock, BlockHash: votedHash, Validator: e.selfID}
	v.Sign(e.priv)
	if equiv := e.prevotes.Add(v); equiv {
		e.reportEquivocation("prevote", e.selfID)
	}
	e.tr.Broadcast(transport.TopicPrevote, v.Wire())
}

// onPrevote implements spec §4.3's on_prevote handler: aggregate weight
// per candidate hash, and on observing quorum for some hash, lock on it
// and emit this validator's own Commit.
func (e *Engine) onPrevote(v core.Prevote) {
	if v.Height != e.height || v.Round != e.round {
		return
	}
	if equiv := e.prevotes.Add(v); equiv {
		e.reportEquivocation("prevote", v.Validator)
		return
	}
	if e.phase != core.PhasePrevote {
		return
	}

	quorum := e.vs.Quorum()
	hash, ok := e.prevotes.QuorumHash(quorum)
	if !ok {
		return
	}

	e.locked = true
	e.lockedHash = hash
	e.lockedRound = e.round
	e.phase = core.PhaseCommit
	e.persistRoundState()

	c := core.Commit{Height: e.height, Round: e.round, BlockHash: hash, Validator: e.selfID}
	c.Sign(e.priv)
	if equiv := e.commits.Add(c); equiv {
		e.reportEquivocation("commit", e.selfID)
	}
	e.tr.Broadcast(transport.TopicCommit, c.Wire())
}

// onCommit implements spec §4.3's on_commit handler: aggregate commit
// weight, and on quorum for some hash, finalize the height — apply the
// block, persist it and its FinalityCertificate, advance height, and
// reset round to 0.
//
// Commit evidence is accepted for any round of the current height, not
// just e.round: a validator whose own deadline fires and advances the
// round locally must still be able to finalize on a commit quorum that
// the rest of the network reached in an earlier round before this
// validator observed it (the partition/slow-link case). Evidence is kept
// per-hash across rounds (see resetRoundPrevotes), and when more than one
// candidate hash has accumulated evidence this height, chooseCandidate
// applies the §4.3 fork-choice ordering (finality certificate > commit
// weight > prevote weight > lexicographically smallest hash) to decide
// which one to finalize.
func (e *Engine) onCommit(c core.Commit) {
	if c.Height != e.height {
		return
	}
	if equiv := e.commits.Add(c); equiv {
		e.reportEquivocation("commit", c.Validator)
		return
	}

	quorum := e.vs.Quorum()
	winner, ok := e.chooseCandidate()
	if !ok || winner.CommitWeight < quorum {
		return
	}
	block, ok := e.proposals[winner.Hash]
	if !ok {
		return // we never saw the winning proposal; cannot finalize locally
	}

	e.finalize(block, winner.Hash)
}

// chooseCandidate builds a fork-choice Candidate for every block hash
// this validator has seen a proposal for at the current height and
// returns the one ChooseFork ranks best.
func (e *Engine) chooseCandidate() (Candidate, bool) {
	candidates := make([]Candidate, 0, len(e.proposals))
	for hash := range e.proposals {
		candidates = append(candidates, Candidate{
			Hash:          hash,
			CommitWeight:  e.commits.WeightFor(hash),
			PrevoteWeight: e.prevotes.WeightFor(hash),
		})
	}
	return ChooseFork(candidates)
}

// finalize applies the winning block, commits it durably, advances
// height, and resets round state for the next height's Propose phase.
func (e *Engine) finalize(block core.Block, hash [32]byte) {
	fc := core.NewFinalityCertificate(e.height, hash, e.commits.CommitsFor(hash))

	e.rt.ApplyBlock(block)
	memState, _ := e.rt.State().(*core.MemState)
	if err := e.st.Commit(e.height, block, memState, fc, e.chainID, e.genesisHash); err != nil {
		if chain.Is(err, chain.KindFsyncFailure) {
			log.Fatalf("[consensus] fsync failure committing height %d, halting: %v", e.height, err)
		}
		log.Printf("[consensus] store commit failed at height %d: %v", e.height, err)
	}

	// The control loop ends each height by broadcasting the finalized
	// block so peers that missed the proposal/vote exchange (a restarted
	// or lagging node) can still sync it from the wire.
	e.tr.Broadcast(transport.TopicBlock, block.Encode())

	froms, tos := txAddresses(block)
	e.emitter.Emit(events.Event{
		Type:   events.EventBlockFinalized,
		Height: e.height,
		Data: map[string]any{
			"hash":     fmt.Sprintf("%x", hash),
			"tx_ids":   txIDs(block),
			"tx_froms": froms,
			"tx_tos":   tos,
		},
	})

	e.height++
	e.round = 0
	e.locked = false
	e.lockedHash = [32]byte{}
	e.lockedRound = 0
	e.phase = core.PhaseCommitted
	e.resetVoteSets()
	e.enterPropose()
}

// onDeadline implements the phase-deadline behavior from spec §4.3: a
// Propose-phase deadline with no proposal votes nil; a Prevote or
// Commit deadline without quorum advances the round and re-enters
// Propose.
func (e *Engine) onDeadline() {
	switch e.phase {
	case core.PhasePropose:
		v := core.Prevote{Height: e.height, Round: e.round, HasBlock: false}
		v.Validator = e.selfID
		v.Sign(e.priv)
		e.phase = core.PhasePrevote
		e.persistRoundState()
		if equiv := e.prevotes.Add(v); equiv {
			e.reportEquivocation("prevote", e.selfID)
		}
		e.tr.Broadcast(transport.TopicPrevote, v.Wire())
	case core.PhasePrevote, core.PhaseCommit:
		e.round++
		e.emitter.Emit(events.Event{Type: events.EventRoundAdvanced, Height: e.height, Round: e.round})
		e.enterPropose()
	}
}

func (e *Engine) reportEquivocation(kind string, val core.ValidatorId) {
	e.emitter.Emit(events.Event{
		Type:   events.EventEquivocationDetected,
		Height: e.height,
		Round:  e.round,
		Data:   map[string]any{"phase": kind, "validator": fmt.Sprintf("%x", val.Bytes())},
	})
}

func (e *Engine) persistRoundState() {
	rs := core.RoundState{
		Height:      e.height,
		Round:       e.round,
		Phase:       e.phase,
		Locked:      e.locked,
		LockedRound: e.lockedRound,
	}
	if e.locked {
		rs.LockedBlockHash = fmt.Sprintf("%x", e.lockedHash)
	}
	if err := e.st.WriteRoundState(rs); err != nil {
		log.Printf("[consensus] persist round state failed at height %d round %d: %v", e.height, e.round, err)
	}
}

func txIDs(block core.Block) []string {
	ids := make([]string, len(block.Txs))
	for i, tx := range block.Txs {
		id := tx.ID()
		ids[i] = fmt.Sprintf("%x", id)
	}
	return ids
}

// txAddresses returns the hex-encoded sender and recipient of each
// transaction in block, index-aligned with txIDs, for the index
// package's sender/recipient lookup table.
func txAddresses(block core.Block) (froms, tos []string) {
	froms = make([]string, len(block.Txs))
	tos = make([]string, len(block.Txs))
	for i, tx := range block.Txs {
		froms[i] = fmt.Sprintf("%x", tx.From)
		tos[i] = fmt.Sprintf("%x", tx.To)
	}
	return froms, tos
}

