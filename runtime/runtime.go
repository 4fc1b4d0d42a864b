// Package runtime is the pure, deterministic state-transition engine.
// It performs no I/O and owns no concurrency primitives of its own:
// given an identical input State and input Block, ValidateBlock and
// ApplyBlock produce byte-identical output State on every invocation.
package runtime

import (
	"github.com/tolelom/quorumchain/chain"
	"github.com/tolelom/quorumchain/core"
)

// Runtime applies transactions to a core.State and produces/validates
// blocks against it. It does not persist anything; that is the store
// package's job, driven by the consensus engine after finality.
type Runtime struct {
	state   core.State
	mempool *Mempool
}

// New wires a Runtime to the given state and mempool.
func New(state core.State, mempool *Mempool) *Runtime {
	return &Runtime{state: state, mempool: mempool}
}

// State exposes the underlying world state for read access (RPC queries,
// genesis initialization). Mutation must go through ApplyBlock.
func (r *Runtime) State() core.State { return r.state }

// Mempool returns the runtime's pending-transaction pool.
func (r *Runtime) Mempool() *Mempool { return r.mempool }

// applyTx debits From, credits To, and bumps From's nonce on s. Callers
// are responsible for snapshotting s first if the mutation must be
// revertible.
func applyTx(s core.State, tx core.Transaction) error {
	sender := s.GetAccount(tx.From)
	if tx.Nonce != sender.Nonce+1 {
		return chain.Newf(chain.KindInvalidNonce, "tx nonce %d, want %d", tx.Nonce, sender.Nonce+1)
	}
	if tx.Amount > sender.Balance {
		return chain.Newf(chain.KindInsufficientFunds, "sender balance %d < amount %d", sender.Balance, tx.Amount)
	}

	recipient := s.GetAccount(tx.To)
	sender.Balance -= tx.Amount
	sender.Nonce = tx.Nonce
	recipient.Balance += tx.Amount

	s.SetAccount(sender)
	s.SetAccount(recipient)
	return nil
}

// ProduceBlock takes up to maxTxs pending transactions from the mempool
// in (sender, nonce) order, dry-applies them to a snapshot of State to
// compute the resulting state_root, and returns an unsigned Block. It
// never mutates State: the snapshot is reverted before returning. It does
// not remove the transactions from the mempool; ApplyBlock removes them
// once the block is finalized.
func (r *Runtime) ProduceBlock(height uint64, prevHash [32]byte, maxTxs int) core.Block {
	candidates := r.mempool.Pending(maxTxs)

	snap := r.state.Snapshot()
	included := make([]core.Transaction, 0, len(candidates))
	for _, tx := range candidates {
		if err := applyTx(r.state, tx); err != nil {
			continue // drop invalid candidates silently; they stay out of the block
		}
		included = append(included, tx)
	}
	root := r.state.ComputeRoot()
	r.state.RevertToSnapshot(snap)

	return core.Block{
		Height:    height,
		PrevHash:  prevHash,
		StateRoot: root,
		Txs:       included,
	}
}

// ValidateBlock recomputes state_root by dry-applying block's
// transactions to a snapshot of State, and checks height/prev_hash
// continuity. It never leaves an observable mutation: the snapshot is
// always reverted, whether validation succeeds or fails.
func (r *Runtime) ValidateBlock(block core.Block) error {
	if block.Height != r.state.Height()+1 {
		return chain.Newf(chain.KindHeightMismatch, "block height %d, want %d", block.Height, r.state.Height()+1)
	}
	if block.PrevHash != r.state.LatestHash() {
		return chain.Newf(chain.KindPrevHashMismatch, "block prev_hash %x, want %x", block.PrevHash, r.state.LatestHash())
	}

	snap := r.state.Snapshot()
	defer r.state.RevertToSnapshot(snap)

	for _, tx := range block.Txs {
		if err := applyTx(r.state, tx); err != nil {
			return err
		}
	}
	if root := r.state.ComputeRoot(); root != block.StateRoot {
		return chain.Newf(chain.KindStateRootMismatch, "computed state_root %x, want %x", root, block.StateRoot)
	}
	return nil
}

// ApplyBlock applies block's transactions to State for real, advances
// height, and updates the latest block hash. It must only be called
// with a block that already carries a FinalityCertificate — at that
// point application is infallible by construction, since the block was
// already dry-run validated.
func (r *Runtime) ApplyBlock(block core.Block) {
	for _, tx := range block.Txs {
		_ = applyTx(r.state, tx) // infallible: block was already validated
	}
	r.state.Commit()
	r.state.SetChainHead(block.Height, block.Hash())
	r.mempool.Remove(block.Txs)
}
