package runtime

import (
	"math"
	"sort"
	"sync"

	"github.com/tolelom/quorumchain/chain"
	"github.com/tolelom/quorumchain/core"
	"github.com/tolelom/quorumchain/verifier"
)

// Mempool holds admitted transactions ordered by (sender, nonce), the
// draw order produce_block uses. Admission requires a VerifiedTransaction
// — the mempool itself never checks a signature.
type Mempool struct {
	mu  sync.RWMutex
	txs map[core.ValidatorId]map[uint64]core.Transaction
	ids map[[32]byte]struct{}
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{
		txs: make(map[core.ValidatorId]map[uint64]core.Transaction),
		ids: make(map[[32]byte]struct{}),
	}
}

// Admit checks the transaction against the current state (nonce
// continuity, sufficient balance) and inserts it if both hold.
func (m *Mempool) Admit(vtx verifier.VerifiedTransaction, state core.State) error {
	tx := vtx.Tx()
	m.mu.Lock()
	defer m.mu.Unlock()

	id := tx.ID()
	if _, exists := m.ids[id]; exists {
		return chain.Newf(chain.KindDuplicateTx, "transaction %x already in mempool", id[:8])
	}

	acc := state.GetAccount(tx.From)
	if acc.Nonce == math.MaxUint64 {
		return chain.Newf(chain.KindInvalidNonce, "account nonce at max uint64, no further transactions admissible")
	}
	if tx.Nonce != acc.Nonce+1 {
		return chain.Newf(chain.KindInvalidNonce, "tx nonce %d, want %d", tx.Nonce, acc.Nonce+1)
	}
	if tx.Amount > acc.Balance {
		return chain.Newf(chain.KindInsufficientFunds, "sender balance %d < amount %d", acc.Balance, tx.Amount)
	}

	bySender, ok := m.txs[tx.From]
	if !ok {
		bySender = make(map[uint64]core.Transaction)
		m.txs[tx.From] = bySender
	}
	bySender[tx.Nonce] = tx
	m.ids[id] = struct{}{}
	return nil
}

// Pending returns up to n transactions ordered by (sender, nonce), the
// deterministic draw order produce_block relies on.
func (m *Mempool) Pending(n int) []core.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	senders := make([]core.ValidatorId, 0, len(m.txs))
	for s := range m.txs {
		senders = append(senders, s)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i].Less(senders[j]) })

	out := make([]core.Transaction, 0, n)
	for _, s := range senders {
		nonces := make([]uint64, 0, len(m.txs[s]))
		for nonce := range m.txs[s] {
			nonces = append(nonces, nonce)
		}
		sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
		for _, nonce := range nonces {
			if len(out) >= n {
				return out
			}
			out = append(out, m.txs[s][nonce])
		}
	}
	return out
}

// Remove deletes the given transactions (by sender/nonce) from the pool,
// called after they are included in a finalized block.
func (m *Mempool) Remove(txs []core.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		if bySender, ok := m.txs[tx.From]; ok {
			delete(bySender, tx.Nonce)
			if len(bySender) == 0 {
				delete(m.txs, tx.From)
			}
		}
		delete(m.ids, tx.ID())
	}
}

// Size returns the number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, bySender := range m.txs {
		n += len(bySender)
	}
	return n
}
