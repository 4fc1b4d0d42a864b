// Package index maintains rebuildable secondary lookups over finalized
// blocks — transaction-id-to-height, height-to-block-hash, and
// sender/recipient-address-to-transaction-IDs — so RPC queries don't
// have to scan the flat-file block store. It is strictly secondary: the
// store package's flat files remain the only canonical record, and this
// index can always be rebuilt by replaying them.
package index

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/tolelom/quorumchain/core"
	"github.com/tolelom/quorumchain/events"
	"github.com/tolelom/quorumchain/storage"
)

const (
	prefixTxHeight   = "idx:tx:"
	prefixHeightHash = "idx:height:"
	prefixAddrTx     = "idx:addr:"
)

// Index subscribes to finality events and updates the secondary lookup
// tables kept in a LevelDB instance.
type Index struct {
	db storage.DB
}

// New creates an Index backed by db and subscribes it to emitter.
func New(db storage.DB, emitter *events.Emitter) *Index {
	idx := &Index{db: db}
	emitter.Subscribe(events.EventBlockFinalized, idx.onBlockFinalized)
	return idx
}

func (idx *Index) onBlockFinalized(ev events.Event) {
	hashHex, _ := ev.Data["hash"].(string)
	txIDs, _ := ev.Data["tx_ids"].([]string)
	froms, _ := ev.Data["tx_froms"].([]string)
	tos, _ := ev.Data["tx_tos"].([]string)
	if hashHex == "" {
		return
	}
	if err := idx.db.Set([]byte(prefixHeightHash+heightKey(ev.Height)), []byte(hashHex)); err != nil {
		log.Printf("[index] height index write failed (height=%d): %v", ev.Height, err)
	}
	for i, txID := range txIDs {
		if err := idx.RecordTransaction(txID, ev.Height); err != nil {
			log.Printf("[index] tx index write failed (tx=%s height=%d): %v", txID, ev.Height, err)
		}
		if i < len(froms) {
			if err := idx.RecordAddressTransaction(froms[i], txID, ev.Height); err != nil {
				log.Printf("[index] address index write failed (addr=%s tx=%s height=%d): %v", froms[i], txID, ev.Height, err)
			}
		}
		if i < len(tos) {
			if err := idx.RecordAddressTransaction(tos[i], txID, ev.Height); err != nil {
				log.Printf("[index] address index write failed (addr=%s tx=%s height=%d): %v", tos[i], txID, ev.Height, err)
			}
		}
	}
}

// RecordTransaction indexes a single (txID, height) pair. Exposed
// directly so a rebuild pass can repopulate the index without re-playing
// events through the emitter.
func (idx *Index) RecordTransaction(txID string, height uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return idx.db.Set([]byte(prefixTxHeight+txID), buf[:])
}

// TransactionHeight returns the height at which txID was finalized.
func (idx *Index) TransactionHeight(txID string) (uint64, bool) {
	val, err := idx.db.Get([]byte(prefixTxHeight + txID))
	if err != nil {
		return 0, false
	}
	if len(val) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(val), true
}

// BlockHashAtHeight returns the hex-encoded block hash recorded for
// height.
func (idx *Index) BlockHashAtHeight(height uint64) (string, bool) {
	val, err := idx.db.Get([]byte(prefixHeightHash + heightKey(height)))
	if err != nil {
		return "", false
	}
	return string(val), true
}

// RecordAddressTransaction indexes a single (address, txID) pair under a
// key ordered by height, so TransactionsByAddress can return them in
// finalization order. Exposed directly for the same rebuild-without-
// replaying-events reason as RecordTransaction.
func (idx *Index) RecordAddressTransaction(address, txID string, height uint64) error {
	key := prefixAddrTx + address + ":" + heightKey(height) + ":" + txID
	return idx.db.Set([]byte(key), []byte(txID))
}

// TransactionsByAddress returns every transaction ID recorded with
// address as sender or recipient, in finalization order. This is the
// lookup the RPC query surface's getTransactionsByAddress method serves.
func (idx *Index) TransactionsByAddress(address string) ([]string, error) {
	it := idx.db.NewIterator([]byte(prefixAddrTx + address + ":"))
	defer it.Release()

	var ids []string
	for it.Next() {
		ids = append(ids, string(it.Value()))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Rebuild clears nothing (LevelDB has no fast truncate in this
// interface) but replays every block the store has, recomputing all three
// tables (height→hash, tx-id→height, address→tx-ids). Used after the index is suspected stale, e.g. a prior process
// crashed between a store commit and the index update.
func Rebuild(idx *Index, blocks []core.Block) error {
	for _, b := range blocks {
		hash := b.Hash()
		if err := idx.db.Set([]byte(prefixHeightHash+heightKey(b.Height)), []byte(fmt.Sprintf("%x", hash))); err != nil {
			return fmt.Errorf("rebuild height index at %d: %w", b.Height, err)
		}
		for _, tx := range b.Txs {
			id := fmt.Sprintf("%x", tx.ID())
			if err := idx.RecordTransaction(id, b.Height); err != nil {
				return fmt.Errorf("rebuild tx index at %d: %w", b.Height, err)
			}
			from := fmt.Sprintf("%x", tx.From)
			if err := idx.RecordAddressTransaction(from, id, b.Height); err != nil {
				return fmt.Errorf("rebuild address index at %d: %w", b.Height, err)
			}
			to := fmt.Sprintf("%x", tx.To)
			if err := idx.RecordAddressTransaction(to, id, b.Height); err != nil {
				return fmt.Errorf("rebuild address index at %d: %w", b.Height, err)
			}
		}
	}
	return nil
}

func heightKey(height uint64) string {
	return fmt.Sprintf("%020d", height)
}
