package index

import (
	"fmt"
	"os"
	"testing"

	"github.com/tolelom/quorumchain/core"
	"github.com/tolelom/quorumchain/events"
	"github.com/tolelom/quorumchain/storage"
)

func openTestDB(t *testing.T) storage.DB {
	t.Helper()
	dir, err := os.MkdirTemp("", "index-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIndexRecordsOnBlockFinalized(t *testing.T) {
	db := openTestDB(t)
	emitter := events.NewEmitter()
	idx := New(db, emitter)

	emitter.Emit(events.Event{
		Type:   events.EventBlockFinalized,
		Height: 7,
		Data: map[string]any{
			"hash":   "deadbeef",
			"tx_ids": []string{"aaaa", "bbbb"},
		},
	})

	hash, ok := idx.BlockHashAtHeight(7)
	if !ok || hash != "deadbeef" {
		t.Fatalf("BlockHashAtHeight(7) = (%q, %v), want (deadbeef, true)", hash, ok)
	}

	h, ok := idx.TransactionHeight("aaaa")
	if !ok || h != 7 {
		t.Fatalf("TransactionHeight(aaaa) = (%d, %v), want (7, true)", h, ok)
	}
}

func TestTransactionHeightMissing(t *testing.T) {
	db := openTestDB(t)
	idx := New(db, events.NewEmitter())
	if _, ok := idx.TransactionHeight("nope"); ok {
		t.Error("expected miss for unindexed tx id")
	}
}

func TestIndexRecordsAddressTransactionsOnBlockFinalized(t *testing.T) {
	db := openTestDB(t)
	emitter := events.NewEmitter()
	idx := New(db, emitter)

	emitter.Emit(events.Event{
		Type:   events.EventBlockFinalized,
		Height: 3,
		Data: map[string]any{
			"hash":     "cafef00d",
			"tx_ids":   []string{"tx1"},
			"tx_froms": []string{"alice"},
			"tx_tos":   []string{"bob"},
		},
	})

	aliceTxs, err := idx.TransactionsByAddress("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(aliceTxs) != 1 || aliceTxs[0] != "tx1" {
		t.Fatalf("TransactionsByAddress(alice) = %v, want [tx1]", aliceTxs)
	}

	bobTxs, err := idx.TransactionsByAddress("bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(bobTxs) != 1 || bobTxs[0] != "tx1" {
		t.Fatalf("TransactionsByAddress(bob) = %v, want [tx1]", bobTxs)
	}

	if txs, err := idx.TransactionsByAddress("carol"); err != nil || len(txs) != 0 {
		t.Fatalf("TransactionsByAddress(carol) = %v, %v, want empty", txs, err)
	}
}

func TestRebuildPopulatesAddressIndex(t *testing.T) {
	db := openTestDB(t)
	idx := New(db, events.NewEmitter())

	var from, to core.ValidatorId
	from[0] = 0xAA
	to[0] = 0xBB
	tx := core.Transaction{From: from, To: to, Amount: 1, Nonce: 1}
	block := core.Block{Height: 1, Txs: []core.Transaction{tx}}

	if err := Rebuild(idx, []core.Block{block}); err != nil {
		t.Fatal(err)
	}

	id := fmt.Sprintf("%x", tx.ID())
	fromAddr := fmt.Sprintf("%x", from)
	txs, err := idx.TransactionsByAddress(fromAddr)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 || txs[0] != id {
		t.Fatalf("TransactionsByAddress(%s) = %v, want [%s]", fromAddr, txs, id)
	}
}
