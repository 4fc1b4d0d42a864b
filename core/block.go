package core

import (
	"bytes"
	"encoding/binary"

	"github.com/tolelom/quorumchain/crypto"
)

// Block is an ordered batch of transactions committed atomically at a
// given height. Authentication lives one level up, at the Proposal that
// carries a block: the block body itself carries no signature (spec §9's
// resolution of the wire-authentication open question).
type Block struct {
	Height    uint64
	PrevHash  [32]byte
	StateRoot [32]byte
	Txs       []Transaction
}

// Encode returns the canonical byte encoding from spec §6:
// height(8,BE) ‖ prev_hash(32) ‖ state_root(32) ‖ tx_count(varint) ‖
// tx_payloads, where each tx payload is length-prefixed with a varint so
// the decoder can walk a variable number of variable-length wire
// transactions.
func (b *Block) Encode() []byte {
	var buf bytes.Buffer
	var u64 [8]byte

	binary.BigEndian.PutUint64(u64[:], b.Height)
	buf.Write(u64[:])
	buf.Write(b.PrevHash[:])
	buf.Write(b.StateRoot[:])

	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(b.Txs)))
	buf.Write(varintBuf[:n])

	for i := range b.Txs {
		wire := b.Txs[i].Wire()
		n := binary.PutUvarint(varintBuf[:], uint64(len(wire)))
		buf.Write(varintBuf[:n])
		buf.Write(wire)
	}
	return buf.Bytes()
}

// Hash returns the SHA-256 digest of Encode(), the block's identity used
// as the next block's PrevHash and in fork-choice comparisons.
func (b *Block) Hash() [32]byte {
	return crypto.HashBytes32(b.Encode())
}

// DecodeBlock parses a canonical block encoding. It returns false on any
// truncation or malformed varint, which callers surface as a format
// error.
func DecodeBlock(data []byte) (Block, bool) {
	if len(data) < 8+32+32 {
		return Block{}, false
	}
	var b Block
	b.Height = binary.BigEndian.Uint64(data[0:8])
	copy(b.PrevHash[:], data[8:40])
	copy(b.StateRoot[:], data[40:72])

	rest := data[72:]
	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return Block{}, false
	}
	rest = rest[n:]

	txs := make([]Transaction, 0, count)
	for i := uint64(0); i < count; i++ {
		txLen, n := binary.Uvarint(rest)
		if n <= 0 || uint64(len(rest)-n) < txLen {
			return Block{}, false
		}
		rest = rest[n:]
		tx, ok := DecodeTransactionWire(rest[:txLen])
		if !ok {
			return Block{}, false
		}
		txs = append(txs, tx)
		rest = rest[txLen:]
	}
	b.Txs = txs
	return b, true
}
