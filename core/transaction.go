package core

import (
	"encoding/binary"

	"github.com/tolelom/quorumchain/crypto"
)

// txBodySize is the canonical body length: recipient(32) ‖ amount(8,BE) ‖
// nonce(8,BE). Spec §3 lists a transaction's essentials as sender key,
// recipient key, amount, and nonce; the sender key is carried by the wire
// framing (it IS the trailing pubkey), not the body.
const txBodySize = 32 + 8 + 8

// wireTrailerSize is the trailing pubkey(32) ‖ signature(64) every
// transaction wire form ends with, per spec §6.
const wireTrailerSize = 32 + 64

// Transaction is the atomic unit of work on the chain: a transfer of
// Amount from From to To, authorized by Signature and guarded by Nonce
// for replay protection. This is the plain decoded shape; only the
// verifier package can vouch that Signature actually matches From (see
// verifier.VerifiedTransaction).
type Transaction struct {
	From      ValidatorId
	To        ValidatorId
	Amount    uint64
	Nonce     uint64
	Signature [64]byte
}

// Body returns the canonical 48-byte encoding of the recipient/amount/
// nonce fields, the part of the wire format that precedes the sender
// pubkey and signature.
func (tx *Transaction) Body() []byte {
	buf := make([]byte, txBodySize)
	copy(buf[0:32], tx.To[:])
	binary.BigEndian.PutUint64(buf[32:40], tx.Amount)
	binary.BigEndian.PutUint64(buf[40:48], tx.Nonce)
	return buf
}

// SignedBytes returns Body() ‖ From, exactly payload[:len-64] from spec
// §4.1 — the portion the Ed25519 signature covers.
func (tx *Transaction) SignedBytes() []byte {
	out := tx.Body()
	return append(out, tx.From[:]...)
}

// Wire returns the full canonical wire encoding: body ‖ From(32) ‖
// Signature(64), matching spec §6's "[tx_body ‖ pubkey(32) ‖
// ed25519_sig(64)]".
func (tx *Transaction) Wire() []byte {
	out := tx.SignedBytes()
	return append(out, tx.Signature[:]...)
}

// ID returns the SHA-256 hash of the signed bytes, the transaction's
// stable identity.
func (tx *Transaction) ID() [32]byte {
	return crypto.HashBytes32(tx.SignedBytes())
}

// Sign fills in Signature over SignedBytes(). From must already hold
// priv's public key.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	sig := crypto.SignRaw(priv, tx.SignedBytes())
	copy(tx.Signature[:], sig)
}

// decodeTxBody decodes the recipient/amount/nonce fields from body,
// zero-padding any missing trailing bytes. This lenient decode is what
// lets the crypto gate accept the boundary case of a payload that is
// exactly 96 bytes — an empty body signed by the trailing pubkey and
// signature — per spec §8's boundary behaviors. A transaction that
// decodes to all-zero fields is still subject to Runtime's nonce and
// balance checks; the gate here only concerns itself with signature
// validity over payload[:len-64].
func decodeTxBody(body []byte) (to ValidatorId, amount uint64, nonce uint64) {
	padded := make([]byte, txBodySize)
	copy(padded, body)
	copy(to[:], padded[0:32])
	amount = binary.BigEndian.Uint64(padded[32:40])
	nonce = binary.BigEndian.Uint64(padded[40:48])
	return
}

// DecodeTransactionWire splits a raw wire payload into its parsed fields
// without checking the signature — callers that need the crypto
// guarantee must go through the verifier package instead. Returns false
// if payload is shorter than the 96-byte trailer.
func DecodeTransactionWire(payload []byte) (Transaction, bool) {
	if len(payload) < wireTrailerSize {
		return Transaction{}, false
	}
	body := payload[:len(payload)-wireTrailerSize]
	from := payload[len(payload)-wireTrailerSize : len(payload)-64]
	sig := payload[len(payload)-64:]

	to, amount, nonce := decodeTxBody(body)
	tx := Transaction{To: to, Amount: amount, Nonce: nonce}
	copy(tx.From[:], from)
	copy(tx.Signature[:], sig)
	return tx, true
}
