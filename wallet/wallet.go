package wallet

import (
	"github.com/tolelom/quorumchain/core"
	"github.com/tolelom/quorumchain/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// ID returns this wallet's core.ValidatorId — the address form every
// account, transaction, and vote field uses.
func (w *Wallet) ID() core.ValidatorId {
	return w.pub.Array()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// Transfer builds and signs a Transaction moving amount to recipient at
// nonce, the one transaction shape this chain supports (pluggable
// transaction types are out of scope).
func (w *Wallet) Transfer(to core.ValidatorId, amount, nonce uint64) core.Transaction {
	tx := core.Transaction{From: w.ID(), To: to, Amount: amount, Nonce: nonce}
	tx.Sign(w.priv)
	return tx
}
