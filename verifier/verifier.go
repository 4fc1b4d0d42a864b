// Package verifier is the stateless cryptographic gate between untrusted
// wire bytes and the rest of the node. It exposes verify_transaction
// (VerifyTransaction) and verify_consensus_message, the latter split per
// message kind (VerifyProposal/VerifyPrevote/VerifyCommit, plus *Payload
// variants that decode raw wire bytes first), and is the sole
// constructor of the Verified* types — every downstream component
// (runtime, consensus) accepts only these types, so "was this checked?"
// becomes a question the type system answers instead of a runtime one.
package verifier

import (
	"github.com/tolelom/quorumchain/chain"
	"github.com/tolelom/quorumchain/core"
	"github.com/tolelom/quorumchain/crypto"
)

// VerifiedTransaction is a Transaction whose signature has already been
// checked against its sender pubkey. The wrapped field is unexported:
// code outside this package can read a VerifiedTransaction's contents
// through Tx(), but cannot construct one without going through
// VerifyTransaction.
type VerifiedTransaction struct {
	tx core.Transaction
}

// Tx returns the verified transaction's decoded fields.
func (v VerifiedTransaction) Tx() core.Transaction { return v.tx }

// VerifyTransaction checks a raw transaction wire payload: [tx_body ‖
// pubkey(32) ‖ ed25519_sig(64)], total length >= 96. Returns
// KindFormatError if too short, KindSignatureError if the signature does
// not verify.
func VerifyTransaction(payload []byte) (VerifiedTransaction, error) {
	const minLen = 96
	if len(payload) < minLen {
		return VerifiedTransaction{}, chain.Newf(chain.KindFormatError,
			"transaction payload too short: %d bytes, need >= %d", len(payload), minLen)
	}

	signed := payload[:len(payload)-64]
	sig := payload[len(payload)-64:]
	pub := payload[len(payload)-96 : len(payload)-64]

	if err := crypto.VerifyRaw(crypto.PublicKey(pub), signed, sig); err != nil {
		return VerifiedTransaction{}, chain.New(chain.KindSignatureError, err)
	}

	tx, ok := core.DecodeTransactionWire(payload)
	if !ok {
		return VerifiedTransaction{}, chain.Newf(chain.KindFormatError, "malformed transaction body")
	}
	return VerifiedTransaction{tx: tx}, nil
}

// VerifiedProposal wraps a Proposal whose proposer signature and
// validator-set membership have both been checked.
type VerifiedProposal struct {
	p core.Proposal
}

func (v VerifiedProposal) Proposal() core.Proposal { return v.p }

// VerifiedPrevote wraps a signature- and membership-checked Prevote.
type VerifiedPrevote struct {
	v core.Prevote
}

func (v VerifiedPrevote) Prevote() core.Prevote { return v.v }

// VerifiedCommit wraps a signature- and membership-checked Commit.
type VerifiedCommit struct {
	c core.Commit
}

func (v VerifiedCommit) Commit() core.Commit { return v.c }

// VerifyProposal checks that p.ProposerId is a member of vs and that
// Signature is a valid Ed25519 signature over p.SignedBytes().
func VerifyProposal(p core.Proposal, vs *core.ValidatorSet) (VerifiedProposal, error) {
	if !vs.IsMember(p.ProposerId) {
		return VerifiedProposal{}, chain.Newf(chain.KindUnknownValidator,
			"proposer %x is not a member of the validator set", p.ProposerId.Bytes())
	}
	if err := crypto.VerifyRaw(crypto.PublicKey(p.ProposerId[:]), p.SignedBytes(), p.Signature[:]); err != nil {
		return VerifiedProposal{}, chain.New(chain.KindSignatureError, err)
	}
	return VerifiedProposal{p: p}, nil
}

// VerifyPrevote checks that v.Validator is a member of vs and that
// Signature is valid over v.SignedBytes().
func VerifyPrevote(v core.Prevote, vs *core.ValidatorSet) (VerifiedPrevote, error) {
	if !vs.IsMember(v.Validator) {
		return VerifiedPrevote{}, chain.Newf(chain.KindUnknownValidator,
			"validator %x is not a member of the validator set", v.Validator.Bytes())
	}
	if err := crypto.VerifyRaw(crypto.PublicKey(v.Validator[:]), v.SignedBytes(), v.Signature[:]); err != nil {
		return VerifiedPrevote{}, chain.New(chain.KindSignatureError, err)
	}
	return VerifiedPrevote{v: v}, nil
}

// VerifyCommit checks that c.Validator is a member of vs and that
// Signature is valid over c.SignedBytes().
func VerifyCommit(c core.Commit, vs *core.ValidatorSet) (VerifiedCommit, error) {
	if !vs.IsMember(c.Validator) {
		return VerifiedCommit{}, chain.Newf(chain.KindUnknownValidator,
			"validator %x is not a member of the validator set", c.Validator.Bytes())
	}
	if err := crypto.VerifyRaw(crypto.PublicKey(c.Validator[:]), c.SignedBytes(), c.Signature[:]); err != nil {
		return VerifiedCommit{}, chain.New(chain.KindSignatureError, err)
	}
	return VerifiedCommit{c: c}, nil
}

// VerifyProposalPayload decodes a wire Proposal payload and verifies it
// in one step, for callers (the transport inbound loop) that only have
// raw bytes.
func VerifyProposalPayload(payload []byte, vs *core.ValidatorSet) (VerifiedProposal, error) {
	p, ok := core.DecodeProposal(payload)
	if !ok {
		return VerifiedProposal{}, chain.Newf(chain.KindFormatError, "malformed proposal payload")
	}
	return VerifyProposal(p, vs)
}

// VerifyPrevotePayload decodes a wire Prevote payload and verifies it.
func VerifyPrevotePayload(payload []byte, vs *core.ValidatorSet) (VerifiedPrevote, error) {
	v, ok := core.DecodePrevote(payload)
	if !ok {
		return VerifiedPrevote{}, chain.Newf(chain.KindFormatError, "malformed prevote payload")
	}
	return VerifyPrevote(v, vs)
}

// VerifyCommitPayload decodes a wire Commit payload and verifies it.
func VerifyCommitPayload(payload []byte, vs *core.ValidatorSet) (VerifiedCommit, error) {
	c, ok := core.DecodeCommit(payload)
	if !ok {
		return VerifiedCommit{}, chain.Newf(chain.KindFormatError, "malformed commit payload")
	}
	return VerifyCommit(c, vs)
}
