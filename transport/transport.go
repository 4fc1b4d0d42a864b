// Package transport defines the thin shim the consensus core expects
// from whatever peer-to-peer layer carries bytes between validators. The
// core treats the transport as a best-effort primitive: broadcast may
// drop, reorder, or duplicate; inbound delivery may do the same. All
// deduplication and ordering guarantees are the core's own
// responsibility, not the transport's.
package transport

// Topic names a logical channel of traffic. The core uses exactly these
// five; a transport implementation need not understand their contents.
type Topic string

const (
	TopicTx       Topic = "tx"
	TopicBlock    Topic = "block"
	TopicProposal Topic = "proposal"
	TopicPrevote  Topic = "prevote"
	TopicCommit   Topic = "commit"
)

// Transport is the adapter interface the consensus engine depends on.
// Implementations live outside the correctness-critical core (see the
// network package for the bundled TCP/TLS one).
type Transport interface {
	// Broadcast sends payload to every reachable peer on topic,
	// best-effort. It does not block on delivery confirmation.
	Broadcast(topic Topic, payload []byte)

	// Inbound returns a channel of raw payloads received on topic.
	// Messages may arrive duplicated or out of order; callers dedupe by
	// message identity (validator + height + round + phase, or tx ID).
	Inbound(topic Topic) <-chan []byte
}
