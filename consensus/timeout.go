package consensus

import "time"

// TimeoutParams holds the per-phase timeout bases and the shared growth
// factor: timeout(round) = base + delta*round, per phase. Distinct bases
// let Propose/Prevote/Commit grow independently while sharing the same
// linear backoff under partial synchrony.
type TimeoutParams struct {
	ProposeBase time.Duration
	PrevoteBase time.Duration
	CommitBase  time.Duration
	Delta       time.Duration
}

// Propose returns the Propose-phase deadline duration for round.
func (p TimeoutParams) Propose(round uint64) time.Duration {
	return p.ProposeBase + p.Delta*time.Duration(round)
}

// Prevote returns the Prevote-phase deadline duration for round.
func (p TimeoutParams) Prevote(round uint64) time.Duration {
	return p.PrevoteBase + p.Delta*time.Duration(round)
}

// Commit returns the Commit-phase deadline duration for round.
func (p TimeoutParams) Commit(round uint64) time.Duration {
	return p.CommitBase + p.Delta*time.Duration(round)
}

// Clock abstracts "wake the consensus loop at time t" so the engine never
// reads wall-clock time directly — wall-clock can go backwards, and the
// engine's liveness only depends on a monotonic source. Production code
// uses realClock; tests can substitute a fake to drive phase timeouts
// deterministically.
type Clock interface {
	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// realClock is the production Clock, backed by time.After (which uses
// the runtime's monotonic timer, not wall-clock reads).
type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the default Clock implementation.
var RealClock Clock = realClock{}
