package consensus

import (
	"testing"
	"time"
)

func TestTimeoutParamsLinearGrowth(t *testing.T) {
	p := TimeoutParams{
		ProposeBase: 1 * time.Second,
		PrevoteBase: 2 * time.Second,
		CommitBase:  3 * time.Second,
		Delta:       500 * time.Millisecond,
	}

	if got := p.Propose(0); got != 1*time.Second {
		t.Errorf("Propose(0) = %v, want 1s", got)
	}
	if got := p.Propose(2); got != 2*time.Second {
		t.Errorf("Propose(2) = %v, want 2s", got)
	}
	if got := p.Prevote(1); got != 2500*time.Millisecond {
		t.Errorf("Prevote(1) = %v, want 2.5s", got)
	}
	if got := p.Commit(4); got != 5*time.Second {
		t.Errorf("Commit(4) = %v, want 5s", got)
	}
}

// fakeClock lets tests fire a phase deadline without sleeping.
type fakeClock struct {
	ch chan time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{ch: make(chan time.Time, 1)} }

func (f *fakeClock) After(d time.Duration) <-chan time.Time { return f.ch }

func (f *fakeClock) fire() { f.ch <- time.Now() }

func TestFakeClockFiresOnDemand(t *testing.T) {
	fc := newFakeClock()
	done := make(chan struct{})
	go func() {
		<-fc.After(time.Hour)
		close(done)
	}()
	fc.fire()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fake clock did not unblock After")
	}
}
