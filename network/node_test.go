package network

import (
	"testing"
	"time"

	"github.com/tolelom/quorumchain/transport"
)

func TestNodeBroadcastDeliversAcrossPeers(t *testing.T) {
	a := NewNode("a", "127.0.0.1:0", nil)
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	b := NewNode("b", "127.0.0.1:0", nil)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	addr := a.listener.Addr().String()
	if err := b.AddPeer("a", addr); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	// give the accept loop a moment to register the inbound connection.
	time.Sleep(50 * time.Millisecond)

	b.Broadcast(transport.TopicTx, []byte("hello"))

	select {
	case payload := <-a.Inbound(transport.TopicTx):
		if string(payload) != "hello" {
			t.Errorf("payload = %q, want %q", payload, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
}
