package network

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/tolelom/quorumchain/transport"
)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// inboundBuffer bounds how many undelivered frames queue per topic
// before new ones are dropped — the core only promises best-effort
// delivery, so a full channel just drops, matching spec §4.5.
const inboundBuffer = 256

// Node is a transport.Transport backed by TCP (optionally TLS) and
// length-prefixed framing. It fans inbound frames out by topic and
// broadcasts outbound frames to every connected peer.
type Node struct {
	nodeID     string
	listenAddr string
	tlsConfig  *tls.Config // nil → plain TCP
	maxPeers   int

	mu    sync.RWMutex
	peers map[string]*Peer

	inbound map[transport.Topic]chan []byte

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node that will listen on listenAddr. If tlsCfg is
// non-nil the listener and outgoing connections use TLS.
func NewNode(nodeID, listenAddr string, tlsCfg *tls.Config) *Node {
	n := &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		peers:      make(map[string]*Peer),
		inbound:    make(map[transport.Topic]chan []byte),
		stopCh:     make(chan struct{}),
	}
	for _, topic := range []transport.Topic{
		transport.TopicTx, transport.TopicBlock,
		transport.TopicProposal, transport.TopicPrevote, transport.TopicCommit,
	} {
		n.inbound[topic] = make(chan []byte, inboundBuffer)
	}
	return n
}

// Inbound implements transport.Transport.
func (n *Node) Inbound(topic transport.Topic) <-chan []byte {
	return n.inbound[topic]
}

// Broadcast implements transport.Transport.
func (n *Node) Broadcast(topic transport.Topic, payload []byte) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(Frame{Topic: topic, Payload: payload}); err != nil {
			log.Printf("[network] broadcast to %s: %v", p.ID, err)
		}
	}
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node and all peer connections.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr and registers the peer.
func (n *Node) AddPeer(id, addr string) error {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[id] = peer
	n.mu.Unlock()
	go n.readLoop(peer)
	return nil
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Printf("[network] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			log.Printf("[network] max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[network] readLoop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		n.mu.Unlock()
	}()
	for {
		frame, err := peer.Receive()
		if err != nil {
			return
		}
		ch, ok := n.inbound[frame.Topic]
		if !ok {
			continue
		}
		select {
		case ch <- frame.Payload:
		default:
			log.Printf("[network] inbound buffer full for topic %s, dropping frame from %s", frame.Topic, peer.ID)
		}
	}
}
