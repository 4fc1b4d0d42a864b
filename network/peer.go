// Package network carries consensus and transaction traffic between
// validators over TCP (optionally TLS), using length-prefixed frames.
// It implements transport.Transport; the consensus core depends only on
// that interface, never on this package directly.
package network

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tolelom/quorumchain/transport"
)

// Frame is the wire envelope for all peer-to-peer traffic: a topic tag
// plus an opaque payload the core has already encoded.
type Frame struct {
	Topic   transport.Topic
	Payload []byte
}

// Peer represents a connected remote node.
type Peer struct {
	ID   string
	Addr string

	conn   net.Conn
	mu     sync.Mutex
	closed bool
}

// NewPeer wraps an established TCP connection as a Peer.
func NewPeer(id, addr string, conn net.Conn) *Peer {
	return &Peer{ID: id, Addr: addr, conn: conn}
}

// Connect dials the remote address and returns a connected Peer. If
// tlsCfg is non-nil the connection is established over TLS.
func Connect(id, addr string, tlsCfg *tls.Config) (*Peer, error) {
	var conn net.Conn
	var err error
	if tlsCfg != nil {
		conn, err = tls.Dial("tcp", addr, tlsCfg)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return NewPeer(id, addr, conn), nil
}

// maxFrameSize bounds a single inbound frame so a misbehaving or
// corrupted peer cannot force an unbounded allocation.
const maxFrameSize = 32 * 1024 * 1024

// Send writes a length-prefixed frame: 1-byte topic length, topic bytes,
// 4-byte big-endian payload length, payload bytes.
func (p *Peer) Send(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("peer %s closed", p.ID)
	}

	topic := []byte(f.Topic)
	if len(topic) > 255 {
		return fmt.Errorf("topic %q too long", f.Topic)
	}
	if _, err := p.conn.Write([]byte{byte(len(topic))}); err != nil {
		return err
	}
	if _, err := p.conn.Write(topic); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
	if _, err := p.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := p.conn.Write(f.Payload)
	return err
}

// Receive reads the next frame. A 30-second read deadline prevents a
// stalled peer from blocking indefinitely.
func (p *Peer) Receive() (Frame, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	var topicLen [1]byte
	if _, err := io.ReadFull(p.conn, topicLen[:]); err != nil {
		return Frame{}, err
	}
	topic := make([]byte, topicLen[0])
	if _, err := io.ReadFull(p.conn, topic); err != nil {
		return Frame{}, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(p.conn, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameSize {
		return Frame{}, fmt.Errorf("frame too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(p.conn, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Topic: transport.Topic(topic), Payload: payload}, nil
}

// Close terminates the peer connection.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.conn.Close()
	}
}
