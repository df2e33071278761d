// Package transport carries cluster-state events between broker nodes over
// length-prefixed TCP frames. Delivery is fire-and-forget: each frame is
// queued for its peer and written once over a fresh connection. A frame
// whose dial or write fails is dropped and not retried, and nothing in the
// transport resends it later.
package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kaikulimu/blazingmq/internal/blob"
	"github.com/kaikulimu/blazingmq/internal/cluster"
	"github.com/kaikulimu/blazingmq/internal/protocol"
)

// Handler receives every inbound cluster-state event blob.
type Handler func(event *blob.Blob)

type Config struct {
	NodeID        cluster.NodeID
	Address       string
	PeerAddresses map[cluster.NodeID]string
	DialTimeout   time.Duration
	Logger        *zap.Logger
}

// TCP implements the coordinator's Relay over plain TCP.
type TCP struct {
	cfg      Config
	handler  Handler
	listener net.Listener
	log      *zap.Logger

	mu       sync.Mutex
	outbound map[cluster.NodeID]chan []byte
	closed   chan struct{}
}

func NewTCP(cfg Config, handler Handler) (*TCP, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	t := &TCP{
		cfg:      cfg,
		handler:  handler,
		listener: ln,
		log:      cfg.Logger,
		outbound: make(map[cluster.NodeID]chan []byte),
		closed:   make(chan struct{}),
	}
	for peer := range cfg.PeerAddresses {
		if peer == cfg.NodeID {
			continue
		}
		ch := make(chan []byte, 128)
		t.outbound[peer] = ch
		go t.sender(peer, ch)
	}
	go t.acceptLoop()
	return t, nil
}

func (t *TCP) Addr() string { return t.listener.Addr().String() }

// Unicast frames payload as a CLUSTER_STATE event and queues it for node.
func (t *TCP) Unicast(node cluster.NodeID, payload []byte) error {
	t.mu.Lock()
	ch, ok := t.outbound[node]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown peer %d", node)
	}
	event, err := frameClusterStateEvent(payload)
	if err != nil {
		return err
	}
	select {
	case ch <- event:
		return nil
	default:
		return fmt.Errorf("peer %d queue full", node)
	}
}

// Broadcast queues payload for every peer. Individual peer failures are
// logged, not returned; the transport has no delivery guarantee to offer.
func (t *TCP) Broadcast(payload []byte) error {
	event, err := frameClusterStateEvent(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for peer, ch := range t.outbound {
		select {
		case ch <- event:
		default:
			t.log.Warn("peer queue full, frame dropped", zap.Int32("peer", peer))
		}
	}
	return nil
}

func (t *TCP) Close() error {
	close(t.closed)
	return t.listener.Close()
}

func (t *TCP) sender(peer cluster.NodeID, ch <-chan []byte) {
	for {
		select {
		case <-t.closed:
			return
		case event := <-ch:
			addr := t.cfg.PeerAddresses[peer]
			conn, err := net.DialTimeout("tcp", addr, t.cfg.DialTimeout)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.DialTimeout))
			if err := protocol.WriteEvent(conn, event); err != nil {
				_ = conn.Close()
				continue
			}
			_ = conn.Close()
		}
	}
}

func (t *TCP) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}
			continue
		}
		go func(c net.Conn) {
			defer c.Close()
			_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
			event, err := protocol.ReadEvent(bufio.NewReader(c))
			if err != nil {
				return
			}
			t.handler(blob.FromBytes(event))
		}(conn)
	}
}

func frameClusterStateEvent(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty cluster state payload")
	}
	h := protocol.NewEventHeader(protocol.EventTypeClusterState)
	h.Length = uint32(protocol.MinEventHeaderSize + len(payload))
	event := h.Encode(make([]byte, 0, h.Length))
	return append(event, payload...), nil
}
