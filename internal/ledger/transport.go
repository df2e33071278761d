package ledger

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.etcd.io/raft/v3/raftpb"
)

type raftMessageHandler func(msg raftpb.Message)

// raftTransport carries raft messages for the control-plane group between
// peers over length-prefixed TCP frames.
type raftTransport struct {
	nodeID   uint64
	addr     string
	handler  raftMessageHandler
	listener net.Listener

	mu       sync.Mutex
	peers    map[uint64]string
	outbound map[uint64]chan raftpb.Message
	closed   chan struct{}
}

func newRaftTransport(nodeID uint64, addr string, peers map[uint64]string, handler raftMessageHandler) (*raftTransport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	t := &raftTransport{
		nodeID:   nodeID,
		addr:     addr,
		peers:    peers,
		handler:  handler,
		listener: ln,
		outbound: make(map[uint64]chan raftpb.Message),
		closed:   make(chan struct{}),
	}
	for peer := range peers {
		if peer == nodeID {
			continue
		}
		ch := make(chan raftpb.Message, 256)
		t.outbound[peer] = ch
		go t.sender(peer, ch)
	}
	go t.acceptLoop()
	return t, nil
}

func (t *raftTransport) send(to uint64, msg raftpb.Message) error {
	t.mu.Lock()
	ch, ok := t.outbound[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown peer %d", to)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("peer %d queue full", to)
	}
}

func (t *raftTransport) sender(peer uint64, ch <-chan raftpb.Message) {
	for {
		select {
		case <-t.closed:
			return
		case msg := <-ch:
			addr := t.peers[peer]
			conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
			if err := writeRaftFrame(conn, msg); err != nil {
				_ = conn.Close()
				continue
			}
			_ = conn.Close()
		}
	}
}

func (t *raftTransport) acceptLoop() {
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
			msg, err := readRaftFrame(c)
			if err != nil {
				return
			}
			t.handler(msg)
		}(conn)
	}
}

func (t *raftTransport) close() error {
	close(t.closed)
	return t.listener.Close()
}

func writeRaftFrame(w io.Writer, msg raftpb.Message) error {
	b, err := msg.Marshal()
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readRaftFrame(r io.Reader) (raftpb.Message, error) {
	var sz uint32
	if err := binary.Read(r, binary.BigEndian, &sz); err != nil {
		return raftpb.Message{}, err
	}
	br := bufio.NewReader(r)
	buf := make([]byte, sz)
	if _, err := io.ReadFull(br, buf); err != nil {
		return raftpb.Message{}, err
	}
	var msg raftpb.Message
	if err := msg.Unmarshal(buf); err != nil {
		return raftpb.Message{}, err
	}
	return msg, nil
}
