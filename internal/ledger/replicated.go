package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
	"go.uber.org/zap"

	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
)

// ApplyFunc is invoked for every committed ledger record, on every node, in
// LSN order. Followers use it to apply advisories to their cluster state.
type ApplyFunc func(lsn ctrlmsg.LeaderMessageSequence, msg *ctrlmsg.ClusterMessage)

// ReplicatedConfig configures the raft-backed ledger backend.
type ReplicatedConfig struct {
	NodeID              uint64
	Address             string
	PeerAddresses       map[uint64]string
	TickInterval        time.Duration
	ElectionTicks       int
	HeartbeatTicks      int
	MaxInflightMsgs     int
	MaxMessageSize      uint64
	Apply               ApplyFunc
	BootstrapNewCluster bool
	Logger              *zap.Logger
}

// Replicated journals advisories through a single raft group spanning the
// cluster. An append proposes the record and returns once it commits; every
// node mirrors committed records locally to serve iteration.
type Replicated struct {
	cfg       ReplicatedConfig
	node      raft.Node
	storage   *raft.MemoryStorage
	transport *raftTransport
	mirror    *Memory
	log       *zap.Logger

	mu      sync.Mutex
	waiters map[ctrlmsg.LeaderMessageSequence]chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewReplicated(cfg ReplicatedConfig) (*Replicated, error) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 20 * time.Millisecond
	}
	if cfg.ElectionTicks == 0 {
		cfg.ElectionTicks = 10
	}
	if cfg.HeartbeatTicks == 0 {
		cfg.HeartbeatTicks = 1
	}
	if cfg.MaxInflightMsgs == 0 {
		cfg.MaxInflightMsgs = 256
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := &Replicated{
		cfg:     cfg,
		storage: raft.NewMemoryStorage(),
		mirror:  NewMemory(),
		log:     cfg.Logger,
		waiters: make(map[ctrlmsg.LeaderMessageSequence]chan struct{}),
		stopCh:  make(chan struct{}),
	}

	t, err := newRaftTransport(cfg.NodeID, cfg.Address, cfg.PeerAddresses, func(msg raftpb.Message) {
		r.node.Step(context.Background(), msg)
	})
	if err != nil {
		return nil, err
	}
	r.transport = t

	rc := &raft.Config{
		ID:              cfg.NodeID,
		ElectionTick:    cfg.ElectionTicks,
		HeartbeatTick:   cfg.HeartbeatTicks,
		Storage:         r.storage,
		MaxSizePerMsg:   cfg.MaxMessageSize,
		MaxInflightMsgs: cfg.MaxInflightMsgs,
		CheckQuorum:     true,
		PreVote:         true,
	}
	if cfg.BootstrapNewCluster {
		peers := make([]raft.Peer, 0, len(cfg.PeerAddresses))
		for id := range cfg.PeerAddresses {
			peers = append(peers, raft.Peer{ID: id})
		}
		r.node = raft.StartNode(rc, peers)
	} else {
		r.node = raft.RestartNode(rc)
	}
	return r, nil
}

func (r *Replicated) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Replicated) Close() error {
	close(r.stopCh)
	r.node.Stop()
	r.wg.Wait()
	return r.transport.close()
}

func (r *Replicated) IsLeader() bool {
	return r.node.Status().RaftState == raft.StateLeader
}

func (r *Replicated) Leader() uint64 { return r.node.Status().Lead }

// Append proposes the record and blocks until it commits locally or ctx
// expires. Only the raft leader may append; callers on other nodes receive
// ErrNotLeader and must redirect to the leader.
func (r *Replicated) Append(ctx context.Context, msg *ctrlmsg.ClusterMessage, lsn ctrlmsg.LeaderMessageSequence) error {
	if !r.IsLeader() {
		appendFailures.WithLabelValues("replicated").Inc()
		return fmt.Errorf("%w: leader=%d", ErrNotLeader, r.Leader())
	}
	payload, err := ctrlmsg.Marshal(msg)
	if err != nil {
		appendFailures.WithLabelValues("replicated").Inc()
		return err
	}
	record := &LedgerRecord{
		LeaderTerm:     lsn.LeaderTerm,
		SequenceNumber: lsn.SequenceNumber,
		Payload:        payload,
	}
	b, err := proto.Marshal(record)
	if err != nil {
		appendFailures.WithLabelValues("replicated").Inc()
		return err
	}

	committed := make(chan struct{})
	r.mu.Lock()
	r.waiters[lsn] = committed
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.waiters, lsn)
		r.mu.Unlock()
	}()

	if err := r.node.Propose(ctx, b); err != nil {
		appendFailures.WithLabelValues("replicated").Inc()
		return err
	}

	select {
	case <-committed:
		appendsTotal.WithLabelValues("replicated").Inc()
		return nil
	case <-ctx.Done():
		appendFailures.WithLabelValues("replicated").Inc()
		return ctx.Err()
	case <-r.stopCh:
		appendFailures.WithLabelValues("replicated").Inc()
		return ErrClosed
	}
}

func (r *Replicated) Iterate(ctx context.Context) (Iterator, error) {
	return r.mirror.Iterate(ctx)
}

// Sync is a no-op: durability comes from quorum replication, not from local
// disk.
func (r *Replicated) Sync(context.Context) error { return nil }

func (r *Replicated) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.node.Tick()
		case rd := <-r.node.Ready():
			if !raft.IsEmptySnap(rd.Snapshot) {
				_ = r.storage.ApplySnapshot(rd.Snapshot)
			}
			if !raft.IsEmptyHardState(rd.HardState) {
				_ = r.storage.SetHardState(rd.HardState)
			}
			_ = r.storage.Append(rd.Entries)
			for _, m := range rd.Messages {
				_ = r.transport.send(m.To, m)
			}
			for _, ent := range rd.CommittedEntries {
				if ent.Type != raftpb.EntryNormal || len(ent.Data) == 0 {
					continue
				}
				r.applyCommitted(ent.Data)
			}
			r.node.Advance()
		}
	}
}

func (r *Replicated) applyCommitted(data []byte) {
	var record LedgerRecord
	if err := proto.Unmarshal(data, &record); err != nil {
		r.log.Error("ledger record unmarshal failed", zap.Error(err))
		return
	}
	lsn := ctrlmsg.LeaderMessageSequence{
		LeaderTerm:     record.LeaderTerm,
		SequenceNumber: record.SequenceNumber,
	}
	msg, err := ctrlmsg.UnmarshalClusterMessage(record.Payload)
	if err != nil {
		r.log.Error("advisory unmarshal failed", zap.Error(err))
		return
	}
	if err := r.mirror.Append(context.Background(), msg, lsn); err != nil {
		r.log.Error("ledger mirror append failed",
			zap.String("lsn", lsn.Format()), zap.Error(err))
		return
	}
	if r.cfg.Apply != nil {
		r.cfg.Apply(lsn, msg)
	}
	r.mu.Lock()
	waiter, ok := r.waiters[lsn]
	r.mu.Unlock()
	if ok {
		close(waiter)
	}
}
