// Package ledger implements the cluster state ledger: an append-only,
// totally-ordered log of advisories keyed by LSN. Followers replay it to
// reconstruct cluster state; the leader appends to it before mutating its
// own state.
package ledger

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
)

var (
	// ErrStaleLSN rejects an append at or below the last journaled LSN.
	ErrStaleLSN = errors.New("stale lsn")

	// ErrNotLeader rejects an append on a node that does not own the log.
	ErrNotLeader = errors.New("ledger leader required")

	ErrClosed = errors.New("ledger closed")
)

// Iterator is a forward-only cursor over ledger records. The capability set
// is deliberately small so file, in-memory and replicated backends can all
// provide it.
type Iterator interface {
	// Next advances to the following record, false at the end or on error.
	Next() bool

	// Record returns the advisory at the current position.
	Record() (*ctrlmsg.ClusterMessage, error)

	// LSN returns the sequence of the current record.
	LSN() ctrlmsg.LeaderMessageSequence

	// Err reports the error that stopped iteration, if any.
	Err() error

	Close() error
}

// Ledger is the durable log consumed by the cluster coordinator.
type Ledger interface {
	// Append journals msg at lsn. LSNs must be strictly increasing; an
	// append that cannot be persisted is fatal for the current leader's
	// tenure.
	Append(ctx context.Context, msg *ctrlmsg.ClusterMessage, lsn ctrlmsg.LeaderMessageSequence) error

	// Iterate opens a cursor positioned before the first record.
	Iterate(ctx context.Context) (Iterator, error)

	// Sync flushes journaled records to durable storage.
	Sync(ctx context.Context) error

	Close() error
}

// LedgerRecord is the envelope persisted per append.
type LedgerRecord struct {
	LeaderTerm     uint64 `protobuf:"varint,1,opt,name=leader_term,json=leaderTerm,proto3"`
	SequenceNumber uint64 `protobuf:"varint,2,opt,name=sequence_number,json=sequenceNumber,proto3"`
	Payload        []byte `protobuf:"bytes,3,opt,name=payload,proto3"`
}

func (*LedgerRecord) Reset()         {}
func (*LedgerRecord) String() string { return "LedgerRecord" }
func (*LedgerRecord) ProtoMessage()  {}

var (
	appendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmq_csl_appends_total",
		Help: "Advisories appended to the cluster state ledger.",
	}, []string{"backend"})

	appendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmq_csl_append_failures_total",
		Help: "Cluster state ledger appends that failed.",
	}, []string{"backend"})
)

// LatestLSN scans the entire ledger and returns the last journaled LSN.
// This walks every record; callers should treat it as expensive and cache
// the result.
func LatestLSN(ctx context.Context, l Ledger) (ctrlmsg.LeaderMessageSequence, bool, error) {
	it, err := l.Iterate(ctx)
	if err != nil {
		return ctrlmsg.LeaderMessageSequence{}, false, err
	}
	defer it.Close()

	var last ctrlmsg.LeaderMessageSequence
	found := false
	for it.Next() {
		last = it.LSN()
		found = true
	}
	if err := it.Err(); err != nil {
		return ctrlmsg.LeaderMessageSequence{}, false, err
	}
	return last, found, nil
}

// checkNextLSN enforces strict LSN ordering against the last journaled
// sequence.
func checkNextLSN(last ctrlmsg.LeaderMessageSequence, haveAny bool, next ctrlmsg.LeaderMessageSequence) error {
	if haveAny && !last.Less(next) {
		return ErrStaleLSN
	}
	return nil
}
