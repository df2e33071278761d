package ledger

import (
	"context"
	"sync"

	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
)

type memoryRecord struct {
	lsn     ctrlmsg.LeaderMessageSequence
	payload []byte
}

// Memory is the in-memory ledger backend, used by tests and as the local
// mirror of the replicated backend.
type Memory struct {
	mu      sync.Mutex
	records []memoryRecord
	closed  bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, msg *ctrlmsg.ClusterMessage, lsn ctrlmsg.LeaderMessageSequence) error {
	payload, err := ctrlmsg.Marshal(msg)
	if err != nil {
		appendFailures.WithLabelValues("memory").Inc()
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if len(m.records) > 0 {
		if err := checkNextLSN(m.records[len(m.records)-1].lsn, true, lsn); err != nil {
			appendFailures.WithLabelValues("memory").Inc()
			return err
		}
	}
	m.records = append(m.records, memoryRecord{lsn: lsn, payload: payload})
	appendsTotal.WithLabelValues("memory").Inc()
	return nil
}

func (m *Memory) Iterate(context.Context) (Iterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	snapshot := append([]memoryRecord(nil), m.records...)
	return &memoryIterator{records: snapshot, idx: -1}, nil
}

func (m *Memory) Sync(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len reports the number of journaled records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memoryIterator struct {
	records []memoryRecord
	idx     int
}

func (it *memoryIterator) Next() bool {
	if it.idx+1 >= len(it.records) {
		return false
	}
	it.idx++
	return true
}

func (it *memoryIterator) Record() (*ctrlmsg.ClusterMessage, error) {
	return ctrlmsg.UnmarshalClusterMessage(it.records[it.idx].payload)
}

func (it *memoryIterator) LSN() ctrlmsg.LeaderMessageSequence { return it.records[it.idx].lsn }

func (it *memoryIterator) Err() error { return nil }

func (it *memoryIterator) Close() error { return nil }
