package coordinator

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/kaikulimu/blazingmq/internal/cluster"
	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
	"github.com/kaikulimu/blazingmq/internal/ledger"
	"github.com/kaikulimu/blazingmq/internal/storagekey"
)

func threeNodeCluster(selfID cluster.NodeID) *cluster.ClusterData {
	data := cluster.NewClusterData(selfID)
	for id := cluster.NodeID(1); id <= 3; id++ {
		data.AddNode(&cluster.Node{ID: id, Name: "node", Available: true})
	}
	data.SetLeader(selfID, 1)
	return data
}

func TestAssignPartitionsLeastAssigned(t *testing.T) {
	// Four orphan partitions, three available nodes: round-robin by load,
	// ties broken by ascending node id.
	state := cluster.NewState(4, zaptest.NewLogger(t))
	data := threeNodeCluster(1)

	got, err := AssignPartitions(state, data, LeastAssigned, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		partition int32
		node      cluster.NodeID
	}{{0, 1}, {1, 2}, {2, 3}, {3, 1}}
	if len(got) != len(want) {
		t.Fatalf("assignments = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].PartitionID != w.partition || got[i].PrimaryNodeID != w.node {
			t.Fatalf("assignment %d = P%d->N%d, want P%d->N%d",
				i, got[i].PartitionID, got[i].PrimaryNodeID, w.partition, w.node)
		}
		if got[i].PrimaryLeaseID != 1 {
			t.Fatalf("assignment %d lease = %d, want 1", i, got[i].PrimaryLeaseID)
		}
	}
}

func TestAssignPartitionsNeverTouchesHealthy(t *testing.T) {
	state := cluster.NewState(3, zaptest.NewLogger(t))
	data := threeNodeCluster(1)

	// P0 healthy on N2 (lease 4); P1 on an unavailable node; P2 orphan.
	if err := state.SetPartitionPrimary(0, 2, 4, ctrlmsg.PrimaryStatusActive); err != nil {
		t.Fatal(err)
	}
	data.AddNode(&cluster.Node{ID: 9, Available: false})
	if err := state.SetPartitionPrimary(1, 9, 7, ctrlmsg.PrimaryStatusActive); err != nil {
		t.Fatal(err)
	}

	got, err := AssignPartitions(state, data, LeastAssigned, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("assignments = %d, want 2 (healthy partition untouched)", len(got))
	}
	for _, a := range got {
		if a.PartitionID == 0 {
			t.Fatal("healthy partition reassigned")
		}
	}
	// Lease increments by one over the prior value for each reassignment.
	for _, a := range got {
		p, _ := state.Partition(a.PartitionID)
		if a.PrimaryLeaseID != p.PrimaryLeaseID+1 {
			t.Fatalf("partition %d lease = %d, want %d", a.PartitionID, a.PrimaryLeaseID, p.PrimaryLeaseID+1)
		}
	}
	// N1 is the least loaded available node; the orphaned partitions land
	// there before N3.
	if got[0].PrimaryNodeID != 1 || got[1].PrimaryNodeID != 3 {
		t.Fatalf("assignments = N%d, N%d", got[0].PrimaryNodeID, got[1].PrimaryNodeID)
	}
}

func TestAssignPartitionsLeaderIsSenior(t *testing.T) {
	state := cluster.NewState(2, zaptest.NewLogger(t))
	data := threeNodeCluster(2)

	got, err := AssignPartitions(state, data, LeaderIsSenior, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range got {
		if a.PrimaryNodeID != 2 {
			t.Fatalf("partition %d -> N%d, want the leader", a.PartitionID, a.PrimaryNodeID)
		}
	}
}

func TestAssignPartitionsNoEligibleNode(t *testing.T) {
	state := cluster.NewState(2, zaptest.NewLogger(t))
	data := cluster.NewClusterData(1)
	data.AddNode(&cluster.Node{ID: 1, Available: false})
	if _, err := AssignPartitions(state, data, LeastAssigned, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected no eligible node error")
	}
}

func TestGetNextPartitionIDTieBreak(t *testing.T) {
	state := cluster.NewState(3, zaptest.NewLogger(t))
	if got := GetNextPartitionID(state); got != 0 {
		t.Fatalf("empty state partition = %d, want 0", got)
	}
	state.RegisterQueueInfo(&ctrlmsg.QueueInfo{URI: "bmq://d/a", QueueKey: []byte{1}, PartitionID: 0}, false)
	if got := GetNextPartitionID(state); got != 1 {
		t.Fatalf("partition = %d, want 1", got)
	}
	state.RegisterQueueInfo(&ctrlmsg.QueueInfo{URI: "bmq://d/b", QueueKey: []byte{2}, PartitionID: 1}, false)
	state.RegisterQueueInfo(&ctrlmsg.QueueInfo{URI: "bmq://d/c", QueueKey: []byte{3}, PartitionID: 2}, false)
	if got := GetNextPartitionID(state); got != 0 {
		t.Fatalf("partition = %d, want lowest id on tie", got)
	}
}

func TestAssignQueueIdempotent(t *testing.T) {
	ctx := context.Background()
	state := cluster.NewState(4, zaptest.NewLogger(t))
	data := threeNodeCluster(1)
	csl := ledger.NewMemory()
	defer csl.Close()

	ok, code := AssignQueue(ctx, state, data, csl, "bmq://d/q", []string{"app-a"}, zaptest.NewLogger(t))
	if !ok || code != cluster.ErrSuccess {
		t.Fatalf("assign = %t/%s", ok, code)
	}
	q, found := state.Queue("bmq://d/q")
	if !found || q.State != cluster.QueueStateAssigned {
		t.Fatalf("queue = %+v", q)
	}
	firstKey, firstPartition := q.Key, q.PartitionID
	if csl.Len() != 1 {
		t.Fatalf("ledger entries = %d", csl.Len())
	}

	// Re-assigning the same queue succeeds without another ledger entry and
	// with the same key and partition.
	ok, code = AssignQueue(ctx, state, data, csl, "bmq://d/q", []string{"app-a"}, zaptest.NewLogger(t))
	if !ok || code != cluster.ErrSuccess {
		t.Fatalf("reassign = %t/%s", ok, code)
	}
	q, _ = state.Queue("bmq://d/q")
	if q.Key != firstKey || q.PartitionID != firstPartition || q.State != cluster.QueueStateAssigned {
		t.Fatalf("queue changed on reassignment: %+v", q)
	}
	if csl.Len() != 1 {
		t.Fatalf("ledger entries = %d, want still 1", csl.Len())
	}
}

func TestAssignQueueRejectsMalformedURI(t *testing.T) {
	state := cluster.NewState(1, zaptest.NewLogger(t))
	data := threeNodeCluster(1)
	csl := ledger.NewMemory()
	defer csl.Close()

	ok, code := AssignQueue(context.Background(), state, data, csl, "not-a-uri", nil, zaptest.NewLogger(t))
	if ok || code != cluster.ErrMalformedURI {
		t.Fatalf("assign = %t/%s, want permanent rejection", ok, code)
	}
	if csl.Len() != 0 {
		t.Fatal("rejected assignment must not journal")
	}
}

func TestAssignQueueKeyCollisionRetries(t *testing.T) {
	state := cluster.NewState(1, zaptest.NewLogger(t))
	data := threeNodeCluster(1)
	csl := ledger.NewMemory()
	defer csl.Close()

	// Occupy the natural key of the queue about to be assigned.
	squatter := &ctrlmsg.QueueInfo{
		URI:         "bmq://d/squatter",
		QueueKey:    storagekey.ForName("bmq://d/q").Bytes(),
		PartitionID: 0,
	}
	state.RegisterQueueInfo(squatter, false)

	ok, code := AssignQueue(context.Background(), state, data, csl, "bmq://d/q", nil, zaptest.NewLogger(t))
	if !ok || code != cluster.ErrSuccess {
		t.Fatalf("assign = %t/%s", ok, code)
	}
	q, _ := state.Queue("bmq://d/q")
	if q.Key == storagekey.ForName("bmq://d/q") {
		t.Fatal("collision not resolved")
	}
	if q.Key.IsNull() {
		t.Fatal("salted key is null")
	}
}

func TestProcessQueueAssignmentRequestNotLeader(t *testing.T) {
	state := cluster.NewState(1, zaptest.NewLogger(t))
	data := threeNodeCluster(1)
	data.SetLeader(2, 1)
	csl := ledger.NewMemory()
	defer csl.Close()

	code := ProcessQueueAssignmentRequest(context.Background(), state, data, csl, "bmq://d/q", nil, 3, zaptest.NewLogger(t))
	if code != cluster.ErrNotLeader {
		t.Fatalf("code = %s", code)
	}
}

func TestUpdateAppIDs(t *testing.T) {
	ctx := context.Background()
	state := cluster.NewState(2, zaptest.NewLogger(t))
	data := threeNodeCluster(1)
	csl := ledger.NewMemory()
	defer csl.Close()

	for _, uri := range []string{"bmq://d/q1", "bmq://d/q2"} {
		if ok, code := AssignQueue(ctx, state, data, csl, uri, []string{"app-a"}, zaptest.NewLogger(t)); !ok || code != cluster.ErrSuccess {
			t.Fatalf("assign %s = %t/%s", uri, ok, code)
		}
	}
	entries := csl.Len()

	// Domain-wide update emits one advisory per affected queue.
	code := UpdateAppIDs(ctx, state, data, csl, []string{"app-b"}, nil, "d", "", zaptest.NewLogger(t))
	if code != cluster.ErrSuccess {
		t.Fatalf("update = %s", code)
	}
	if csl.Len() != entries+2 {
		t.Fatalf("ledger entries = %d, want %d", csl.Len(), entries+2)
	}

	// Conflicting add is rejected before journaling anything.
	entries = csl.Len()
	if code := UpdateAppIDs(ctx, state, data, csl, []string{"app-b"}, nil, "d", "bmq://d/q1", zaptest.NewLogger(t)); code != cluster.ErrAppIDConflict {
		t.Fatalf("conflict update = %s", code)
	}
	if csl.Len() != entries {
		t.Fatal("rejected update must not journal")
	}

	if code := UpdateAppIDs(ctx, state, data, csl, nil, []string{"app-a"}, "d", "bmq://d/q1", zaptest.NewLogger(t)); code != cluster.ErrSuccess {
		t.Fatalf("removal = %s", code)
	}
	if code := UpdateAppIDs(ctx, state, data, csl, nil, nil, "d", "bmq://nope/q", zaptest.NewLogger(t)); code != cluster.ErrUnknownQueue {
		t.Fatalf("unknown queue = %s", code)
	}
	if code := UpdateAppIDs(ctx, state, data, csl, nil, nil, "empty-domain", "", zaptest.NewLogger(t)); code != cluster.ErrUnknownQueue {
		t.Fatalf("empty domain = %s", code)
	}

	data.SetLeader(3, 2)
	if code := UpdateAppIDs(ctx, state, data, csl, nil, nil, "d", "", zaptest.NewLogger(t)); code != cluster.ErrNotLeader {
		t.Fatalf("non-leader update = %s", code)
	}
}

type fakeRelay struct {
	unicasts   map[cluster.NodeID][][]byte
	broadcasts [][]byte
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{unicasts: make(map[cluster.NodeID][][]byte)}
}

func (r *fakeRelay) Unicast(node cluster.NodeID, payload []byte) error {
	r.unicasts[node] = append(r.unicasts[node], payload)
	return nil
}

func (r *fakeRelay) Broadcast(payload []byte) error {
	r.broadcasts = append(r.broadcasts, payload)
	return nil
}

func TestSendClusterState(t *testing.T) {
	ctx := context.Background()
	state := cluster.NewState(2, zaptest.NewLogger(t))
	data := threeNodeCluster(1)
	csl := ledger.NewMemory()
	defer csl.Close()
	relay := newFakeRelay()

	if ok, code := AssignQueue(ctx, state, data, csl, "bmq://d/q", []string{"app-a"}, zaptest.NewLogger(t)); !ok || code != cluster.ErrSuccess {
		t.Fatalf("assign = %t/%s", ok, code)
	}

	if err := SendClusterState(ctx, state, data, csl, relay, true, true, cluster.NullNodeID, nil, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}
	if len(relay.broadcasts) != 1 {
		t.Fatalf("broadcasts = %d", len(relay.broadcasts))
	}
	msg, err := ctrlmsg.UnmarshalClusterMessage(relay.broadcasts[0])
	if err != nil {
		t.Fatal(err)
	}
	adv := msg.LeaderAdvisory
	if adv == nil || len(adv.Partitions) != 2 || len(adv.Queues) != 1 {
		t.Fatalf("advisory = %+v", msg)
	}
	if adv.Queues[0].URI != "bmq://d/q" {
		t.Fatalf("queue = %+v", adv.Queues[0])
	}

	// Unicast to a single follower.
	if err := SendClusterState(ctx, state, data, csl, relay, false, true, 2, nil, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}
	if len(relay.unicasts[2]) != 1 {
		t.Fatalf("unicasts to N2 = %d", len(relay.unicasts[2]))
	}

	// At least one of the two sections is required.
	if err := SendClusterState(ctx, state, data, csl, relay, false, false, cluster.NullNodeID, nil, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected error with nothing to send")
	}
	data.SetLeader(2, 2)
	if err := SendClusterState(ctx, state, data, csl, relay, true, true, cluster.NullNodeID, nil, zaptest.NewLogger(t)); err == nil {
		t.Fatal("only the leader may send cluster state")
	}
}

// Replaying the ledger from the beginning into an empty state reproduces
// the leader's live state.
func TestLedgerReplayMatchesLiveState(t *testing.T) {
	ctx := context.Background()
	state := cluster.NewState(4, zaptest.NewLogger(t))
	data := threeNodeCluster(1)
	csl := ledger.NewMemory()
	defer csl.Close()

	partitions, err := AssignPartitions(state, data, LeastAssigned, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := JournalPartitionAssignments(ctx, state, data, csl, partitions, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}
	for _, uri := range []string{"bmq://d/q1", "bmq://d/q2", "bmq://e/q3"} {
		if ok, code := AssignQueue(ctx, state, data, csl, uri, []string{"app-a", "app-b"}, zaptest.NewLogger(t)); !ok || code != cluster.ErrSuccess {
			t.Fatalf("assign %s = %t/%s", uri, ok, code)
		}
	}
	if code := UpdateAppIDs(ctx, state, data, csl, []string{"app-c"}, nil, "d", "", zaptest.NewLogger(t)); code != cluster.ErrSuccess {
		t.Fatalf("update = %s", code)
	}

	it, err := csl.Iterate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	replayed := cluster.NewState(4, zaptest.NewLogger(t))
	if err := Load(replayed, it, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}

	if n, desc := replayed.ValidateState(state); n != 0 {
		t.Fatalf("replayed state diverges (%d):\n%s", n, desc)
	}
	if err := ValidateClusterStateLedger(ctx, csl, state, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}

	last, found, err := LatestLedgerLSN(ctx, csl)
	if err != nil || !found {
		t.Fatalf("latest lsn found=%t err=%v", found, err)
	}
	if last.LeaderTerm != data.Term() {
		t.Fatalf("latest term = %d, want %d", last.LeaderTerm, data.Term())
	}
}

type fakeStorageManager struct {
	calls []string
}

func (f *fakeStorageManager) SetPrimaryForPartition(partitionID int32, primary cluster.NodeID, leaseID uint64, status ctrlmsg.PrimaryStatus) {
	f.calls = append(f.calls, status.String())
}

func TestOnPartitionPrimaryAssignment(t *testing.T) {
	state := cluster.NewState(2, zaptest.NewLogger(t))
	storage := &fakeStorageManager{}

	// NO_PRIMARY -> ACTIVE -> PASSIVE -> NO_PRIMARY.
	if err := OnPartitionPrimaryAssignment(state, storage, 0, 1, 1, ctrlmsg.PrimaryStatusActive, cluster.NullNodeID, 0, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}
	if err := OnPartitionPrimaryAssignment(state, storage, 0, 1, 1, ctrlmsg.PrimaryStatusPassive, 1, 1, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}
	if err := OnPartitionPrimaryAssignment(state, storage, 0, cluster.NullNodeID, 1, ctrlmsg.PrimaryStatusNoPrimary, 1, 1, zaptest.NewLogger(t)); err != nil {
		t.Fatal(err)
	}
	want := []string{"ACTIVE_PRIMARY", "PASSIVE_PRIMARY", "NO_PRIMARY"}
	if len(storage.calls) != len(want) {
		t.Fatalf("storage calls = %v", storage.calls)
	}
	for i := range want {
		if storage.calls[i] != want[i] {
			t.Fatalf("call %d = %s, want %s", i, storage.calls[i], want[i])
		}
	}

	// A partition never goes straight from NO_PRIMARY to PASSIVE.
	if err := OnPartitionPrimaryAssignment(state, storage, 1, 2, 1, ctrlmsg.PrimaryStatusPassive, cluster.NullNodeID, 0, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected illegal transition error")
	}
	// Lease regression is rejected.
	if err := OnPartitionPrimaryAssignment(state, storage, 0, 2, 0, ctrlmsg.PrimaryStatusActive, cluster.NullNodeID, 1, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected lease regression error")
	}
	// Identity change on the same lease is rejected.
	if err := OnPartitionPrimaryAssignment(state, storage, 0, 2, 3, ctrlmsg.PrimaryStatusActive, 1, 3, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected lease error on primary change")
	}
}
