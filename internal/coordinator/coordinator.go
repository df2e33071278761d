// Package coordinator implements the leader-side decision making of the
// cluster control plane: partition-to-primary assignment, queue assignment,
// app-id updates and state dissemination. Every operation here executes on
// the cluster dispatcher goroutine; nothing in this package takes a lock.
package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kaikulimu/blazingmq/internal/cluster"
	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
	"github.com/kaikulimu/blazingmq/internal/ledger"
	"github.com/kaikulimu/blazingmq/internal/storagekey"
)

// AssignmentAlgorithm selects how orphan partitions pick a new primary.
type AssignmentAlgorithm int

const (
	// LeaderIsSenior prefers the leader itself whenever it is eligible.
	LeaderIsSenior AssignmentAlgorithm = iota

	// LeastAssigned picks the available node with the fewest primaried
	// partitions, breaking ties by ascending node id.
	LeastAssigned
)

// StorageManager is notified of every partition primary change so it can
// open or close the partition's journals.
type StorageManager interface {
	SetPrimaryForPartition(partitionID int32, primary cluster.NodeID, leaseID uint64, status ctrlmsg.PrimaryStatus)
}

// Relay sends serialized cluster-state events to peer nodes. Delivery is
// fire-and-forget; retries belong to the transport.
type Relay interface {
	Unicast(node cluster.NodeID, payload []byte) error
	Broadcast(payload []byte) error
}

// queueKeySalt feeds collision retries during key generation.
var queueKeySalt atomic.Uint64

// AssignPartitions selects a new primary for every partition that is orphan
// or whose primary is no longer available, and returns the NEW assignments
// only. A partition with a healthy primary is never touched. Each new
// assignment carries the prior lease id incremented by one.
func AssignPartitions(state *cluster.State, data *cluster.ClusterData, algo AssignmentAlgorithm, log *zap.Logger) ([]*ctrlmsg.PartitionPrimaryInfo, error) {
	if log == nil {
		log = zap.NewNop()
	}
	available := data.AvailableNodes()
	if len(available) == 0 {
		return nil, fmt.Errorf("no eligible node for partition assignment")
	}
	isAvailable := make(map[cluster.NodeID]bool, len(available))
	for _, n := range available {
		isAvailable[n.ID] = true
	}

	// Current load per available node, counting only healthy assignments.
	counts := make(map[cluster.NodeID]int, len(available))
	for _, p := range state.Partitions() {
		if p.HasPrimary() && isAvailable[p.PrimaryNodeID] {
			counts[p.PrimaryNodeID]++
		}
	}

	var out []*ctrlmsg.PartitionPrimaryInfo
	for _, p := range state.Partitions() {
		if p.HasPrimary() && isAvailable[p.PrimaryNodeID] {
			continue
		}

		var chosen cluster.NodeID
		switch {
		case algo == LeaderIsSenior && isAvailable[data.LeaderID]:
			chosen = data.LeaderID
		default:
			chosen = available[0].ID
			for _, n := range available[1:] {
				if counts[n.ID] < counts[chosen] {
					chosen = n.ID
				}
			}
		}
		counts[chosen]++

		info := &ctrlmsg.PartitionPrimaryInfo{
			PartitionID:    p.ID,
			PrimaryNodeID:  chosen,
			PrimaryLeaseID: p.PrimaryLeaseID + 1,
		}
		out = append(out, info)
		log.Info("partition reassigned",
			zap.Int32("partitionId", p.ID),
			zap.Int32("primaryNodeId", chosen),
			zap.Uint64("leaseId", info.PrimaryLeaseID))
	}
	return out, nil
}

// JournalPartitionAssignments wraps the output of AssignPartitions into a
// PartitionPrimaryAdvisory, journals it and applies it to the leader's own
// state. Followers pick it up from the ledger stream.
func JournalPartitionAssignments(ctx context.Context, state *cluster.State, data *cluster.ClusterData, csl ledger.Ledger, partitions []*ctrlmsg.PartitionPrimaryInfo, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if len(partitions) == 0 {
		return nil
	}
	lsn := data.NextLSN()
	msg := &ctrlmsg.ClusterMessage{PartitionPrimary: &ctrlmsg.PartitionPrimaryAdvisory{
		Sequence:   &lsn,
		Partitions: partitions,
	}}
	if err := csl.Append(ctx, msg, lsn); err != nil {
		log.Error("partition primary advisory append failed",
			zap.String("lsn", lsn.Format()), zap.Error(err))
		return err
	}
	return state.Apply(msg)
}

// GetNextPartitionID returns the partition to place a new queue on: the one
// holding the fewest assigned queues, ties broken by ascending partition id.
func GetNextPartitionID(state *cluster.State) int32 {
	best := int32(0)
	bestCount := state.NumAssignedQueues(0)
	for id := int32(1); id < int32(state.PartitionCount()); id++ {
		if n := state.NumAssignedQueues(id); n < bestCount {
			best, bestCount = id, n
		}
	}
	return best
}

// generateQueueKey derives a queue key from the URI, retrying with a salted
// monotonic counter until it is unique within the chosen partition.
func generateQueueKey(state *cluster.State, uri string, partitionID int32) storagekey.Key {
	key := storagekey.ForName(uri)
	for state.QueueKeyInUse(partitionID, key, uri) {
		key = storagekey.ForNameSalted(uri, queueKeySalt.Add(1))
	}
	return key
}

// PopulateAppInfos derives an app key for each app id, salting away any
// collision within the queue.
func PopulateAppInfos(appIDs []string) []*ctrlmsg.AppIDInfo {
	out := make([]*ctrlmsg.AppIDInfo, 0, len(appIDs))
	used := make(map[storagekey.Key]bool, len(appIDs))
	for _, appID := range appIDs {
		key := storagekey.ForName(appID)
		for used[key] {
			key = storagekey.ForNameSalted(appID, queueKeySalt.Add(1))
		}
		used[key] = true
		out = append(out, &ctrlmsg.AppIDInfo{AppID: appID, AppKey: key.Bytes()})
	}
	return out
}

// AssignQueue performs the actual assignment of uri on the leader: generate
// a queue key, pick a partition, derive app keys, journal the advisory and
// move the queue through ASSIGNING into ASSIGNED. Returns false only on
// permanent rejection; true means success or a retryable failure, with the
// error code describing the outcome.
func AssignQueue(ctx context.Context, state *cluster.State, data *cluster.ClusterData, csl ledger.Ledger, uri string, appIDs []string, log *zap.Logger) (bool, cluster.ErrorCode) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := cluster.ParseURI(uri); err != nil {
		log.Warn("queue assignment rejected", zap.String("uri", uri), zap.Error(err))
		return false, cluster.ErrMalformedURI
	}

	// Idempotent: an already assigned (or in-flight) queue is a success and
	// journals nothing.
	if q, ok := state.Queue(uri); ok {
		switch q.State {
		case cluster.QueueStateAssigned, cluster.QueueStateAssigning:
			return true, cluster.ErrSuccess
		}
	}

	partitionID := GetNextPartitionID(state)
	key := generateQueueKey(state, uri, partitionID)
	apps := PopulateAppInfos(appIDs)

	lsn := data.NextLSN()
	info := &ctrlmsg.QueueInfo{
		URI:         uri,
		QueueKey:    key.Bytes(),
		PartitionID: partitionID,
		AppIDs:      apps,
	}
	msg := &ctrlmsg.ClusterMessage{QueueAssignment: &ctrlmsg.QueueAssignmentAdvisory{
		Sequence: &lsn,
		Queues:   []*ctrlmsg.QueueInfo{info},
	}}

	if err := csl.Append(ctx, msg, lsn); err != nil {
		// Losing the ledger ends this leader's tenure; the request itself
		// may be retried against the next leader.
		log.Error("queue assignment advisory append failed",
			zap.String("uri", uri), zap.String("lsn", lsn.Format()), zap.Error(err))
		return true, cluster.ErrLedgerFailure
	}

	appInfos := make([]cluster.AppInfo, 0, len(apps))
	for _, a := range apps {
		appInfos = append(appInfos, cluster.AppInfo{AppID: a.AppID, AppKey: storagekey.FromBytes(a.AppKey)})
	}
	if err := state.MarkAssigning(uri, key, partitionID, appInfos); err != nil {
		log.Error("queue assignment state update failed", zap.String("uri", uri), zap.Error(err))
		return true, cluster.ErrUnknown
	}
	// The leader applies its own advisory once journaled, settling the
	// queue into ASSIGNED; followers do the same from the ledger stream.
	if err := state.Apply(msg); err != nil {
		log.Error("queue assignment apply failed", zap.String("uri", uri), zap.Error(err))
		return true, cluster.ErrUnknown
	}

	log.Info("queue assigned",
		zap.String("uri", uri),
		zap.Int32("partitionId", partitionID),
		zap.String("queueKey", key.Hex()),
		zap.String("lsn", lsn.Format()))
	return true, cluster.ErrSuccess
}

// ProcessQueueAssignmentRequest handles a queue assignment request from a
// peer or client. Only the leader assigns; on any other node it returns
// ErrNotLeader without journaling.
func ProcessQueueAssignmentRequest(ctx context.Context, state *cluster.State, data *cluster.ClusterData, csl ledger.Ledger, uri string, appIDs []string, requester cluster.NodeID, log *zap.Logger) cluster.ErrorCode {
	if log == nil {
		log = zap.NewNop()
	}
	if !data.IsLeader() {
		log.Warn("queue assignment request on non-leader",
			zap.String("uri", uri), zap.Int32("requester", requester))
		return cluster.ErrNotLeader
	}
	ok, code := AssignQueue(ctx, state, data, csl, uri, appIDs, log)
	if !ok {
		return code
	}
	if code == cluster.ErrLedgerFailure {
		return code
	}
	return cluster.ErrSuccess
}

// UpdateAppIDs registers added and unregisters removed app ids for one queue
// (uri set) or for every queue of the domain (uri empty), journaling one
// advisory per affected queue. Rejected wholesale if any added app id is
// already live on a target queue.
func UpdateAppIDs(ctx context.Context, state *cluster.State, data *cluster.ClusterData, csl ledger.Ledger, added, removed []string, domain, uri string, log *zap.Logger) cluster.ErrorCode {
	if log == nil {
		log = zap.NewNop()
	}
	if !data.IsLeader() {
		return cluster.ErrNotLeader
	}

	var uris []string
	if uri != "" {
		if _, ok := state.Queue(uri); !ok {
			return cluster.ErrUnknownQueue
		}
		uris = []string{uri}
	} else {
		uris = state.DomainQueues(domain)
		if len(uris) == 0 {
			return cluster.ErrUnknownQueue
		}
	}

	// Validate the whole batch before journaling anything.
	for _, target := range uris {
		q, _ := state.Queue(target)
		for _, appID := range added {
			for _, live := range q.Apps {
				if live.AppID == appID {
					log.Warn("app id conflicts with live app",
						zap.String("uri", target), zap.String("appId", appID))
					return cluster.ErrAppIDConflict
				}
			}
		}
	}

	removedInfos := make([]*ctrlmsg.AppIDInfo, 0, len(removed))
	for _, appID := range removed {
		removedInfos = append(removedInfos, &ctrlmsg.AppIDInfo{AppID: appID})
	}

	for _, target := range uris {
		lsn := data.NextLSN()
		msg := &ctrlmsg.ClusterMessage{QueueUpdate: &ctrlmsg.QueueUpdateAdvisory{
			Sequence:    &lsn,
			URI:         target,
			Domain:      domain,
			AddedApps:   PopulateAppInfos(added),
			RemovedApps: removedInfos,
		}}
		if err := csl.Append(ctx, msg, lsn); err != nil {
			log.Error("queue update advisory append failed",
				zap.String("uri", target), zap.Error(err))
			return cluster.ErrLedgerFailure
		}
		if err := state.Apply(msg); err != nil {
			log.Error("queue update apply failed", zap.String("uri", target), zap.Error(err))
			return cluster.ErrUnknown
		}
	}
	return cluster.ErrSuccess
}

// SendClusterState disseminates the leader's view to followers: the
// partition-primary mapping, the queue assignments, or both. With a null
// target the snapshot is broadcast to all followers. At least one of the
// two sections must be requested, and only the leader may send.
func SendClusterState(ctx context.Context, state *cluster.State, data *cluster.ClusterData, csl ledger.Ledger, relay Relay, sendPartitions, sendQueues bool, target cluster.NodeID, partitions []*ctrlmsg.PartitionPrimaryInfo, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if !data.IsLeader() {
		return fmt.Errorf("send cluster state: not the leader")
	}
	if !sendPartitions && !sendQueues {
		return fmt.Errorf("send cluster state: nothing to send")
	}

	adv := &ctrlmsg.LeaderAdvisory{}
	if sendPartitions {
		if partitions == nil {
			partitions = LoadPartitionsInfo(state)
		}
		adv.Partitions = partitions
	}
	if sendQueues {
		adv.Queues = LoadQueuesInfo(state)
	}
	lsn := data.NextLSN()
	adv.Sequence = &lsn
	msg := &ctrlmsg.ClusterMessage{LeaderAdvisory: adv}

	if err := csl.Append(ctx, msg, lsn); err != nil {
		return fmt.Errorf("leader advisory append: %w", err)
	}
	if err := state.Apply(msg); err != nil {
		return fmt.Errorf("leader advisory apply: %w", err)
	}

	payload, err := ctrlmsg.Marshal(msg)
	if err != nil {
		return err
	}
	if target != cluster.NullNodeID {
		return relay.Unicast(target, payload)
	}
	return relay.Broadcast(payload)
}

// LoadPartitionsInfo snapshots the partition-primary mapping.
func LoadPartitionsInfo(state *cluster.State) []*ctrlmsg.PartitionPrimaryInfo {
	out := make([]*ctrlmsg.PartitionPrimaryInfo, 0, state.PartitionCount())
	for _, p := range state.Partitions() {
		out = append(out, &ctrlmsg.PartitionPrimaryInfo{
			PartitionID:    p.ID,
			PrimaryNodeID:  p.PrimaryNodeID,
			PrimaryLeaseID: p.PrimaryLeaseID,
		})
	}
	return out
}

// LoadQueuesInfo snapshots the queue assignments, ordered by URI.
func LoadQueuesInfo(state *cluster.State) []*ctrlmsg.QueueInfo {
	queues := state.Queues()
	out := make([]*ctrlmsg.QueueInfo, 0, len(queues))
	for _, q := range queues {
		info := &ctrlmsg.QueueInfo{
			URI:         q.URI,
			QueueKey:    q.Key.Bytes(),
			PartitionID: q.PartitionID,
		}
		for _, a := range q.Apps {
			info.AppIDs = append(info.AppIDs, &ctrlmsg.AppIDInfo{AppID: a.AppID, AppKey: a.AppKey.Bytes()})
		}
		out = append(out, info)
	}
	return out
}

// LoadPeerNodes returns every node except self.
func LoadPeerNodes(data *cluster.ClusterData) []*cluster.Node {
	nodes := data.Nodes()
	out := make([]*cluster.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.ID != data.SelfID {
			out = append(out, n)
		}
	}
	return out
}

// OnPartitionPrimaryAssignment records a primary (or status-only) change for
// a partition and notifies the storage manager. A null primary means the
// partition is orphaned. Lease ids never move backwards and must grow when
// the primary identity changes.
func OnPartitionPrimaryAssignment(state *cluster.State, storage StorageManager, partitionID int32, primary cluster.NodeID, leaseID uint64, status ctrlmsg.PrimaryStatus, oldPrimary cluster.NodeID, oldLeaseID uint64, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if leaseID < oldLeaseID {
		return fmt.Errorf("partition %d: lease %d regresses below %d", partitionID, leaseID, oldLeaseID)
	}
	if primary != oldPrimary && primary != cluster.NullNodeID && oldPrimary != cluster.NullNodeID && leaseID == oldLeaseID {
		return fmt.Errorf("partition %d: primary change %d -> %d requires a new lease", partitionID, oldPrimary, primary)
	}

	current, ok := state.Partition(partitionID)
	if !ok {
		return fmt.Errorf("partition %d out of range", partitionID)
	}
	if err := checkPrimaryStatusTransition(current.Status, status, primary); err != nil {
		return fmt.Errorf("partition %d: %w", partitionID, err)
	}

	if err := state.SetPartitionPrimary(partitionID, primary, leaseID, status); err != nil {
		return err
	}
	log.Info("partition primary assignment",
		zap.Int32("partitionId", partitionID),
		zap.Int32("primaryNodeId", primary),
		zap.Uint64("leaseId", leaseID),
		zap.Stringer("status", status),
		zap.Int32("oldPrimaryNodeId", oldPrimary),
		zap.Uint64("oldLeaseId", oldLeaseID))

	if storage != nil {
		storage.SetPrimaryForPartition(partitionID, primary, leaseID, status)
	}
	return nil
}

// checkPrimaryStatusTransition checks a primary status change against the
// per-partition cycle NO_PRIMARY -> ACTIVE_PRIMARY -> PASSIVE_PRIMARY ->
// NO_PRIMARY. The only transition it rejects is NO_PRIMARY straight to
// PASSIVE. Dropping to NO_PRIMARY is allowed from any status, and so is
// entering ACTIVE_PRIMARY, including from PASSIVE_PRIMARY.
func checkPrimaryStatusTransition(from, to ctrlmsg.PrimaryStatus, primary cluster.NodeID) error {
	if primary == cluster.NullNodeID || to == ctrlmsg.PrimaryStatusNoPrimary {
		return nil
	}
	switch to {
	case ctrlmsg.PrimaryStatusActive:
		return nil
	case ctrlmsg.PrimaryStatusPassive:
		if from == ctrlmsg.PrimaryStatusNoPrimary {
			return fmt.Errorf("illegal primary status transition %s -> %s", from, to)
		}
		return nil
	}
	return fmt.Errorf("unknown primary status %d", to)
}
