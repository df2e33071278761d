package cluster

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
	"github.com/kaikulimu/blazingmq/internal/storagekey"
)

// AppInfo pairs an app id with its derived key. The key must be
// collision-free within its queue.
type AppInfo struct {
	AppID  string
	AppKey storagekey.Key
}

// Queue is one queue's assignment record. Owned by State by value, keyed by
// URI.
type Queue struct {
	URI         string
	Key         storagekey.Key
	PartitionID int32
	Apps        []AppInfo
	State       QueueState
}

func (q *Queue) app(appID string) *AppInfo {
	for i := range q.Apps {
		if q.Apps[i].AppID == appID {
			return &q.Apps[i]
		}
	}
	return nil
}

// sortedApps returns the app list ordered by app id, for stable comparison
// and dissemination.
func (q *Queue) sortedApps() []AppInfo {
	out := append([]AppInfo(nil), q.Apps...)
	sort.Slice(out, func(i, j int) bool { return out[i].AppID < out[j].AppID })
	return out
}

// Partition is one partition's primary record.
type Partition struct {
	ID             int32
	PrimaryNodeID  NodeID
	PrimaryLeaseID uint64
	Status         ctrlmsg.PrimaryStatus
}

func (p Partition) HasPrimary() bool { return p.PrimaryNodeID != NullNodeID }

// State is the authoritative in-memory cluster state. It is rebuilt at
// startup by replaying the ledger and mutated only on the dispatcher
// goroutine.
type State struct {
	partitions []Partition
	queues     map[string]*Queue
	domains    map[string]map[string]struct{}
	log        *zap.Logger
}

func NewState(partitionCount int, log *zap.Logger) *State {
	if log == nil {
		log = zap.NewNop()
	}
	s := &State{
		partitions: make([]Partition, partitionCount),
		queues:     make(map[string]*Queue),
		domains:    make(map[string]map[string]struct{}),
		log:        log,
	}
	for i := range s.partitions {
		s.partitions[i] = Partition{ID: int32(i), PrimaryNodeID: NullNodeID}
	}
	return s
}

func (s *State) PartitionCount() int { return len(s.partitions) }

func (s *State) Partition(id int32) (Partition, bool) {
	if id < 0 || int(id) >= len(s.partitions) {
		return Partition{}, false
	}
	return s.partitions[id], true
}

func (s *State) Partitions() []Partition {
	return append([]Partition(nil), s.partitions...)
}

// SetPartitionPrimary records a new primary (or a status-only change) for a
// partition. Lease ids are monotonic: equal only when the primary identity
// is unchanged, strictly greater when it changes.
func (s *State) SetPartitionPrimary(partitionID int32, nodeID NodeID, leaseID uint64, status ctrlmsg.PrimaryStatus) error {
	if partitionID < 0 || int(partitionID) >= len(s.partitions) {
		return fmt.Errorf("partition %d out of range [0, %d)", partitionID, len(s.partitions))
	}
	p := &s.partitions[partitionID]
	if leaseID < p.PrimaryLeaseID {
		return fmt.Errorf("partition %d: lease %d regresses below %d", partitionID, leaseID, p.PrimaryLeaseID)
	}
	if nodeID != p.PrimaryNodeID && nodeID != NullNodeID && leaseID == p.PrimaryLeaseID && p.HasPrimary() {
		return fmt.Errorf("partition %d: primary change %d -> %d requires a new lease", partitionID, p.PrimaryNodeID, nodeID)
	}
	if nodeID == NullNodeID {
		status = ctrlmsg.PrimaryStatusNoPrimary
	}
	s.log.Debug("partition primary updated",
		zap.Int32("partitionId", partitionID),
		zap.Int32("primaryNodeId", nodeID),
		zap.Uint64("leaseId", leaseID),
		zap.Stringer("status", status))
	p.PrimaryNodeID = nodeID
	p.PrimaryLeaseID = leaseID
	p.Status = status
	return nil
}

func (s *State) Queue(uri string) (*Queue, bool) {
	q, ok := s.queues[uri]
	return q, ok
}

// Queues returns all queues ordered by URI.
func (s *State) Queues() []*Queue {
	uris := make([]string, 0, len(s.queues))
	for uri := range s.queues {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	out := make([]*Queue, 0, len(uris))
	for _, uri := range uris {
		out = append(out, s.queues[uri])
	}
	return out
}

// DomainQueues returns the URIs of all queues in domain, sorted.
func (s *State) DomainQueues(domain string) []string {
	set := s.domains[domain]
	out := make([]string, 0, len(set))
	for uri := range set {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// NumAssignedQueues counts the queues currently bound to a partition.
func (s *State) NumAssignedQueues(partitionID int32) int {
	n := 0
	for _, q := range s.queues {
		if q.PartitionID == partitionID && (q.State == QueueStateAssigning || q.State == QueueStateAssigned) {
			n++
		}
	}
	return n
}

// QueueKeyInUse reports whether key already identifies a different queue
// within partitionID.
func (s *State) QueueKeyInUse(partitionID int32, key storagekey.Key, exceptURI string) bool {
	for uri, q := range s.queues {
		if uri != exceptURI && q.PartitionID == partitionID && q.Key == key {
			return true
		}
	}
	return false
}

func (s *State) transitionQueue(q *Queue, to QueueState) error {
	if !q.State.canTransition(to) {
		return fmt.Errorf("queue %s: illegal transition %s -> %s", q.URI, q.State, to)
	}
	q.State = to
	return nil
}

// MarkAssigning transitions a queue into ASSIGNING, creating the record if
// needed. Called on the leader after the assignment advisory is journaled.
func (s *State) MarkAssigning(uri string, key storagekey.Key, partitionID int32, apps []AppInfo) error {
	q, ok := s.queues[uri]
	if !ok {
		q = &Queue{URI: uri, State: QueueStateUnassigned}
		s.insertQueue(q)
	}
	if err := s.transitionQueue(q, QueueStateAssigning); err != nil {
		return err
	}
	q.Key = key
	q.PartitionID = partitionID
	q.Apps = append([]AppInfo(nil), apps...)
	return nil
}

// SetPendingUnassignment moves an ASSIGNED queue into UNASSIGNING.
func (s *State) SetPendingUnassignment(uri string) error {
	q, ok := s.queues[uri]
	if !ok {
		return fmt.Errorf("queue %s: not in cluster state", uri)
	}
	return s.transitionQueue(q, QueueStateUnassigning)
}

// RegisterQueueInfo records the queue described by info. When the record
// already exists with identical values it is only settled into ASSIGNED.
// A conflicting record is rejected unless forceUpdate is set.
func (s *State) RegisterQueueInfo(info *ctrlmsg.QueueInfo, forceUpdate bool) bool {
	apps := appInfosFromProto(info.AppIDs)
	if q, ok := s.queues[info.URI]; ok {
		if q.Key == storagekey.FromBytes(info.QueueKey) && q.PartitionID == info.PartitionID && sameApps(q.Apps, apps) {
			s.settleAssigned(q)
			return true
		}
		if !forceUpdate {
			s.log.Error("queue info conflicts with existing state",
				zap.String("uri", info.URI),
				zap.Int32("partitionId", info.PartitionID))
			return false
		}
		q.Key = storagekey.FromBytes(info.QueueKey)
		q.PartitionID = info.PartitionID
		q.Apps = apps
		q.State = QueueStateAssigned
		return true
	}

	q := &Queue{
		URI:         info.URI,
		Key:         storagekey.FromBytes(info.QueueKey),
		PartitionID: info.PartitionID,
		Apps:        apps,
		State:       QueueStateUnassigned,
	}
	s.insertQueue(q)
	s.settleAssigned(q)
	return true
}

// settleAssigned walks a queue to ASSIGNED through the legal transitions.
func (s *State) settleAssigned(q *Queue) {
	if q.State == QueueStateUnassigned {
		q.State = QueueStateAssigning
	}
	if q.State == QueueStateAssigning {
		q.State = QueueStateAssigned
	}
}

func (s *State) insertQueue(q *Queue) {
	s.queues[q.URI] = q
	if uri, err := ParseURI(q.URI); err == nil {
		set, ok := s.domains[uri.Domain]
		if !ok {
			set = make(map[string]struct{})
			s.domains[uri.Domain] = set
		}
		set[q.URI] = struct{}{}
	}
}

func (s *State) removeQueue(uri string) {
	delete(s.queues, uri)
	if parsed, err := ParseURI(uri); err == nil {
		if set, ok := s.domains[parsed.Domain]; ok {
			delete(set, uri)
			if len(set) == 0 {
				delete(s.domains, parsed.Domain)
			}
		}
	}
}

func appInfosFromProto(infos []*ctrlmsg.AppIDInfo) []AppInfo {
	out := make([]AppInfo, 0, len(infos))
	for _, a := range infos {
		out = append(out, AppInfo{AppID: a.AppID, AppKey: storagekey.FromBytes(a.AppKey)})
	}
	return out
}

func appInfosToProto(apps []AppInfo) []*ctrlmsg.AppIDInfo {
	out := make([]*ctrlmsg.AppIDInfo, 0, len(apps))
	for _, a := range apps {
		out = append(out, &ctrlmsg.AppIDInfo{AppID: a.AppID, AppKey: a.AppKey.Bytes()})
	}
	return out
}

func sameApps(a, b []AppInfo) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]AppInfo(nil), a...)
	bs := append([]AppInfo(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i].AppID < as[j].AppID })
	sort.Slice(bs, func(i, j int) bool { return bs[i].AppID < bs[j].AppID })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
