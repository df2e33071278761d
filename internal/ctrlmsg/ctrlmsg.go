// Package ctrlmsg defines the control messages exchanged by the cluster
// control plane: the advisories a leader journals to the cluster state
// ledger and broadcasts to followers. Messages are hand-tagged proto structs
// marshaled with the protobuf wire format.
package ctrlmsg

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

// PrimaryStatus describes a primary's standing over its partition.
type PrimaryStatus int32

const (
	PrimaryStatusNoPrimary PrimaryStatus = 0
	PrimaryStatusActive    PrimaryStatus = 1
	PrimaryStatusPassive   PrimaryStatus = 2
)

func (s PrimaryStatus) String() string {
	switch s {
	case PrimaryStatusActive:
		return "ACTIVE_PRIMARY"
	case PrimaryStatusPassive:
		return "PASSIVE_PRIMARY"
	default:
		return "NO_PRIMARY"
	}
}

// NullNodeID marks a partition with no primary.
const NullNodeID int32 = -1

// PartitionPrimaryInfo maps one partition to its primary node and lease.
type PartitionPrimaryInfo struct {
	PartitionID    int32  `protobuf:"varint,1,opt,name=partition_id,json=partitionId,proto3"`
	PrimaryNodeID  int32  `protobuf:"varint,2,opt,name=primary_node_id,json=primaryNodeId,proto3"`
	PrimaryLeaseID uint64 `protobuf:"varint,3,opt,name=primary_lease_id,json=primaryLeaseId,proto3"`
}

func (*PartitionPrimaryInfo) Reset()         {}
func (*PartitionPrimaryInfo) String() string { return "PartitionPrimaryInfo" }
func (*PartitionPrimaryInfo) ProtoMessage()  {}

// AppIDInfo pairs an application id with its derived key.
type AppIDInfo struct {
	AppID  string `protobuf:"bytes,1,opt,name=app_id,json=appId,proto3"`
	AppKey []byte `protobuf:"bytes,2,opt,name=app_key,json=appKey,proto3"`
}

func (*AppIDInfo) Reset()         {}
func (*AppIDInfo) String() string { return "AppIDInfo" }
func (*AppIDInfo) ProtoMessage()  {}

// QueueInfo describes one queue's assignment: its URI, generated key, the
// partition that owns it and the registered apps.
type QueueInfo struct {
	URI         string       `protobuf:"bytes,1,opt,name=uri,proto3"`
	QueueKey    []byte       `protobuf:"bytes,2,opt,name=queue_key,json=queueKey,proto3"`
	PartitionID int32        `protobuf:"varint,3,opt,name=partition_id,json=partitionId,proto3"`
	AppIDs      []*AppIDInfo `protobuf:"bytes,4,rep,name=app_ids,json=appIds,proto3"`
}

func (*QueueInfo) Reset()         {}
func (*QueueInfo) String() string { return "QueueInfo" }
func (*QueueInfo) ProtoMessage()  {}

// QueueAssignmentAdvisory journals new queue assignments.
type QueueAssignmentAdvisory struct {
	Sequence *LeaderMessageSequence `protobuf:"bytes,1,opt,name=sequence,proto3"`
	Queues   []*QueueInfo           `protobuf:"bytes,2,rep,name=queues,proto3"`
}

func (*QueueAssignmentAdvisory) Reset()         {}
func (*QueueAssignmentAdvisory) String() string { return "QueueAssignmentAdvisory" }
func (*QueueAssignmentAdvisory) ProtoMessage()  {}

// QueueUnAssignmentAdvisory journals queue removals from a partition.
type QueueUnAssignmentAdvisory struct {
	Sequence    *LeaderMessageSequence `protobuf:"bytes,1,opt,name=sequence,proto3"`
	PartitionID int32                  `protobuf:"varint,2,opt,name=partition_id,json=partitionId,proto3"`
	Queues      []*QueueInfo           `protobuf:"bytes,3,rep,name=queues,proto3"`
}

func (*QueueUnAssignmentAdvisory) Reset()         {}
func (*QueueUnAssignmentAdvisory) String() string { return "QueueUnAssignmentAdvisory" }
func (*QueueUnAssignmentAdvisory) ProtoMessage()  {}

// QueueUpdateAdvisory journals app-id additions and removals for one queue,
// or for every queue of a domain when URI is empty.
type QueueUpdateAdvisory struct {
	Sequence    *LeaderMessageSequence `protobuf:"bytes,1,opt,name=sequence,proto3"`
	URI         string                 `protobuf:"bytes,2,opt,name=uri,proto3"`
	Domain      string                 `protobuf:"bytes,3,opt,name=domain,proto3"`
	AddedApps   []*AppIDInfo           `protobuf:"bytes,4,rep,name=added_apps,json=addedApps,proto3"`
	RemovedApps []*AppIDInfo           `protobuf:"bytes,5,rep,name=removed_apps,json=removedApps,proto3"`
}

func (*QueueUpdateAdvisory) Reset()         {}
func (*QueueUpdateAdvisory) String() string { return "QueueUpdateAdvisory" }
func (*QueueUpdateAdvisory) ProtoMessage()  {}

// PartitionPrimaryAdvisory journals new partition-primary assignments.
type PartitionPrimaryAdvisory struct {
	Sequence   *LeaderMessageSequence  `protobuf:"bytes,1,opt,name=sequence,proto3"`
	Partitions []*PartitionPrimaryInfo `protobuf:"bytes,2,rep,name=partitions,proto3"`
}

func (*PartitionPrimaryAdvisory) Reset()         {}
func (*PartitionPrimaryAdvisory) String() string { return "PartitionPrimaryAdvisory" }
func (*PartitionPrimaryAdvisory) ProtoMessage()  {}

// LeaderAdvisory carries a full snapshot of the leader's view: the
// partition-primary mapping and/or the queue assignments, stamped at an LSN.
type LeaderAdvisory struct {
	Sequence   *LeaderMessageSequence  `protobuf:"bytes,1,opt,name=sequence,proto3"`
	Partitions []*PartitionPrimaryInfo `protobuf:"bytes,2,rep,name=partitions,proto3"`
	Queues     []*QueueInfo            `protobuf:"bytes,3,rep,name=queues,proto3"`
}

func (*LeaderAdvisory) Reset()         {}
func (*LeaderAdvisory) String() string { return "LeaderAdvisory" }
func (*LeaderAdvisory) ProtoMessage()  {}

// ClusterStateFEUpdate notifies front-end proxies of a cluster state change.
type ClusterStateFEUpdate struct {
	Sequence *LeaderMessageSequence `protobuf:"bytes,1,opt,name=sequence,proto3"`
	Queues   []*QueueInfo           `protobuf:"bytes,2,rep,name=queues,proto3"`
}

func (*ClusterStateFEUpdate) Reset()         {}
func (*ClusterStateFEUpdate) String() string { return "ClusterStateFEUpdate" }
func (*ClusterStateFEUpdate) ProtoMessage()  {}

// ClusterMessage is the envelope written to the ledger and to the wire.
// Exactly one choice is set.
type ClusterMessage struct {
	QueueAssignment    *QueueAssignmentAdvisory   `protobuf:"bytes,1,opt,name=queue_assignment,json=queueAssignment,proto3"`
	QueueUnAssignment  *QueueUnAssignmentAdvisory `protobuf:"bytes,2,opt,name=queue_un_assignment,json=queueUnAssignment,proto3"`
	QueueUpdate        *QueueUpdateAdvisory       `protobuf:"bytes,3,opt,name=queue_update,json=queueUpdate,proto3"`
	PartitionPrimary   *PartitionPrimaryAdvisory  `protobuf:"bytes,4,opt,name=partition_primary,json=partitionPrimary,proto3"`
	LeaderAdvisory     *LeaderAdvisory            `protobuf:"bytes,5,opt,name=leader_advisory,json=leaderAdvisory,proto3"`
	StateFEUpdate      *ClusterStateFEUpdate      `protobuf:"bytes,6,opt,name=state_fe_update,json=stateFeUpdate,proto3"`
	SyncPointOffset    *SyncPointOffsetPair       `protobuf:"bytes,7,opt,name=sync_point_offset,json=syncPointOffset,proto3"`
}

func (*ClusterMessage) Reset()         {}
func (*ClusterMessage) String() string { return "ClusterMessage" }
func (*ClusterMessage) ProtoMessage()  {}

// Choice names the populated advisory, for logs and dispatch.
func (m *ClusterMessage) Choice() string {
	switch {
	case m == nil:
		return "none"
	case m.QueueAssignment != nil:
		return "queueAssignmentAdvisory"
	case m.QueueUnAssignment != nil:
		return "queueUnAssignmentAdvisory"
	case m.QueueUpdate != nil:
		return "queueUpdateAdvisory"
	case m.PartitionPrimary != nil:
		return "partitionPrimaryAdvisory"
	case m.LeaderAdvisory != nil:
		return "leaderAdvisory"
	case m.StateFEUpdate != nil:
		return "clusterStateFEUpdate"
	case m.SyncPointOffset != nil:
		return "syncPointOffsetPair"
	default:
		return "none"
	}
}

// LSN returns the sequence stamped on the populated advisory, if any.
func (m *ClusterMessage) LSN() (LeaderMessageSequence, bool) {
	var seq *LeaderMessageSequence
	switch {
	case m == nil:
	case m.QueueAssignment != nil:
		seq = m.QueueAssignment.Sequence
	case m.QueueUnAssignment != nil:
		seq = m.QueueUnAssignment.Sequence
	case m.QueueUpdate != nil:
		seq = m.QueueUpdate.Sequence
	case m.PartitionPrimary != nil:
		seq = m.PartitionPrimary.Sequence
	case m.LeaderAdvisory != nil:
		seq = m.LeaderAdvisory.Sequence
	case m.StateFEUpdate != nil:
		seq = m.StateFEUpdate.Sequence
	}
	if seq == nil {
		return LeaderMessageSequence{}, false
	}
	return *seq, true
}

func Marshal(m proto.Message) ([]byte, error) { return proto.Marshal(m) }

func UnmarshalClusterMessage(payload []byte) (*ClusterMessage, error) {
	var msg ClusterMessage
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate rejects envelopes with zero or more than one choice set.
func (m *ClusterMessage) Validate() error {
	if m == nil {
		return fmt.Errorf("nil cluster message")
	}
	n := 0
	for _, set := range []bool{
		m.QueueAssignment != nil, m.QueueUnAssignment != nil,
		m.QueueUpdate != nil, m.PartitionPrimary != nil,
		m.LeaderAdvisory != nil, m.StateFEUpdate != nil,
		m.SyncPointOffset != nil,
	} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("cluster message must carry exactly one advisory, has %d", n)
	}
	return nil
}
