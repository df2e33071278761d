package ctrlmsg

import "fmt"

// LeaderMessageSequence is the LSN stamped on every advisory: the leader's
// term and a sequence number within that term. A new leader starts at
// (term, 1) and never reuses an older (term, *).
type LeaderMessageSequence struct {
	LeaderTerm     uint64 `protobuf:"varint,1,opt,name=leader_term,json=leaderTerm,proto3"`
	SequenceNumber uint64 `protobuf:"varint,2,opt,name=sequence_number,json=sequenceNumber,proto3"`
}

func (*LeaderMessageSequence) Reset()         {}
func (*LeaderMessageSequence) String() string { return "LeaderMessageSequence" }
func (*LeaderMessageSequence) ProtoMessage()  {}

// Compare orders LSNs lexicographically over (term, sequence).
func (s LeaderMessageSequence) Compare(o LeaderMessageSequence) int {
	if s.LeaderTerm != o.LeaderTerm {
		if s.LeaderTerm < o.LeaderTerm {
			return -1
		}
		return 1
	}
	if s.SequenceNumber != o.SequenceNumber {
		if s.SequenceNumber < o.SequenceNumber {
			return -1
		}
		return 1
	}
	return 0
}

func (s LeaderMessageSequence) Less(o LeaderMessageSequence) bool { return s.Compare(o) < 0 }

func (s LeaderMessageSequence) Equal(o LeaderMessageSequence) bool { return s.Compare(o) == 0 }

// Next returns the LSN following s within the same term.
func (s LeaderMessageSequence) Next() LeaderMessageSequence {
	return LeaderMessageSequence{LeaderTerm: s.LeaderTerm, SequenceNumber: s.SequenceNumber + 1}
}

func (s LeaderMessageSequence) Format() string {
	return fmt.Sprintf("[%d, %d]", s.LeaderTerm, s.SequenceNumber)
}

// PartitionSequenceNumber is the monotonic cursor of a partition's journal:
// the primary's lease id and a sequence number within that lease.
type PartitionSequenceNumber struct {
	PrimaryLeaseID uint64 `protobuf:"varint,1,opt,name=primary_lease_id,json=primaryLeaseId,proto3"`
	SequenceNumber uint64 `protobuf:"varint,2,opt,name=sequence_number,json=sequenceNumber,proto3"`
}

func (*PartitionSequenceNumber) Reset()         {}
func (*PartitionSequenceNumber) String() string { return "PartitionSequenceNumber" }
func (*PartitionSequenceNumber) ProtoMessage()  {}

// Compare orders lease id first, then sequence number.
func (p PartitionSequenceNumber) Compare(o PartitionSequenceNumber) int {
	if p.PrimaryLeaseID != o.PrimaryLeaseID {
		if p.PrimaryLeaseID < o.PrimaryLeaseID {
			return -1
		}
		return 1
	}
	if p.SequenceNumber != o.SequenceNumber {
		if p.SequenceNumber < o.SequenceNumber {
			return -1
		}
		return 1
	}
	return 0
}

func (p PartitionSequenceNumber) Less(o PartitionSequenceNumber) bool { return p.Compare(o) < 0 }

func (p PartitionSequenceNumber) Format() string {
	return fmt.Sprintf("[primaryLeaseId=%d sequenceNumber=%d]", p.PrimaryLeaseID, p.SequenceNumber)
}

// SyncPoint references a position in a partition's journal files, used to
// align replicas during recovery.
type SyncPoint struct {
	PrimaryLeaseID       uint64 `protobuf:"varint,1,opt,name=primary_lease_id,json=primaryLeaseId,proto3"`
	SequenceNum          uint64 `protobuf:"varint,2,opt,name=sequence_num,json=sequenceNum,proto3"`
	DataFileOffsetDwords uint64 `protobuf:"varint,3,opt,name=data_file_offset_dwords,json=dataFileOffsetDwords,proto3"`
	QlistFileOffsetWords uint64 `protobuf:"varint,4,opt,name=qlist_file_offset_words,json=qlistFileOffsetWords,proto3"`
}

func (*SyncPoint) Reset()         {}
func (*SyncPoint) String() string { return "SyncPoint" }
func (*SyncPoint) ProtoMessage()  {}

// Compare orders lease id first, then sequence number, then the two file
// offsets in that exact order.
func (s SyncPoint) Compare(o SyncPoint) int {
	if s.PrimaryLeaseID != o.PrimaryLeaseID {
		if s.PrimaryLeaseID < o.PrimaryLeaseID {
			return -1
		}
		return 1
	}
	if s.SequenceNum != o.SequenceNum {
		if s.SequenceNum < o.SequenceNum {
			return -1
		}
		return 1
	}
	if s.DataFileOffsetDwords != o.DataFileOffsetDwords {
		if s.DataFileOffsetDwords < o.DataFileOffsetDwords {
			return -1
		}
		return 1
	}
	if s.QlistFileOffsetWords != o.QlistFileOffsetWords {
		if s.QlistFileOffsetWords < o.QlistFileOffsetWords {
			return -1
		}
		return 1
	}
	return 0
}

func (s SyncPoint) Less(o SyncPoint) bool { return s.Compare(o) < 0 }

// IsValid reports whether the sync point carries a usable lease id and
// sequence number.
func (s SyncPoint) IsValid() bool {
	return s.PrimaryLeaseID >= 1 && s.SequenceNum >= 1
}

// SyncPointOffsetPair couples a SyncPoint with its byte offset in the
// journal.
type SyncPointOffsetPair struct {
	SyncPoint *SyncPoint `protobuf:"bytes,1,opt,name=sync_point,json=syncPoint,proto3"`
	Offset    uint64     `protobuf:"varint,2,opt,name=offset,proto3"`
}

func (*SyncPointOffsetPair) Reset()         {}
func (*SyncPointOffsetPair) String() string { return "SyncPointOffsetPair" }
func (*SyncPointOffsetPair) ProtoMessage()  {}

// Compare orders by sync point first, then offset.
func (p SyncPointOffsetPair) Compare(o SyncPointOffsetPair) int {
	var a, b SyncPoint
	if p.SyncPoint != nil {
		a = *p.SyncPoint
	}
	if o.SyncPoint != nil {
		b = *o.SyncPoint
	}
	if c := a.Compare(b); c != 0 {
		return c
	}
	if p.Offset != o.Offset {
		if p.Offset < o.Offset {
			return -1
		}
		return 1
	}
	return 0
}

func (p SyncPointOffsetPair) Less(o SyncPointOffsetPair) bool { return p.Compare(o) < 0 }

// IsValid requires a valid sync point and a non-zero offset.
func (p SyncPointOffsetPair) IsValid() bool {
	return p.SyncPoint != nil && p.SyncPoint.IsValid() && p.Offset != 0
}
