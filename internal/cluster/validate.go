package cluster

import (
	"fmt"
	"strings"
)

// ValidateState compares s against reference up to stable orderings.
// Returns 0 when they match, otherwise a non-zero count of inconsistencies
// and a description of each. A mismatch here on a follower indicates state
// corruption and is fatal for the divergent node.
func (s *State) ValidateState(reference *State) (int, string) {
	var sb strings.Builder
	mismatches := 0
	report := func(format string, args ...any) {
		mismatches++
		fmt.Fprintf(&sb, format+"\n", args...)
	}

	if len(s.partitions) != len(reference.partitions) {
		report("partition count %d != reference %d", len(s.partitions), len(reference.partitions))
	} else {
		for i := range s.partitions {
			a, b := s.partitions[i], reference.partitions[i]
			if a != b {
				report("partition %d: %+v != reference %+v", i, a, b)
			}
		}
	}

	for _, q := range s.Queues() {
		ref, ok := reference.queues[q.URI]
		if !ok {
			report("queue %s: not in reference state", q.URI)
			continue
		}
		if q.Key != ref.Key {
			report("queue %s: key %s != reference %s", q.URI, q.Key.Hex(), ref.Key.Hex())
		}
		if q.PartitionID != ref.PartitionID {
			report("queue %s: partition %d != reference %d", q.URI, q.PartitionID, ref.PartitionID)
		}
		if q.State != ref.State {
			report("queue %s: state %s != reference %s", q.URI, q.State, ref.State)
		}
		a, b := q.sortedApps(), ref.sortedApps()
		if len(a) != len(b) {
			report("queue %s: %d apps != reference %d", q.URI, len(a), len(b))
			continue
		}
		for i := range a {
			if a[i] != b[i] {
				report("queue %s: app %q (%s) != reference %q (%s)",
					q.URI, a[i].AppID, a[i].AppKey.Hex(), b[i].AppID, b[i].AppKey.Hex())
			}
		}
	}
	for _, q := range reference.Queues() {
		if _, ok := s.queues[q.URI]; !ok {
			report("queue %s: missing from state", q.URI)
		}
	}

	return mismatches, sb.String()
}
