package cluster

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
	"github.com/kaikulimu/blazingmq/internal/storagekey"
)

// Apply dispatches a journaled cluster message to the matching mutation.
// Followers call this for every ledger record in LSN order; the leader calls
// it for its own advisories after they are journaled.
func (s *State) Apply(msg *ctrlmsg.ClusterMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	switch {
	case msg.QueueAssignment != nil:
		return s.applyQueueAssignment(msg.QueueAssignment)
	case msg.QueueUnAssignment != nil:
		return s.applyQueueUnAssignment(msg.QueueUnAssignment)
	case msg.QueueUpdate != nil:
		return s.applyQueueUpdate(msg.QueueUpdate)
	case msg.PartitionPrimary != nil:
		return s.applyPartitionPrimary(msg.PartitionPrimary.Partitions)
	case msg.LeaderAdvisory != nil:
		return s.applyLeaderAdvisory(msg.LeaderAdvisory)
	case msg.StateFEUpdate != nil:
		return s.applyQueueSnapshot(msg.StateFEUpdate.Queues)
	case msg.SyncPointOffset != nil:
		// Journal alignment only; carries no cluster-state mutation.
		s.log.Debug("sync point recorded", zap.Uint64("offset", msg.SyncPointOffset.Offset))
		return nil
	}
	return fmt.Errorf("unhandled cluster message choice %q", msg.Choice())
}

func (s *State) applyQueueAssignment(adv *ctrlmsg.QueueAssignmentAdvisory) error {
	for _, info := range adv.Queues {
		key := storagekey.FromBytes(info.QueueKey)
		if s.QueueKeyInUse(info.PartitionID, key, info.URI) {
			return fmt.Errorf("queue %s: key %s already in use on partition %d",
				info.URI, key.Hex(), info.PartitionID)
		}
		if !s.RegisterQueueInfo(info, false) {
			return fmt.Errorf("queue %s: conflicting assignment", info.URI)
		}
		s.log.Info("queue assigned",
			zap.String("uri", info.URI),
			zap.Int32("partitionId", info.PartitionID),
			zap.String("queueKey", key.Hex()))
	}
	return nil
}

func (s *State) applyQueueUnAssignment(adv *ctrlmsg.QueueUnAssignmentAdvisory) error {
	for _, info := range adv.Queues {
		q, ok := s.queues[info.URI]
		if !ok {
			return fmt.Errorf("queue %s: unassignment for unknown queue", info.URI)
		}
		if q.State == QueueStateAssigned {
			if err := s.transitionQueue(q, QueueStateUnassigning); err != nil {
				return err
			}
		}
		if err := s.transitionQueue(q, QueueStateUnassigned); err != nil {
			return err
		}
		s.removeQueue(info.URI)
		s.log.Info("queue unassigned",
			zap.String("uri", info.URI),
			zap.Int32("partitionId", info.PartitionID))
	}
	return nil
}

func (s *State) applyQueueUpdate(adv *ctrlmsg.QueueUpdateAdvisory) error {
	uris := []string{adv.URI}
	if adv.URI == "" {
		uris = s.DomainQueues(adv.Domain)
	}
	for _, uri := range uris {
		q, ok := s.queues[uri]
		if !ok {
			return fmt.Errorf("queue %s: update for unknown queue", uri)
		}
		for _, added := range adv.AddedApps {
			if q.app(added.AppID) != nil {
				return fmt.Errorf("queue %s: app %q already registered", uri, added.AppID)
			}
			q.Apps = append(q.Apps, AppInfo{AppID: added.AppID, AppKey: storagekey.FromBytes(added.AppKey)})
		}
		for _, removed := range adv.RemovedApps {
			kept := q.Apps[:0]
			for _, a := range q.Apps {
				if a.AppID != removed.AppID {
					kept = append(kept, a)
				}
			}
			q.Apps = kept
		}
	}
	return nil
}

func (s *State) applyPartitionPrimary(partitions []*ctrlmsg.PartitionPrimaryInfo) error {
	for _, p := range partitions {
		status := ctrlmsg.PrimaryStatusActive
		if p.PrimaryNodeID == NullNodeID {
			status = ctrlmsg.PrimaryStatusNoPrimary
		}
		if err := s.SetPartitionPrimary(p.PartitionID, p.PrimaryNodeID, p.PrimaryLeaseID, status); err != nil {
			return err
		}
	}
	return nil
}

func (s *State) applyLeaderAdvisory(adv *ctrlmsg.LeaderAdvisory) error {
	if err := s.applyPartitionPrimary(adv.Partitions); err != nil {
		return err
	}
	return s.applyQueueSnapshot(adv.Queues)
}

func (s *State) applyQueueSnapshot(queues []*ctrlmsg.QueueInfo) error {
	for _, info := range queues {
		if !s.RegisterQueueInfo(info, true) {
			return fmt.Errorf("queue %s: snapshot registration failed", info.URI)
		}
	}
	return nil
}
