package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kaikulimu/blazingmq/internal/blob"
	"github.com/kaikulimu/blazingmq/internal/cluster"
	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
	"github.com/kaikulimu/blazingmq/internal/ledger"
	"github.com/kaikulimu/blazingmq/internal/protocol"
)

// ExtractMessage decodes the cluster message carried by a CLUSTER_STATE
// event blob: the EventHeader is skipped by its declared size and the body
// is unmarshaled as a ClusterMessage envelope.
func ExtractMessage(eventBlob *blob.Blob) (*ctrlmsg.ClusterMessage, error) {
	h, err := protocol.DecodeEventHeader(eventBlob)
	if err != nil {
		return nil, err
	}
	headerSize := h.HeaderWords * protocol.WordSize
	if int(h.Length) > eventBlob.Length() || headerSize > int(h.Length) {
		return nil, fmt.Errorf("extract message: truncated event (%d of %d bytes)", eventBlob.Length(), h.Length)
	}
	body := make([]byte, int(h.Length)-headerSize)
	if len(body) == 0 {
		return nil, fmt.Errorf("extract message: empty cluster message body")
	}
	start, ok := positionAt(eventBlob, headerSize)
	if !ok || !eventBlob.CopyOut(body, start, len(body)) {
		return nil, fmt.Errorf("extract message: truncated body")
	}
	msg, err := ctrlmsg.UnmarshalClusterMessage(body)
	if err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func positionAt(b *blob.Blob, off int) (blob.Position, bool) {
	var c blob.Cursor
	if !c.Reset(b, blob.Position{}, b.Length(), true) {
		return blob.Position{}, false
	}
	if off > 0 && !c.Advance(off) {
		return blob.Position{}, false
	}
	return c.Position(), true
}

// Load replays the ledger records behind it into state, in strict LSN
// order. Used at startup to rebuild the cluster state from the journal.
func Load(state *cluster.State, it ledger.Iterator, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	var last ctrlmsg.LeaderMessageSequence
	haveAny := false
	n := 0
	for it.Next() {
		lsn := it.LSN()
		if haveAny && !last.Less(lsn) {
			return fmt.Errorf("ledger replay: lsn %s not after %s", lsn.Format(), last.Format())
		}
		msg, err := it.Record()
		if err != nil {
			return fmt.Errorf("ledger replay at %s: %w", lsn.Format(), err)
		}
		if err := state.Apply(msg); err != nil {
			return fmt.Errorf("ledger replay at %s: %w", lsn.Format(), err)
		}
		last, haveAny = lsn, true
		n++
	}
	if err := it.Err(); err != nil {
		return err
	}
	log.Info("cluster state loaded from ledger", zap.Int("records", n))
	return nil
}

// ValidateClusterStateLedger rebuilds a state from the ledger's contents
// and compares it against the live clusterState. A divergence means the
// journal and the in-memory view disagree, which is fatal for this node.
func ValidateClusterStateLedger(ctx context.Context, csl ledger.Ledger, clusterState *cluster.State, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	it, err := csl.Iterate(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	rebuilt := cluster.NewState(clusterState.PartitionCount(), zap.NewNop())
	if err := Load(rebuilt, it, zap.NewNop()); err != nil {
		return err
	}
	if n, desc := rebuilt.ValidateState(clusterState); n != 0 {
		log.Error("cluster state ledger diverges from live state",
			zap.Int("mismatches", n), zap.String("details", desc))
		return fmt.Errorf("cluster state ledger validation failed with %d mismatches:\n%s", n, desc)
	}
	return nil
}

// LatestLedgerLSN scans the whole ledger for its last LSN. Expensive on
// purpose; see ledger.LatestLSN.
func LatestLedgerLSN(ctx context.Context, csl ledger.Ledger) (ctrlmsg.LeaderMessageSequence, bool, error) {
	return ledger.LatestLSN(ctx, csl)
}
