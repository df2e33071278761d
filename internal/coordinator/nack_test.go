package coordinator

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kaikulimu/blazingmq/internal/blob"
	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
	"github.com/kaikulimu/blazingmq/internal/dispatcher"
	"github.com/kaikulimu/blazingmq/internal/protocol"
)

type nackRecorder struct {
	mu    sync.Mutex
	acks  []protocol.AckMessage
	blobs []*blob.Blob
}

func (c *nackRecorder) Name() string { return "producer" }

func (c *nackRecorder) OnDispatch(ev *dispatcher.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ack, ok := ev.AckMessage(); ok {
		c.acks = append(c.acks, ack)
	}
	c.blobs = append(c.blobs, ev.Blob())
}

func (c *nackRecorder) waitForAck(t *testing.T) protocol.AckMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.acks) > 0 {
			ack := c.acks[0]
			c.mu.Unlock()
			return ack
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("nack not dispatched")
	return protocol.AckMessage{}
}

func TestGenerateNack(t *testing.T) {
	d := dispatcher.NewSingle(16, zaptest.NewLogger(t))
	d.Start()
	defer d.Stop()

	source := &nackRecorder{}
	putHeader := protocol.PutHeader{
		QueueID:       7,
		CorrelationID: 21,
		MessageGUID:   protocol.NewMessageGUID(),
	}
	payload := blob.FromBytes([]byte("payload"))

	err := GenerateNack(protocol.AckResultLimitBytes, putHeader, source, d, payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	ack := source.waitForAck(t)
	if ack.Status != protocol.AckResultToCode(protocol.AckResultLimitBytes) {
		t.Fatalf("status = %d", ack.Status)
	}
	if ack.CorrelationID != 21 || ack.QueueID != 7 || ack.MessageGUID != putHeader.MessageGUID {
		t.Fatalf("ack = %+v", ack)
	}
	source.mu.Lock()
	if source.blobs[0] != payload {
		t.Fatal("payload not attached")
	}
	source.mu.Unlock()
}

func TestGenerateNackPreconditions(t *testing.T) {
	d := dispatcher.NewSingle(16, zaptest.NewLogger(t))
	d.Start()
	defer d.Stop()
	source := &nackRecorder{}

	if err := GenerateNack(protocol.AckResultSuccess, protocol.PutHeader{}, source, d, nil, nil); err == nil {
		t.Fatal("success status must be rejected")
	}
	opts := blob.FromBytes([]byte{1})
	if err := GenerateNack(protocol.AckResultRefused, protocol.PutHeader{}, source, d, nil, opts); err == nil {
		t.Fatal("options without app data must be rejected")
	}
}

func TestExtractMessage(t *testing.T) {
	lsn := ctrlmsg.LeaderMessageSequence{LeaderTerm: 2, SequenceNumber: 5}
	msg := &ctrlmsg.ClusterMessage{PartitionPrimary: &ctrlmsg.PartitionPrimaryAdvisory{
		Sequence:   &lsn,
		Partitions: []*ctrlmsg.PartitionPrimaryInfo{{PartitionID: 1, PrimaryNodeID: 2, PrimaryLeaseID: 3}},
	}}
	payload, err := ctrlmsg.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	h := protocol.NewEventHeader(protocol.EventTypeClusterState)
	h.Length = uint32(protocol.MinEventHeaderSize + len(payload))
	event := h.Encode(nil)
	event = append(event, payload...)

	got, err := ExtractMessage(blob.FromBytes(event))
	if err != nil {
		t.Fatal(err)
	}
	if got.Choice() != "partitionPrimaryAdvisory" {
		t.Fatalf("choice = %s", got.Choice())
	}
	gotLSN, ok := got.LSN()
	if !ok || gotLSN != lsn {
		t.Fatalf("lsn = %v", gotLSN)
	}

	// Truncated event.
	if _, err := ExtractMessage(blob.FromBytes(event[:len(event)-2])); err == nil {
		t.Fatal("expected truncation error")
	}
	// Header only, no body.
	bare := protocol.NewEventHeader(protocol.EventTypeClusterState)
	bare.Length = protocol.MinEventHeaderSize
	if _, err := ExtractMessage(blob.FromBytes(bare.Encode(nil))); err == nil {
		t.Fatal("expected empty body error")
	}
}
