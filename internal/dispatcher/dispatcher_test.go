package dispatcher

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kaikulimu/blazingmq/internal/protocol"
)

type recordingClient struct {
	mu    sync.Mutex
	types []EventType
	acks  []protocol.AckMessage
}

func (c *recordingClient) Name() string { return "recorder" }

func (c *recordingClient) OnDispatch(ev *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = append(c.types, ev.Type())
	if ack, ok := ev.AckMessage(); ok {
		c.acks = append(c.acks, ack)
	}
}

func (c *recordingClient) snapshot() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EventType(nil), c.types...)
}

func TestDispatchOrderPreserved(t *testing.T) {
	d := NewSingle(16, zaptest.NewLogger(t))
	d.Start()
	defer d.Stop()

	client := &recordingClient{}
	want := []EventType{EventTypePut, EventTypeConfirm, EventTypeAck, EventTypeClusterState}
	for _, typ := range want {
		d.DispatchEvent(d.GetEvent(client).SetType(typ), client)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := client.snapshot()
		if len(got) == len(want) {
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivered %d of %d events", len(got), len(want))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExecuteRunsSerially(t *testing.T) {
	d := NewSingle(128, zaptest.NewLogger(t))
	d.Start()
	defer d.Stop()

	// Unsynchronized counter: safe only if callbacks are serialized on the
	// dispatcher goroutine.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				done := make(chan struct{})
				d.Execute(func() { counter++; close(done) })
				<-done
			}
		}()
	}
	wg.Wait()
	done := make(chan struct{})
	d.Execute(func() { close(done) })
	<-done
	if counter != 400 {
		t.Fatalf("counter = %d, want 400", counter)
	}
}

func TestAckEventCarriesMessage(t *testing.T) {
	d := NewSingle(16, zaptest.NewLogger(t))
	d.Start()
	defer d.Stop()

	client := &recordingClient{}
	ack := protocol.AckMessage{Status: 5, CorrelationID: 9, QueueID: 3}
	d.DispatchEvent(d.GetEvent(client).SetType(EventTypeAck).SetAckMessage(ack), client)

	deadline := time.Now().Add(2 * time.Second)
	for {
		client.mu.Lock()
		n := len(client.acks)
		var got protocol.AckMessage
		if n > 0 {
			got = client.acks[0]
		}
		client.mu.Unlock()
		if n == 1 {
			if got != ack {
				t.Fatalf("ack = %+v", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("ack not delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
