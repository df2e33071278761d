// Package dispatcher provides the single-goroutine event loop that executes
// all cluster-state mutations. Worker goroutines never touch cluster state
// directly; they post events here and the dispatcher runs them one at a
// time, which is what lets the control plane go lock-free.
package dispatcher

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kaikulimu/blazingmq/internal/blob"
	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
	"github.com/kaikulimu/blazingmq/internal/protocol"
)

// EventType tags a dispatcher event.
type EventType int

const (
	EventTypeUndefined EventType = iota
	EventTypeAck
	EventTypePut
	EventTypeConfirm
	EventTypeClusterState
	EventTypeCallback
)

func (t EventType) String() string {
	switch t {
	case EventTypeAck:
		return "ACK"
	case EventTypePut:
		return "PUT"
	case EventTypeConfirm:
		return "CONFIRM"
	case EventTypeClusterState:
		return "CLUSTER_STATE"
	case EventTypeCallback:
		return "CALLBACK"
	default:
		return "UNDEFINED"
	}
}

// Client is anything that receives dispatched events: a client session, a
// cluster node session, or the cluster itself.
type Client interface {
	Name() string
	OnDispatch(ev *Event)
}

// Event is one unit of work routed through the dispatcher. Setters chain so
// call sites can build and dispatch in one expression.
type Event struct {
	typ            EventType
	ackMessage     protocol.AckMessage
	hasAck         bool
	clusterMessage *ctrlmsg.ClusterMessage
	blob           *blob.Blob
	options        *blob.Blob
	callback       func()
	source         Client
}

func (e *Event) Type() EventType { return e.typ }

func (e *Event) SetType(t EventType) *Event {
	e.typ = t
	return e
}

func (e *Event) AckMessage() (protocol.AckMessage, bool) { return e.ackMessage, e.hasAck }

func (e *Event) SetAckMessage(m protocol.AckMessage) *Event {
	e.ackMessage = m
	e.hasAck = true
	return e
}

func (e *Event) ClusterMessage() *ctrlmsg.ClusterMessage { return e.clusterMessage }

func (e *Event) SetClusterMessage(m *ctrlmsg.ClusterMessage) *Event {
	e.clusterMessage = m
	return e
}

func (e *Event) Blob() *blob.Blob { return e.blob }

func (e *Event) SetBlob(b *blob.Blob) *Event {
	e.blob = b
	return e
}

func (e *Event) Options() *blob.Blob { return e.options }

func (e *Event) SetOptions(b *blob.Blob) *Event {
	e.options = b
	return e
}

func (e *Event) SetCallback(fn func()) *Event {
	e.callback = fn
	return e
}

func (e *Event) Source() Client { return e.source }

func (e *Event) clear() {
	*e = Event{}
}

// Dispatcher is the interface the coordinator consumes.
type Dispatcher interface {
	// GetEvent returns a fresh event owned by the caller until dispatched.
	GetEvent(client Client) *Event

	// DispatchEvent enqueues ev for target. Callable from any goroutine;
	// the target's OnDispatch runs on the dispatcher goroutine.
	DispatchEvent(ev *Event, target Client)

	// Execute runs fn on the dispatcher goroutine.
	Execute(fn func())
}

type queued struct {
	ev     *Event
	target Client
}

// Single is the in-process dispatcher: one goroutine, one FIFO queue.
type Single struct {
	log    *zap.Logger
	queue  chan queued
	pool   sync.Pool
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

func NewSingle(queueDepth int, log *zap.Logger) *Single {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Single{
		log:    log,
		queue:  make(chan queued, queueDepth),
		pool:   sync.Pool{New: func() any { return &Event{} }},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (d *Single) Start() {
	go d.run()
}

// Stop drains nothing: queued events not yet dispatched are dropped. The
// caller is expected to quiesce producers first.
func (d *Single) Stop() {
	d.once.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func (d *Single) GetEvent(client Client) *Event {
	ev := d.pool.Get().(*Event)
	ev.clear()
	ev.source = client
	return ev
}

func (d *Single) DispatchEvent(ev *Event, target Client) {
	select {
	case d.queue <- queued{ev: ev, target: target}:
	case <-d.stopCh:
	}
}

func (d *Single) Execute(fn func()) {
	ev := d.GetEvent(nil)
	ev.SetType(EventTypeCallback).SetCallback(fn)
	d.DispatchEvent(ev, nil)
}

func (d *Single) run() {
	defer close(d.doneCh)
	for {
		select {
		case <-d.stopCh:
			return
		case q := <-d.queue:
			d.deliver(q)
		}
	}
}

func (d *Single) deliver(q queued) {
	defer d.pool.Put(q.ev)
	if q.ev.typ == EventTypeCallback && q.ev.callback != nil {
		q.ev.callback()
		return
	}
	if q.target == nil {
		d.log.Warn("event dropped without target", zap.Stringer("type", q.ev.typ))
		return
	}
	q.target.OnDispatch(q.ev)
}
