// Package cluster holds the authoritative in-memory model of the cluster:
// which node is primary for each partition, which partition owns each queue,
// and the app ids registered on every queue. All mutations run on the
// cluster dispatcher goroutine; the package itself takes no locks.
package cluster

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
)

// NodeID indexes a node within ClusterData. Cross-references between state
// objects are by id, never by pointer.
type NodeID = int32

// NullNodeID marks the absence of a node.
const NullNodeID = ctrlmsg.NullNodeID

// Node is one member of the cluster.
type Node struct {
	ID         NodeID
	Name       string
	Address    string
	DataCenter string
	Available  bool
}

// ClusterData is the membership roster plus this node's identity, the
// current leader and the leader's advisory sequencing.
type ClusterData struct {
	SelfID   NodeID
	LeaderID NodeID
	nodes    map[NodeID]*Node

	term    uint64
	lastSeq uint64
}

func NewClusterData(selfID NodeID) *ClusterData {
	return &ClusterData{SelfID: selfID, LeaderID: NullNodeID, nodes: make(map[NodeID]*Node)}
}

// SetLeader installs a new leader and term. The sequence restarts at zero;
// the first advisory of the term is (term, 1).
func (d *ClusterData) SetLeader(leaderID NodeID, term uint64) {
	d.LeaderID = leaderID
	d.term = term
	d.lastSeq = 0
}

func (d *ClusterData) Term() uint64 { return d.term }

// NextLSN allocates the next advisory sequence for the current term. Only
// the leader calls this, on the dispatcher goroutine.
func (d *ClusterData) NextLSN() ctrlmsg.LeaderMessageSequence {
	d.lastSeq++
	return ctrlmsg.LeaderMessageSequence{LeaderTerm: d.term, SequenceNumber: d.lastSeq}
}

func (d *ClusterData) AddNode(n *Node) { d.nodes[n.ID] = n }

func (d *ClusterData) Node(id NodeID) *Node {
	if id == NullNodeID {
		return nil
	}
	return d.nodes[id]
}

// Nodes returns the roster in ascending node-id order.
func (d *ClusterData) Nodes() []*Node {
	out := make([]*Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AvailableNodes returns the available subset, ascending by id.
func (d *ClusterData) AvailableNodes() []*Node {
	out := make([]*Node, 0, len(d.nodes))
	for _, n := range d.Nodes() {
		if n.Available {
			out = append(out, n)
		}
	}
	return out
}

func (d *ClusterData) IsLeader() bool { return d.SelfID == d.LeaderID }

// QueueState is a queue's position in its assignment lifecycle.
type QueueState int

const (
	QueueStateUnassigned QueueState = iota
	QueueStateAssigning
	QueueStateAssigned
	QueueStateUnassigning
)

func (s QueueState) String() string {
	switch s {
	case QueueStateAssigning:
		return "ASSIGNING"
	case QueueStateAssigned:
		return "ASSIGNED"
	case QueueStateUnassigning:
		return "UNASSIGNING"
	default:
		return "UNASSIGNED"
	}
}

// canTransition enforces the assignment cycle with no skipped steps:
// UNASSIGNED -> ASSIGNING -> ASSIGNED -> UNASSIGNING -> UNASSIGNED.
func (s QueueState) canTransition(to QueueState) bool {
	switch s {
	case QueueStateUnassigned:
		return to == QueueStateAssigning
	case QueueStateAssigning:
		return to == QueueStateAssigned
	case QueueStateAssigned:
		return to == QueueStateUnassigning
	case QueueStateUnassigning:
		return to == QueueStateUnassigned
	default:
		return false
	}
}

// URI is a parsed queue URI, "bmq://<domain>/<queue>".
type URI struct {
	Domain string
	Queue  string
}

const uriScheme = "bmq://"

func ParseURI(raw string) (URI, error) {
	rest, ok := strings.CutPrefix(raw, uriScheme)
	if !ok {
		return URI{}, fmt.Errorf("uri %q: missing %q scheme", raw, uriScheme)
	}
	domain, queue, ok := strings.Cut(rest, "/")
	if !ok || domain == "" || queue == "" {
		return URI{}, fmt.Errorf("uri %q: want bmq://<domain>/<queue>", raw)
	}
	return URI{Domain: domain, Queue: queue}, nil
}

func (u URI) String() string { return uriScheme + u.Domain + "/" + u.Queue }
