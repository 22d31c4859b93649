// ABOUTME: Immutable graph model for pathway documents: typed nodes, ports, and ordered edges.
// ABOUTME: Loads the JSON node/edge document, checks integrity eagerly, and exposes lookup helpers.
package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// NodeType identifies the kind of work a node performs. The set is closed;
// the executor registry dispatches on it.
type NodeType string

const (
	NodeContent    NodeType = "content"
	NodeAIModel    NodeType = "ai-model"
	NodeAssessment NodeType = "assessment"
	NodeRouter     NodeType = "router"
	NodeLoop       NodeType = "loop"
	NodeParallel   NodeType = "parallel"
	NodeHumanInput NodeType = "human-input"
)

// PortDefault is the output port used by nodes with a single output.
const PortDefault = "out"

// Ports used by the multi-port constructs.
const (
	PortLoopBody     = "loop-body"
	PortLoopComplete = "loop-complete"
	PortBranchPrefix = "branch-" // parallel fan-out ports: branch-0, branch-1, ...
)

// Node is a typed unit of work with its type-specific configuration.
type Node struct {
	ID   string         `json:"id"`
	Type NodeType       `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Edge is a directed connection between two node ports. SourcePort defaults
// to "out" when omitted. Declaration order is significant: it is the
// deterministic tie-break for dispatch.
type Edge struct {
	ID         string `json:"id,omitempty"`
	Source     string `json:"source"`
	SourcePort string `json:"sourcePort,omitempty"`
	Target     string `json:"target"`
	TargetPort string `json:"targetPort,omitempty"`
}

// Graph is the immutable, validated pathway document. It is safe to share
// across concurrently executing runs.
type Graph struct {
	nodes   map[string]*Node
	edges   []*Edge
	entryID string

	outgoing map[string][]*Edge // source node id -> edges in declaration order
	incoming map[string][]*Edge // target node id -> edges in declaration order
}

// graphDoc is the wire shape accepted from the authoring collaborator.
type graphDoc struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
	Entry string  `json:"entry,omitempty"`
}

// validNodeTypes is the closed set accepted by LoadGraph.
var validNodeTypes = map[NodeType]bool{
	NodeContent:    true,
	NodeAIModel:    true,
	NodeAssessment: true,
	NodeRouter:     true,
	NodeLoop:       true,
	NodeParallel:   true,
	NodeHumanInput: true,
}

// LoadGraph parses a JSON pathway document and checks its integrity once,
// eagerly. All violations are reported as *GraphIntegrityError before any
// dispatch can happen.
func LoadGraph(data []byte) (*Graph, error) {
	var doc graphDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &GraphIntegrityError{Reason: fmt.Sprintf("malformed graph document: %v", err)}
	}
	return BuildGraph(doc.Nodes, doc.Edges, doc.Entry)
}

// BuildGraph assembles and validates a graph from already-decoded parts.
func BuildGraph(nodes []*Node, edges []*Edge, entry string) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, &GraphIntegrityError{Reason: "graph has no nodes"}
	}

	g := &Graph{
		nodes:    make(map[string]*Node, len(nodes)),
		edges:    make([]*Edge, 0, len(edges)),
		outgoing: make(map[string][]*Edge),
		incoming: make(map[string][]*Edge),
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, &GraphIntegrityError{Reason: "node with empty id"}
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, &GraphIntegrityError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		if !validNodeTypes[n.Type] {
			return nil, &GraphIntegrityError{Reason: fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type)}
		}
		g.nodes[n.ID] = n
	}

	for i, e := range edges {
		if e.Source == "" || e.Target == "" {
			return nil, &GraphIntegrityError{Reason: fmt.Sprintf("edge %d is missing an endpoint", i)}
		}
		src, ok := g.nodes[e.Source]
		if !ok {
			return nil, &GraphIntegrityError{Reason: fmt.Sprintf("edge references missing source node %q", e.Source)}
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, &GraphIntegrityError{Reason: fmt.Sprintf("edge references missing target node %q", e.Target)}
		}
		if e.SourcePort == "" {
			e.SourcePort = PortDefault
		}
		if err := checkPort(src, e.SourcePort); err != nil {
			return nil, err
		}
		g.edges = append(g.edges, e)
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}

	entryID, err := resolveEntry(g, entry)
	if err != nil {
		return nil, err
	}
	g.entryID = entryID

	if err := checkAcyclic(g); err != nil {
		return nil, err
	}

	return g, nil
}

// checkPort verifies that a source port is legal for the node's type.
// Router route ports cannot be checked against declared routes here without
// duplicating executor config parsing, so any named port is accepted for
// routers; the router executor fails a run that branches to an undeclared port.
func checkPort(n *Node, port string) error {
	switch n.Type {
	case NodeLoop:
		if port != PortLoopBody && port != PortLoopComplete && port != PortDefault {
			return &GraphIntegrityError{Reason: fmt.Sprintf("loop node %q has no port %q", n.ID, port)}
		}
	case NodeParallel:
		if port != PortDefault && !strings.HasPrefix(port, PortBranchPrefix) {
			return &GraphIntegrityError{Reason: fmt.Sprintf("parallel node %q has no port %q", n.ID, port)}
		}
	case NodeRouter:
		// any declared route id is a valid port
	default:
		if port != PortDefault {
			return &GraphIntegrityError{Reason: fmt.Sprintf("node %q (type %s) has no port %q", n.ID, n.Type, port)}
		}
	}
	return nil
}

// resolveEntry picks the run's entry node: the explicit entry field when set,
// otherwise the unique node with no incoming edges.
func resolveEntry(g *Graph, explicit string) (string, error) {
	if explicit != "" {
		if _, ok := g.nodes[explicit]; !ok {
			return "", &GraphIntegrityError{Reason: fmt.Sprintf("entry references missing node %q", explicit)}
		}
		return explicit, nil
	}

	var roots []string
	for _, id := range sortedNodeIDs(g) {
		if len(g.incoming[id]) == 0 {
			roots = append(roots, id)
		}
	}
	switch len(roots) {
	case 1:
		return roots[0], nil
	case 0:
		return "", &GraphIntegrityError{Reason: "no entry node: every node has incoming edges"}
	default:
		return "", &GraphIntegrityError{Reason: fmt.Sprintf("ambiguous entry: %d nodes have no incoming edges", len(roots))}
	}
}

// checkAcyclic rejects cycles that do not pass through a loop node's body
// region. The loop-body port is the only construct allowed to revisit a node,
// so edges out of that port are excluded from the cycle check.
func checkAcyclic(g *Graph) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return &GraphIntegrityError{Reason: fmt.Sprintf("cycle detected through node %q outside a loop body", id)}
		case done:
			return nil
		}
		state[id] = visiting
		for _, e := range g.outgoing[id] {
			if e.SourcePort == PortLoopBody {
				continue
			}
			if err := visit(e.Target); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, id := range sortedNodeIDs(g) {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// sortedNodeIDs returns node ids in a stable order for deterministic checks.
func sortedNodeIDs(g *Graph) []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EntryNode returns the node execution starts from.
func (g *Graph) EntryNode() *Node {
	return g.nodes[g.entryID]
}

// Node returns the node with the given id, or nil if not found.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// OutgoingEdges returns all edges originating from the given node id in
// declaration order.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	return g.outgoing[nodeID]
}

// OutgoingFromPort returns the edges leaving a specific port of a node in
// declaration order.
func (g *Graph) OutgoingFromPort(nodeID, port string) []*Edge {
	var result []*Edge
	for _, e := range g.outgoing[nodeID] {
		if e.SourcePort == port {
			result = append(result, e)
		}
	}
	return result
}

// IncomingEdges returns all edges terminating at the given node id in
// declaration order.
func (g *Graph) IncomingEdges(nodeID string) []*Edge {
	return g.incoming[nodeID]
}

// BranchPorts returns a parallel node's fan-out ports in index order
// (branch-0, branch-1, ...). Ports with no edges are skipped.
func (g *Graph) BranchPorts(nodeID string) []string {
	seen := make(map[string]bool)
	var ports []string
	for _, e := range g.outgoing[nodeID] {
		if strings.HasPrefix(e.SourcePort, PortBranchPrefix) && !seen[e.SourcePort] {
			seen[e.SourcePort] = true
			ports = append(ports, e.SourcePort)
		}
	}
	sort.Slice(ports, func(i, j int) bool {
		return branchIndex(ports[i]) < branchIndex(ports[j])
	})
	return ports
}

// branchIndex parses the numeric suffix of a branch-<i> port, defaulting to 0.
func branchIndex(port string) int {
	n := 0
	for _, r := range strings.TrimPrefix(port, PortBranchPrefix) {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
