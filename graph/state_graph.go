package graph

import (
	"fmt"
	"sort"
)

// StateGraph is the fluent builder for executable graphs.
//
// Example usage:
//
//	schema := NewStateSchema().AddField("counter", StateField{...})
//	g, err := NewStateGraph(schema).
//	  AddNode("step", stepFunc).
//	  SetEntryPoint("step").
//	  SetFinishPoint("step").
//	  Compile()
//
// The compiled Graph is then executed with NewExecutor(g).
type StateGraph struct {
	graph      *Graph
	violations []string
}

// NewStateGraph creates a new graph builder with the given state schema.
func NewStateGraph(schema *StateSchema) *StateGraph {
	return &StateGraph{graph: newGraph(schema)}
}

// Option configures a Node.
type Option func(*Node)

// WithName sets the display name of the node.
func WithName(name string) Option {
	return func(node *Node) {
		node.Name = name
	}
}

// WithDescription sets the description of the node.
func WithDescription(description string) Option {
	return func(node *Node) {
		node.Description = description
	}
}

// AddNode adds a node with the given ID and function.
func (sg *StateGraph) AddNode(id string, function NodeFunc, opts ...Option) *StateGraph {
	node := &Node{
		ID:       id,
		Name:     id,
		Function: function,
	}
	for _, opt := range opts {
		opt(node)
	}
	sg.violations = append(sg.violations, sg.graph.addNode(node)...)
	return sg
}

// AddEdge adds a static edge between two nodes. Targets are checked at
// compile time so that every violation is reported together.
func (sg *StateGraph) AddEdge(from, to string) *StateGraph {
	sg.graph.addEdge(&Edge{From: from, To: to})
	return sg
}

// AddConditionalEdges adds conditional routing from a node. The path map
// declares the closed candidate set; the condition must return one of its
// keys on every invocation.
func (sg *StateGraph) AddConditionalEdges(
	from string,
	condition ConditionalFunc,
	pathMap map[string]string,
) *StateGraph {
	sg.graph.addConditionalEdge(&ConditionalEdge{
		From:      from,
		Condition: condition,
		PathMap:   pathMap,
	})
	return sg
}

// SetEntryPoint sets the entry point of the graph. Equivalent to
// AddEdge(Start, nodeID).
func (sg *StateGraph) SetEntryPoint(nodeID string) *StateGraph {
	sg.graph.setEntryPoint(nodeID)
	sg.AddEdge(Start, nodeID)
	return sg
}

// SetFinishPoint adds an edge from the node to End.
func (sg *StateGraph) SetFinishPoint(nodeID string) *StateGraph {
	sg.AddEdge(nodeID, End)
	return sg
}

// Compile validates the graph and returns the immutable compiled form.
// Validation collects every violation before failing: unknown edge and
// path-map targets, a missing or unknown entry point, and nodes that are
// unreachable from the entry.
func (sg *StateGraph) Compile() (*Graph, error) {
	violations := append([]string{}, sg.violations...)
	violations = append(violations, sg.validateEdges()...)
	violations = append(violations, sg.validateEntry()...)
	violations = append(violations, sg.validateReachability()...)
	if len(violations) > 0 {
		return nil, &GraphValidationError{Violations: violations}
	}
	return sg.graph, nil
}

// MustCompile compiles the graph or panics if invalid.
func (sg *StateGraph) MustCompile() *Graph {
	g, err := sg.Compile()
	if err != nil {
		panic(err)
	}
	return g
}

func (sg *StateGraph) nodeExists(id string) bool {
	if id == Start || id == End {
		return true
	}
	_, ok := sg.graph.nodes[id]
	return ok
}

func (sg *StateGraph) validateEdges() []string {
	var violations []string
	for from, edges := range sg.graph.edges {
		if !sg.nodeExists(from) {
			violations = append(violations, fmt.Sprintf("edge source %s does not exist", from))
		}
		for _, e := range edges {
			if e.To == Start {
				violations = append(violations, fmt.Sprintf("edge %s -> %s targets the start marker", from, e.To))
				continue
			}
			if !sg.nodeExists(e.To) {
				violations = append(violations, fmt.Sprintf("edge %s -> %s targets undeclared node", from, e.To))
			}
		}
	}
	// Deterministic ordering for conditional edge violations.
	froms := make([]string, 0, len(sg.graph.conditionalEdges))
	for from := range sg.graph.conditionalEdges {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		ce := sg.graph.conditionalEdges[from]
		if !sg.nodeExists(from) {
			violations = append(violations, fmt.Sprintf("conditional edge source %s does not exist", from))
		}
		if ce.Condition == nil {
			violations = append(violations, fmt.Sprintf("conditional edge from %s has no condition", from))
		}
		if len(ce.PathMap) == 0 {
			violations = append(violations, fmt.Sprintf("conditional edge from %s has an empty path map", from))
		}
		keys := make([]string, 0, len(ce.PathMap))
		for k := range ce.PathMap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			to := ce.PathMap[k]
			if !sg.nodeExists(to) || to == Start {
				violations = append(violations, fmt.Sprintf("conditional edge from %s candidate %q targets undeclared node %s", from, k, to))
			}
		}
	}
	return violations
}

func (sg *StateGraph) validateEntry() []string {
	entry := sg.graph.entryPoint
	if entry == "" {
		return []string{"graph must have an entry point"}
	}
	if _, ok := sg.graph.nodes[entry]; !ok {
		return []string{fmt.Sprintf("entry point node %s does not exist", entry)}
	}
	return nil
}

func (sg *StateGraph) validateReachability() []string {
	entry := sg.graph.entryPoint
	if entry == "" {
		return nil
	}
	if _, ok := sg.graph.nodes[entry]; !ok {
		return nil
	}
	reached := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		var targets []string
		for _, e := range sg.graph.edges[cur] {
			targets = append(targets, e.To)
		}
		if ce, ok := sg.graph.conditionalEdges[cur]; ok {
			for _, to := range ce.PathMap {
				targets = append(targets, to)
			}
		}
		for _, to := range targets {
			if to == End || to == Start || reached[to] {
				continue
			}
			if _, ok := sg.graph.nodes[to]; !ok {
				continue
			}
			reached[to] = true
			queue = append(queue, to)
		}
	}
	var unreachable []string
	for id := range sg.graph.nodes {
		if !reached[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	violations := make([]string, 0, len(unreachable))
	for _, id := range unreachable {
		violations = append(violations, fmt.Sprintf("node %s is unreachable from entry point", id))
	}
	return violations
}
