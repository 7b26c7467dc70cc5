// Package graph provides the workflow execution engine: a compiled graph
// of nodes with static and conditional edges, a schema-governed state
// store, and an executor that drives one run at a time through the graph.
package graph

import (
	"context"
	"sync"
)

// Special node identifiers for graph routing.
const (
	// Start represents the virtual start node for routing.
	Start = "__start__"
	// End represents the terminal marker: routing to it completes the run.
	End = "__end__"
)

// NodeFunc executes one step of the workflow. It receives a snapshot of
// the current state and returns a partial update to merge, or an error.
// Node functions may be re-invoked with updated state after a retry
// decision, so they must be safe to call again.
type NodeFunc func(ctx context.Context, state State) (State, error)

// Decision is the result of a conditional edge: exactly one candidate key
// from the edge's declared set, plus an optional state update applied
// before routing. Bundling the update with the choice keeps control
// decisions and state (retry counters, step cursors) in agreement.
type Decision struct {
	Route  string
	Update State
}

// Goto routes to the given candidate with no state update.
func Goto(route string) *Decision {
	return &Decision{Route: route}
}

// GotoWith routes to the given candidate and applies the update first.
func GotoWith(route string, update State) *Decision {
	return &Decision{Route: route, Update: update}
}

// ConditionalFunc selects the next node after a conditional edge's source
// completes. Returning nil or a route outside the declared candidate set
// is a DispatchContractViolation.
type ConditionalFunc func(ctx context.Context, state State) (*Decision, error)

// Node is a single step of the workflow.
type Node struct {
	ID          string
	Name        string
	Description string
	Function    NodeFunc
}

// Edge is a static edge: From always proceeds to To.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes From's successor through a dispatcher. PathMap
// maps the dispatcher's candidate keys to target node ids (or End).
type ConditionalEdge struct {
	From      string
	Condition ConditionalFunc
	PathMap   map[string]string
}

// Graph is the compiled, immutable runtime structure produced by
// StateGraph.Compile. It holds no run state and is safely shared across
// concurrent runs.
type Graph struct {
	mu               sync.RWMutex
	schema           *StateSchema
	nodes            map[string]*Node
	edges            map[string][]*Edge
	conditionalEdges map[string]*ConditionalEdge
	entryPoint       string
}

func newGraph(schema *StateSchema) *Graph {
	if schema == nil {
		schema = NewStateSchema()
	}
	return &Graph{
		schema:           schema,
		nodes:            make(map[string]*Node),
		edges:            make(map[string][]*Edge),
		conditionalEdges: make(map[string]*ConditionalEdge),
	}
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, exists := g.nodes[id]
	return node, exists
}

// Edges returns all outgoing static edges from a node.
func (g *Graph) Edges(nodeID string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[nodeID]
}

// ConditionalEdge returns the conditional edge out of a node.
func (g *Graph) ConditionalEdge(nodeID string) (*ConditionalEdge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edge, exists := g.conditionalEdges[nodeID]
	return edge, exists
}

// EntryPoint returns the entry point node ID.
func (g *Graph) EntryPoint() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entryPoint
}

// Schema returns the state schema.
func (g *Graph) Schema() *StateSchema {
	return g.schema
}

func (g *Graph) addNode(node *Node) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var violations []string
	if node.ID == "" {
		violations = append(violations, "node ID cannot be empty")
		return violations
	}
	if node.ID == Start || node.ID == End {
		violations = append(violations, "node ID "+node.ID+" is reserved")
		return violations
	}
	if _, exists := g.nodes[node.ID]; exists {
		violations = append(violations, "node "+node.ID+" already declared")
		return violations
	}
	g.nodes[node.ID] = node
	return nil
}

func (g *Graph) addEdge(edge *Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[edge.From] = append(g.edges[edge.From], edge)
}

func (g *Graph) addConditionalEdge(condEdge *ConditionalEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conditionalEdges[condEdge.From] = condEdge
}

func (g *Graph) setEntryPoint(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entryPoint = nodeID
}
