package graph

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wsdl-king/DataAgent/event"
	"github.com/wsdl-king/DataAgent/telemetry/trace"
)

// Executor drives one run through a compiled graph, one node at a time.
// Outputs are merged synchronously and the next hop is resolved before the
// following step; there is no speculative or parallel branch execution.
// An Executor holds no run state and is shared across concurrent runs.
type Executor struct {
	graph    *Graph
	maxSteps int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*ExecutorOptions)

// ExecutorOptions contains configuration options for creating an Executor.
type ExecutorOptions struct {
	// MaxSteps bounds the number of node executions per run to guard
	// against routing cycles (default: 100).
	MaxSteps int
}

// WithMaxSteps sets the maximum number of steps for graph execution.
func WithMaxSteps(maxSteps int) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.MaxSteps = maxSteps
	}
}

// NewExecutor creates a new graph executor for a compiled graph.
func NewExecutor(graph *Graph, opts ...ExecutorOption) (*Executor, error) {
	if graph == nil {
		return nil, errors.New("graph is nil")
	}
	options := ExecutorOptions{MaxSteps: 100}
	for _, opt := range opts {
		opt(&options)
	}
	return &Executor{
		graph:    graph,
		maxSteps: options.MaxSteps,
	}, nil
}

// Invocation carries the per-run context for a single Execute call.
type Invocation struct {
	// RunID identifies the run; stamped onto every emitted event.
	RunID string
	// StartNode is the node to enter the graph at. Empty means the graph
	// entry point; a resume call passes the previously suspended node.
	StartNode string
	// Emit receives progress and completion events as nodes finish. May be
	// nil when the caller does not stream.
	Emit func(*event.Event)
}

func (inv *Invocation) emit(e *event.Event) {
	if inv.Emit != nil {
		inv.Emit(e)
	}
}

// Result is the outcome of a non-failed Execute call.
type Result struct {
	// State is the state as of the last merged node output.
	State State
	// Interrupt is set when the run suspended awaiting human feedback. The
	// run is resumable at Interrupt.NodeID; no terminal event was emitted.
	Interrupt *InterruptError
}

// Interrupted reports whether the run suspended instead of completing.
func (r *Result) Interrupted() bool { return r.Interrupt != nil }

// Execute drives the graph from inv.StartNode (or the entry point) until
// the terminal marker, an interrupt, or an uncaught error. It emits one
// progress event per completed node and a completion event when End is
// reached. Uncaught errors are returned without a terminal event; the
// caller decides the error event's reason code.
func (e *Executor) Execute(ctx context.Context, initial State, inv *Invocation) (*Result, error) {
	if inv == nil {
		return nil, errors.New("invocation is nil")
	}
	ctx, span := trace.Tracer.Start(ctx, "execute_graph")
	defer span.End()
	span.SetAttributes(attribute.String("dataagent.run_id", inv.RunID))

	state := initial.Clone()
	current := inv.StartNode
	if current == "" {
		current = e.graph.EntryPoint()
	}
	if current == "" {
		return nil, errors.New("no entry point found")
	}

	var stepCount int
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		stepCount++
		if stepCount > e.maxSteps {
			return nil, fmt.Errorf("maximum execution steps (%d) exceeded", e.maxSteps)
		}
		if current == End {
			text, _ := state[StateKeyLastResponse].(string)
			inv.emit(event.NewCompletion(inv.RunID, text))
			return &Result{State: state}, nil
		}
		next, interrupt, err := e.executeNode(ctx, &state, current, inv, stepCount)
		if err != nil {
			return nil, err
		}
		if interrupt != nil {
			return &Result{State: state, Interrupt: interrupt}, nil
		}
		current = next
	}
}

// executeNode runs a single node, merges its output and resolves the next
// node id. A returned interrupt suspends the run at the current node.
func (e *Executor) executeNode(
	ctx context.Context,
	state *State,
	nodeID string,
	inv *Invocation,
	step int,
) (string, *InterruptError, error) {
	node, exists := e.graph.Node(nodeID)
	if !exists {
		return "", nil, fmt.Errorf("node %s not found", nodeID)
	}

	ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("execute_node %s", nodeID))
	defer span.End()
	span.SetAttributes(
		attribute.String("dataagent.node_id", nodeID),
		attribute.String("dataagent.run_id", inv.RunID),
	)

	var update State
	if node.Function != nil {
		var err error
		update, err = node.Function(ctx, (*state).Clone())
		if err != nil {
			if ie, ok := AsInterruptError(err); ok {
				ie.NodeID = nodeID
				ie.Step = step
				return "", ie, nil
			}
			span.SetAttributes(attribute.String("dataagent.error", err.Error()))
			return "", nil, &NodeExecutionError{Node: nodeID, Err: err}
		}
		if update != nil {
			*state = e.graph.Schema().ApplyUpdate(*state, update)
		}
	}

	// Progress text comes from the node's own update, never from merged
	// state, so a node that emits nothing stays silent downstream.
	text, _ := update[StateKeyNodeOutput].(string)
	inv.emit(event.NewProgress(inv.RunID, nodeID, text))

	next, err := e.selectNextNode(ctx, state, nodeID)
	if err == nil {
		span.SetAttributes(attribute.String("dataagent.next_node", next))
	}
	return next, nil, err
}

// selectNextNode resolves the next hop from static or conditional edges.
// A dispatcher's bundled state update is applied before routing so that
// counters and routing choices never disagree.
func (e *Executor) selectNextNode(ctx context.Context, state *State, currentNodeID string) (string, error) {
	if condEdge, exists := e.graph.ConditionalEdge(currentNodeID); exists {
		decision, err := condEdge.Condition(ctx, (*state).Clone())
		if err != nil {
			return "", fmt.Errorf("conditional edge evaluation failed at %s: %w", currentNodeID, err)
		}
		if decision == nil || decision.Route == "" {
			return "", &DispatchContractViolation{
				Node:   currentNodeID,
				Reason: "dispatcher returned no candidate",
			}
		}
		target, ok := condEdge.PathMap[decision.Route]
		if !ok {
			return "", &DispatchContractViolation{
				Node:   currentNodeID,
				Result: decision.Route,
				Reason: "result not in declared candidate set",
			}
		}
		if decision.Update != nil {
			*state = e.graph.Schema().ApplyUpdate(*state, decision.Update)
		}
		return target, nil
	}
	edges := e.graph.Edges(currentNodeID)
	if len(edges) == 0 {
		// No outgoing edges, assume the graph finishes here.
		return End, nil
	}
	return edges[0].To, nil
}
