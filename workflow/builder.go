// Package workflow assembles the data-analysis graph: knowledge retrieval,
// LLM planning with optional human review, SQL and Python execution steps,
// and report rendering.
package workflow

import (
	"context"
	"fmt"

	"github.com/wsdl-king/DataAgent/codeexecutor"
	"github.com/wsdl-king/DataAgent/event"
	"github.com/wsdl-king/DataAgent/graph"
	"github.com/wsdl-king/DataAgent/model"
	"github.com/wsdl-king/DataAgent/report"
	"github.com/wsdl-king/DataAgent/runner"
	"github.com/wsdl-king/DataAgent/stream"
)

// Deps are the external collaborators every run shares.
type Deps struct {
	Model     model.ChatModel
	Retriever KnowledgeRetriever
	SQL       SQLExecutor
	Code      codeexecutor.Executor
	Renderer  report.Renderer
}

type config struct {
	maxPlannerRetries int
	maxPlanRepairs    int
	maxSQLRetries     int
	maxPythonRetries  int
	poolSize          int
}

// BuildOption configures the workflow graph.
type BuildOption func(*config)

// WithMaxPlannerRetries bounds planner regeneration after unparseable output.
func WithMaxPlannerRetries(n int) BuildOption {
	return func(c *config) { c.maxPlannerRetries = n }
}

// WithMaxPlanRepairs bounds plan revisions after reviewer rejection.
func WithMaxPlanRepairs(n int) BuildOption {
	return func(c *config) { c.maxPlanRepairs = n }
}

// WithMaxSQLRetries bounds SQL regeneration after execution failure.
func WithMaxSQLRetries(n int) BuildOption {
	return func(c *config) { c.maxSQLRetries = n }
}

// WithMaxPythonRetries bounds script regeneration after execution failure.
func WithMaxPythonRetries(n int) BuildOption {
	return func(c *config) { c.maxPythonRetries = n }
}

// WithPoolSize sets the bounded I/O pool size shared by all runs.
func WithPoolSize(n int) BuildOption {
	return func(c *config) { c.poolSize = n }
}

// Build compiles the analysis graph around the given collaborators.
func Build(deps Deps, opts ...BuildOption) (*graph.Graph, error) {
	if deps.Model == nil || deps.Retriever == nil || deps.SQL == nil ||
		deps.Code == nil || deps.Renderer == nil {
		return nil, fmt.Errorf("workflow: all collaborators must be set")
	}
	cfg := &config{
		maxPlannerRetries: 2,
		maxPlanRepairs:    2,
		maxSQLRetries:     2,
		maxPythonRetries:  2,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	pool, err := NewIOPool(cfg.poolSize)
	if err != nil {
		return nil, fmt.Errorf("workflow: create pool: %w", err)
	}
	return graph.NewStateGraph(Schema()).
		AddNode(NodeRetrieval, newRetrievalNode(deps.Retriever, pool),
			graph.WithName("Knowledge recall")).
		AddNode(NodePlanner, newPlannerNode(deps.Model, pool),
			graph.WithName("Plan generation")).
		AddNode(NodeFeedbackGate, newFeedbackGateNode(),
			graph.WithName("Plan review")).
		AddNode(NodePlanRouter, newPlanRouterNode()).
		AddNode(NodeSQLGenerate, newSQLGenerateNode(deps.Model, pool),
			graph.WithName("SQL generation")).
		AddNode(NodeSQLExecute, newSQLExecuteNode(deps.SQL, pool),
			graph.WithName("SQL execution")).
		AddNode(NodePythonGenerate, newPythonGenerateNode(deps.Model, pool),
			graph.WithName("Analysis script generation")).
		AddNode(NodePythonExecute, newPythonExecuteNode(deps.Code, pool),
			graph.WithName("Analysis script execution")).
		AddNode(NodeReport, newReportNode(deps.Model, deps.Renderer, pool),
			graph.WithName("Report rendering")).
		AddNode(NodeFail, newFailNode()).
		SetEntryPoint(NodeRetrieval).
		AddConditionalEdges(NodeRetrieval, dispatchAfterRetrieval(), map[string]string{
			CandidateContinue: NodePlanner,
			CandidateFail:     NodeFail,
		}).
		AddConditionalEdges(NodePlanner, dispatchAfterPlanner(cfg.maxPlannerRetries), map[string]string{
			CandidateFeedback: NodeFeedbackGate,
			CandidateContinue: NodePlanRouter,
			CandidateRetry:    NodePlanner,
			CandidateFail:     NodeFail,
		}).
		AddConditionalEdges(NodeFeedbackGate, dispatchAfterFeedback(cfg.maxPlanRepairs), map[string]string{
			CandidateContinue: NodePlanRouter,
			CandidateReplan:   NodePlanner,
			CandidateFail:     NodeFail,
		}).
		AddConditionalEdges(NodePlanRouter, dispatchPlanStep(), map[string]string{
			CandidateSQL:    NodeSQLGenerate,
			CandidatePython: NodePythonGenerate,
			CandidateReport: NodeReport,
			CandidateFinish: graph.End,
		}).
		AddEdge(NodeSQLGenerate, NodeSQLExecute).
		AddConditionalEdges(NodeSQLExecute, dispatchAfterSQLExecute(cfg.maxSQLRetries), map[string]string{
			CandidateContinue: NodePlanRouter,
			CandidateRetry:    NodeSQLGenerate,
			CandidateFinish:   graph.End,
			CandidateFail:     NodeFail,
		}).
		AddEdge(NodePythonGenerate, NodePythonExecute).
		AddConditionalEdges(NodePythonExecute, dispatchAfterPythonExecute(cfg.maxPythonRetries), map[string]string{
			CandidateContinue: NodePlanRouter,
			CandidateRetry:    NodePythonGenerate,
			CandidateFail:     NodeFail,
		}).
		SetFinishPoint(NodeReport).
		Compile()
}

// Seed builds the initial run state from a request.
func Seed(req runner.Request) graph.State {
	return graph.State{
		StateKeyAgentID:       req.AgentID,
		StateKeyQuery:         req.Query,
		StateKeyReviewEnabled: req.ReviewEnabled,
		StateKeyAnalysisOnly:  req.AnalysisOnly,
		StateKeyPlainReport:   req.PlainReport,
	}
}

// InjectFeedback records the review decision for a suspended run.
func InjectFeedback(state graph.State, approved bool, content string) graph.State {
	next := state.Clone()
	next[StateKeyFeedback] = &Feedback{Approved: approved, Content: content}
	return next
}

// Service bundles the compiled graph with its executor, stream multiplexer
// and runner, ready to serve requests.
type Service struct {
	Graph  *graph.Graph
	Runner *runner.Runner
	Mux    *stream.Multiplexer
}

// NewService builds the graph and wires the run machinery around it.
func NewService(deps Deps, opts ...BuildOption) (*Service, error) {
	g, err := Build(deps, opts...)
	if err != nil {
		return nil, err
	}
	mux := stream.NewMultiplexer()
	exec, err := graph.NewExecutor(g)
	if err != nil {
		return nil, err
	}
	return &Service{
		Graph:  g,
		Runner: runner.New(exec, mux, Seed, InjectFeedback),
		Mux:    mux,
	}, nil
}

// Submit starts or resumes a run.
func (s *Service) Submit(ctx context.Context, req runner.Request) (string, <-chan *event.Event, error) {
	return s.Runner.Submit(ctx, req)
}

// Cancel stops a live run.
func (s *Service) Cancel(runID string) error {
	return s.Runner.Cancel(runID)
}

// Close stops the runner's background janitor.
func (s *Service) Close() {
	s.Runner.Close()
}
