package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsdl-king/DataAgent/codeexecutor"
	"github.com/wsdl-king/DataAgent/event"
	"github.com/wsdl-king/DataAgent/runner"
)

// fakeModel answers by system prompt so one instance scripts the whole
// pipeline. Counters record how often each generator ran.
type fakeModel struct {
	mu           sync.Mutex
	planOutputs  []string
	sqlOutput    string
	pythonOutput string

	planCalls  int
	sqlCalls   int
	lastPlanIn string
	lastSQLIn  string
}

func (m *fakeModel) Generate(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch system {
	case plannerSystemPrompt:
		out := m.planOutputs[0]
		if len(m.planOutputs) > 1 {
			m.planOutputs = m.planOutputs[1:]
		}
		m.planCalls++
		m.lastPlanIn = user
		return out, nil
	case sqlSystemPrompt:
		m.sqlCalls++
		m.lastSQLIn = user
		return m.sqlOutput, nil
	case pythonSystemPrompt:
		return m.pythonOutput, nil
	case summarySystemPrompt:
		return "Revenue is concentrated in the north region.", nil
	}
	return "", fmt.Errorf("unexpected system prompt")
}

func (m *fakeModel) counts() (plans, sqls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.planCalls, m.sqlCalls
}

type fakeRetriever struct {
	entries []string
	err     error
}

func (r *fakeRetriever) Retrieve(ctx context.Context, agentID, query string) ([]string, error) {
	return r.entries, r.err
}

type fakeSQL struct {
	mu     sync.Mutex
	result *SQLResult
	errs   []error
	calls  int
}

func (s *fakeSQL) Query(ctx context.Context, agentID, sql string) (*SQLResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.result, nil
}

func (s *fakeSQL) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeCode struct {
	result codeexecutor.Result
}

func (c *fakeCode) Execute(ctx context.Context, spec codeexecutor.Execution) (codeexecutor.Result, error) {
	return c.result, nil
}

// plainRenderer skips goldmark so assertions see raw markdown.
type plainRenderer struct{}

func (plainRenderer) Render(markdown string, plain bool) (string, error) {
	return markdown, nil
}

const (
	sqlOnlyPlan = `{"thought":"one query suffices","steps":[{"type":"sql","goal":"total per region"}]}`
	mixedPlan   = `{"steps":[{"type":"sql","goal":"fetch orders"},{"type":"python","goal":"compute trend"}]}`
)

func defaultFakes() (*fakeModel, *fakeRetriever, *fakeSQL, *fakeCode) {
	model := &fakeModel{
		planOutputs:  []string{sqlOnlyPlan},
		sqlOutput:    "```sql\nSELECT region, SUM(amount) FROM orders GROUP BY region\n```",
		pythonOutput: "```python\nprint('trend: up')\n```",
	}
	retriever := &fakeRetriever{entries: []string{"table orders(region varchar, amount decimal)"}}
	sql := &fakeSQL{result: &SQLResult{
		Columns: []string{"region", "total"},
		Rows:    [][]string{{"north", "100"}},
	}}
	code := &fakeCode{result: codeexecutor.Result{Output: "trend: up\n"}}
	return model, retriever, sql, code
}

func newTestService(t *testing.T, model *fakeModel, retriever *fakeRetriever, sql *fakeSQL, code *fakeCode, opts ...BuildOption) *Service {
	t.Helper()
	svc, err := NewService(Deps{
		Model:     model,
		Retriever: retriever,
		SQL:       sql,
		Code:      code,
		Renderer:  plainRenderer{},
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func collectEvents(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var out []*event.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("timed out collecting events")
		}
	}
}

func kinds(events []*event.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func waitAwaitingFeedback(t *testing.T, svc *Service, runID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if run, err := svc.Runner.Run(runID); err == nil &&
			run.Status() == runner.StatusAwaitingFeedback {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never suspended for feedback")
}

func TestRunHappyPathSQLOnly(t *testing.T) {
	model, retriever, sql, code := defaultFakes()
	svc := newTestService(t, model, retriever, sql, code)

	_, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID: "agent-1",
		Query:   "total revenue per region",
	})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	require.NotEmpty(t, events)
	assert.Equal(t, []string{
		NodeRetrieval, NodePlanner, NodeSQLGenerate, NodeSQLExecute,
		NodeReport, event.KindComplete,
	}, kinds(events))

	final := events[len(events)-1]
	assert.Contains(t, final.Text, "# total revenue per region")
	assert.Contains(t, final.Text, "| north | 100 |")
	assert.Contains(t, final.Text, "Revenue is concentrated")
}

func TestRunMixedPlanRunsPython(t *testing.T) {
	model, retriever, sql, code := defaultFakes()
	model.planOutputs = []string{mixedPlan}
	svc := newTestService(t, model, retriever, sql, code)

	_, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID: "agent-1",
		Query:   "order trend",
	})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	assert.Equal(t, []string{
		NodeRetrieval, NodePlanner, NodeSQLGenerate, NodeSQLExecute,
		NodePythonGenerate, NodePythonExecute, NodeReport, event.KindComplete,
	}, kinds(events))

	final := events[len(events)-1]
	assert.Contains(t, final.Text, "trend: up")
}

func TestRunAnalysisOnlyStopsAfterSQL(t *testing.T) {
	model, retriever, sql, code := defaultFakes()
	svc := newTestService(t, model, retriever, sql, code)

	_, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID:      "agent-1",
		Query:        "total revenue per region",
		AnalysisOnly: true,
	})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	assert.Equal(t, []string{
		NodeRetrieval, NodePlanner, NodeSQLGenerate, NodeSQLExecute,
		event.KindComplete,
	}, kinds(events))

	final := events[len(events)-1]
	assert.Contains(t, final.Text, "SELECT region")
	assert.Contains(t, final.Text, "| north | 100 |")
}

func TestRunSQLRetryExhaustion(t *testing.T) {
	model, retriever, sql, code := defaultFakes()
	sql.errs = []error{
		fmt.Errorf("syntax error near GROUP"),
		fmt.Errorf("syntax error near GROUP"),
		fmt.Errorf("syntax error near GROUP"),
		fmt.Errorf("syntax error near GROUP"),
	}
	svc := newTestService(t, model, retriever, sql, code, WithMaxSQLRetries(2))

	_, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID: "agent-1",
		Query:   "total revenue per region",
	})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	final := events[len(events)-1]
	assert.Equal(t, event.KindError, final.Kind)
	assert.Equal(t, event.CodeRetryExhausted, final.Code)
	assert.Contains(t, final.Text, NodeSQLExecute)

	// Initial attempt plus exactly two retries, never a fourth.
	assert.Equal(t, 3, sql.callCount())
	_, sqls := model.counts()
	assert.Equal(t, 3, sqls)
}

func TestRunSQLRetryRecovers(t *testing.T) {
	model, retriever, sql, code := defaultFakes()
	sql.errs = []error{fmt.Errorf("timeout"), nil}
	svc := newTestService(t, model, retriever, sql, code, WithMaxSQLRetries(2))

	_, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID: "agent-1",
		Query:   "total revenue per region",
	})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	assert.Equal(t, event.KindComplete, events[len(events)-1].Kind)
	assert.Equal(t, 2, sql.callCount())
	// The regeneration prompt carried the execution error.
	model.mu.Lock()
	lastSQLIn := model.lastSQLIn
	model.mu.Unlock()
	assert.Contains(t, lastSQLIn, "timeout")
}

func TestRunRetrievalFailureFailsRun(t *testing.T) {
	model, _, sql, code := defaultFakes()
	svc := newTestService(t, model, &fakeRetriever{err: fmt.Errorf("index offline")}, sql, code)

	_, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID: "agent-1",
		Query:   "anything",
	})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	final := events[len(events)-1]
	assert.Equal(t, event.KindError, final.Kind)
	assert.Contains(t, final.Text, NodeRetrieval)
}

func TestRunFeedbackApproval(t *testing.T) {
	model, retriever, sql, code := defaultFakes()
	svc := newTestService(t, model, retriever, sql, code)

	runID, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID:       "agent-1",
		Query:         "total revenue per region",
		ReviewEnabled: true,
	})
	require.NoError(t, err)
	waitAwaitingFeedback(t, svc, runID)

	approved := true
	_, ch2, err := svc.Submit(context.Background(), runner.Request{
		RunID:            runID,
		FeedbackApproved: &approved,
	})
	require.NoError(t, err)
	// The resume replaced the first subscriber; its channel closed without
	// a terminal event.
	collectEvents(t, ch)
	events := collectEvents(t, ch2)

	assert.Equal(t, event.KindComplete, events[len(events)-1].Kind)
	plans, _ := model.counts()
	assert.Equal(t, 1, plans)
}

func TestRunFeedbackRejectionReplans(t *testing.T) {
	model, retriever, sql, code := defaultFakes()
	model.planOutputs = []string{sqlOnlyPlan, sqlOnlyPlan}
	svc := newTestService(t, model, retriever, sql, code)

	runID, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID:       "agent-1",
		Query:         "total revenue per region",
		ReviewEnabled: true,
	})
	require.NoError(t, err)
	waitAwaitingFeedback(t, svc, runID)

	rejected := false
	_, ch2, err := svc.Submit(context.Background(), runner.Request{
		RunID:            runID,
		FeedbackApproved: &rejected,
		FeedbackContent:  "group by month instead",
	})
	require.NoError(t, err)
	collectEvents(t, ch)
	waitAwaitingFeedback(t, svc, runID)

	// The revised plan reached the reviewer again, with the rejection
	// reason folded into the planner prompt.
	plans, _ := model.counts()
	assert.Equal(t, 2, plans)
	model.mu.Lock()
	lastPlanIn := model.lastPlanIn
	model.mu.Unlock()
	assert.Contains(t, lastPlanIn, "group by month instead")

	approved := true
	_, ch3, err := svc.Submit(context.Background(), runner.Request{
		RunID:            runID,
		FeedbackApproved: &approved,
	})
	require.NoError(t, err)
	collectEvents(t, ch2)
	events := collectEvents(t, ch3)
	assert.Equal(t, event.KindComplete, events[len(events)-1].Kind)
}

func TestRunFeedbackRejectionExhaustsRepairs(t *testing.T) {
	model, retriever, sql, code := defaultFakes()
	model.planOutputs = []string{sqlOnlyPlan, sqlOnlyPlan}
	svc := newTestService(t, model, retriever, sql, code, WithMaxPlanRepairs(1))

	runID, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID:       "agent-1",
		Query:         "total revenue per region",
		ReviewEnabled: true,
	})
	require.NoError(t, err)
	waitAwaitingFeedback(t, svc, runID)

	rejected := false
	_, ch2, err := svc.Submit(context.Background(), runner.Request{
		RunID:            runID,
		FeedbackApproved: &rejected,
		FeedbackContent:  "wrong tables",
	})
	require.NoError(t, err)
	collectEvents(t, ch)
	waitAwaitingFeedback(t, svc, runID)

	_, ch3, err := svc.Submit(context.Background(), runner.Request{
		RunID:            runID,
		FeedbackApproved: &rejected,
		FeedbackContent:  "still wrong",
	})
	require.NoError(t, err)
	collectEvents(t, ch2)
	events := collectEvents(t, ch3)

	final := events[len(events)-1]
	assert.Equal(t, event.KindError, final.Kind)
	assert.Equal(t, event.CodeRetryExhausted, final.Code)
}

func TestRunPlannerGibberishRetriesThenFails(t *testing.T) {
	model, retriever, sql, code := defaultFakes()
	model.planOutputs = []string{"not json at all"}
	svc := newTestService(t, model, retriever, sql, code, WithMaxPlannerRetries(1))

	_, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID: "agent-1",
		Query:   "anything",
	})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	final := events[len(events)-1]
	assert.Equal(t, event.KindError, final.Kind)
	assert.Equal(t, event.CodeRetryExhausted, final.Code)
	plans, _ := model.counts()
	assert.Equal(t, 2, plans)
}

func TestBuildRejectsMissingCollaborators(t *testing.T) {
	_, err := Build(Deps{})
	require.Error(t, err)
}

func TestSeedAndInjectFeedback(t *testing.T) {
	state := Seed(runner.Request{
		AgentID:       "agent-1",
		Query:         "q",
		ReviewEnabled: true,
		AnalysisOnly:  true,
		PlainReport:   true,
	})
	assert.Equal(t, "agent-1", state[StateKeyAgentID])
	assert.Equal(t, true, state[StateKeyReviewEnabled])
	assert.Equal(t, true, state[StateKeyAnalysisOnly])

	next := InjectFeedback(state, false, "redo it")
	fb, ok := next[StateKeyFeedback].(*Feedback)
	require.True(t, ok)
	assert.False(t, fb.Approved)
	assert.Equal(t, "redo it", fb.Content)
	// The original state is untouched.
	_, ok = state[StateKeyFeedback]
	assert.False(t, ok)
}

func TestStepResultsAccumulateAcrossSteps(t *testing.T) {
	model, retriever, sql, code := defaultFakes()
	model.planOutputs = []string{mixedPlan}
	svc := newTestService(t, model, retriever, sql, code)

	_, ch, err := svc.Submit(context.Background(), runner.Request{
		AgentID: "agent-1",
		Query:   "order trend",
	})
	require.NoError(t, err)
	events := collectEvents(t, ch)

	final := events[len(events)-1]
	require.Equal(t, event.KindComplete, final.Kind)
	assert.Contains(t, final.Text, "## Step 1: fetch orders")
	assert.Contains(t, final.Text, "## Step 2: compute trend")
}
