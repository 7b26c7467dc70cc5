package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wsdl-king/DataAgent/codeexecutor"
	"github.com/wsdl-king/DataAgent/graph"
	"github.com/wsdl-king/DataAgent/log"
	"github.com/wsdl-king/DataAgent/model"
	"github.com/wsdl-king/DataAgent/report"
)

// Feedback is the recorded human review decision for a generated plan.
type Feedback struct {
	Approved bool
	Content  string
}

// Node executors. Each consumes a read-only state snapshot and returns a
// partial update; failures that a dispatcher should route (retry vs
// terminal) are encoded into state instead of returned as errors. Control
// metadata (counters, the step cursor) is written by dispatchers only.

func newRetrievalNode(retriever KnowledgeRetriever, pool *IOPool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		agentID := stringOf(state, StateKeyAgentID)
		query := stringOf(state, StateKeyQuery)
		var evidence []string
		var err error
		if perr := pool.Do(ctx, func() {
			evidence, err = retriever.Retrieve(ctx, agentID, query)
		}); perr != nil {
			return nil, perr
		}
		if err != nil {
			log.Warnf("knowledge retrieval failed for agent %s: %v", agentID, err)
			return graph.State{StateKeyEvidence: []string{}}, nil
		}
		return graph.State{
			StateKeyEvidence:         evidence,
			graph.StateKeyNodeOutput: fmt.Sprintf("Recalled %d knowledge entries", len(evidence)),
		}, nil
	}
}

func newPlannerNode(chat model.ChatModel, pool *IOPool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		user := plannerUserPrompt(state)
		var raw string
		var err error
		if perr := pool.Do(ctx, func() {
			raw, err = chat.Generate(ctx, plannerSystemPrompt, user)
		}); perr != nil {
			return nil, perr
		}
		if err != nil {
			return graph.State{
				StateKeyPlan:         (*Plan)(nil),
				StateKeyPlannerError: err.Error(),
			}, nil
		}
		plan, err := ParsePlan(raw)
		if err != nil {
			return graph.State{
				StateKeyPlan:         (*Plan)(nil),
				StateKeyPlannerError: err.Error(),
			}, nil
		}
		return graph.State{
			StateKeyPlan:             plan,
			StateKeyPlannerError:     "",
			graph.StateKeyNodeOutput: plan.Summary(),
		}, nil
	}
}

func plannerUserPrompt(state graph.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", stringOf(state, StateKeyQuery))
	if evidence, ok := state[StateKeyEvidence].([]string); ok && len(evidence) > 0 {
		b.WriteString("\nKnowledge:\n")
		for _, e := range evidence {
			b.WriteString("- " + e + "\n")
		}
	}
	if hint := stringOf(state, StateKeyRepairHint); hint != "" {
		fmt.Fprintf(&b, "\nThe previous plan was rejected by the reviewer: %s\n", hint)
		if plan, ok := state[StateKeyPlan].(*Plan); ok && plan != nil {
			fmt.Fprintf(&b, "Previous plan was:\n%s\n", plan.Summary())
		}
		b.WriteString("Produce a revised plan that addresses the feedback.\n")
	}
	return b.String()
}

// newFeedbackGateNode suspends the run for human review. It interrupts
// when review is enabled and no decision has been recorded yet; a resume
// request injects the decision and re-enters the graph at this node.
func newFeedbackGateNode() graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		if !boolOf(state, StateKeyReviewEnabled) {
			return graph.State{}, nil
		}
		if fb, ok := state[StateKeyFeedback].(*Feedback); ok && fb != nil {
			return graph.State{}, nil
		}
		summary := "plan awaiting review"
		if plan, ok := state[StateKeyPlan].(*Plan); ok && plan != nil {
			summary = plan.Summary()
		}
		return nil, graph.NewInterruptError(summary)
	}
}

// newPlanRouterNode is a pass-through: the routing itself lives in the
// plan-step dispatcher on its conditional edge.
func newPlanRouterNode() graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		return graph.State{}, nil
	}
}

func newSQLGenerateNode(chat model.ChatModel, pool *IOPool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		user := sqlUserPrompt(state)
		var raw string
		var err error
		if perr := pool.Do(ctx, func() {
			raw, err = chat.Generate(ctx, sqlSystemPrompt, user)
		}); perr != nil {
			return nil, perr
		}
		if err != nil {
			return graph.State{
				StateKeySQL:      "",
				StateKeySQLError: err.Error(),
			}, nil
		}
		sql := codeexecutor.ExtractCode(raw, "sql")
		return graph.State{
			StateKeySQL:              sql,
			graph.StateKeyNodeOutput: "Generated SQL:\n" + sql,
		}, nil
	}
}

func sqlUserPrompt(state graph.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", stringOf(state, StateKeyQuery))
	if evidence, ok := state[StateKeyEvidence].([]string); ok && len(evidence) > 0 {
		b.WriteString("\nKnowledge:\n")
		for _, e := range evidence {
			b.WriteString("- " + e + "\n")
		}
	}
	if goal := currentStepGoal(state); goal != "" {
		fmt.Fprintf(&b, "\nStep goal: %s\n", goal)
	}
	if sqlErr := stringOf(state, StateKeySQLError); sqlErr != "" {
		prev := stringOf(state, StateKeySQL)
		fmt.Fprintf(&b, "\nA previous attempt failed.\nSQL: %s\nError: %s\nFix it.\n", prev, sqlErr)
	}
	return b.String()
}

func newSQLExecuteNode(executor SQLExecutor, pool *IOPool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		sql := stringOf(state, StateKeySQL)
		if sql == "" {
			reason := stringOf(state, StateKeySQLError)
			if reason == "" {
				reason = "generator produced no SQL"
			}
			return graph.State{
				StateKeySQLSuccess:  false,
				StateKeySQLError:    reason,
				StateKeyFailedStage: NodeSQLGenerate,
			}, nil
		}
		agentID := stringOf(state, StateKeyAgentID)
		var result *SQLResult
		var err error
		if perr := pool.Do(ctx, func() {
			result, err = executor.Query(ctx, agentID, sql)
		}); perr != nil {
			return nil, perr
		}
		if err != nil {
			return graph.State{
				StateKeySQLSuccess:  false,
				StateKeySQLError:    err.Error(),
				StateKeyFailedStage: NodeSQLExecute,
			}, nil
		}
		results := appendStepResult(state, StepResult{
			Step:   intOf(state, StateKeyPlanStepIndex) + 1,
			Type:   StepTypeSQL,
			Goal:   currentStepGoal(state),
			SQL:    sql,
			Result: result,
		})
		preview := result.Markdown(20)
		update := graph.State{
			StateKeySQLSuccess:       true,
			StateKeySQLError:         "",
			StateKeySQLResult:        result,
			StateKeyStepResults:      results,
			graph.StateKeyNodeOutput: preview,
		}
		if boolOf(state, StateKeyAnalysisOnly) {
			update[graph.StateKeyLastResponse] = "```sql\n" + sql + "\n```\n\n" + preview
		}
		return update, nil
	}
}

func newPythonGenerateNode(chat model.ChatModel, pool *IOPool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		user := pythonUserPrompt(state)
		var raw string
		var err error
		if perr := pool.Do(ctx, func() {
			raw, err = chat.Generate(ctx, pythonSystemPrompt, user)
		}); perr != nil {
			return nil, perr
		}
		if err != nil {
			return graph.State{
				StateKeyPython:      "",
				StateKeyPythonError: err.Error(),
			}, nil
		}
		code := codeexecutor.ExtractCode(raw, codeexecutor.LanguagePython)
		return graph.State{
			StateKeyPython:           code,
			graph.StateKeyNodeOutput: "Generated analysis script (" + fmt.Sprint(len(code)) + " bytes)",
		}, nil
	}
}

func pythonUserPrompt(state graph.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", stringOf(state, StateKeyQuery))
	if goal := currentStepGoal(state); goal != "" {
		fmt.Fprintf(&b, "Step goal: %s\n", goal)
	}
	if result, ok := state[StateKeySQLResult].(*SQLResult); ok && result != nil {
		fmt.Fprintf(&b, "\nThe stdin payload is:\n%s\n", result.JSON())
	}
	if pyErr := stringOf(state, StateKeyPythonError); pyErr != "" {
		prev := stringOf(state, StateKeyPython)
		fmt.Fprintf(&b, "\nA previous attempt failed.\nScript:\n%s\nError: %s\nFix it.\n", prev, pyErr)
	}
	return b.String()
}

func newPythonExecuteNode(executor codeexecutor.Executor, pool *IOPool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		code := stringOf(state, StateKeyPython)
		if code == "" {
			reason := stringOf(state, StateKeyPythonError)
			if reason == "" {
				reason = "generator produced no script"
			}
			return graph.State{
				StateKeyPythonSuccess: false,
				StateKeyPythonError:   reason,
				StateKeyFailedStage:   NodePythonGenerate,
			}, nil
		}
		input := "{}"
		if result, ok := state[StateKeySQLResult].(*SQLResult); ok && result != nil {
			input = result.JSON()
		}
		var res codeexecutor.Result
		var err error
		if perr := pool.Do(ctx, func() {
			res, err = executor.Execute(ctx, codeexecutor.Execution{
				Script:      code,
				Language:    codeexecutor.LanguagePython,
				ExecutionID: uuid.NewString(),
				Input:       input,
			})
		}); perr != nil {
			return nil, perr
		}
		if err != nil {
			return graph.State{
				StateKeyPythonSuccess: false,
				StateKeyPythonError:   err.Error(),
				StateKeyFailedStage:   NodePythonExecute,
			}, nil
		}
		if !res.Succeeded() {
			reason := strings.TrimSpace(res.Stderr)
			if reason == "" {
				reason = fmt.Sprintf("script exited with code %d", res.ExitCode)
			}
			return graph.State{
				StateKeyPythonSuccess: false,
				StateKeyPythonError:   reason,
				StateKeyFailedStage:   NodePythonExecute,
			}, nil
		}
		output := strings.TrimSpace(res.Output)
		results := appendStepResult(state, StepResult{
			Step:   intOf(state, StateKeyPlanStepIndex) + 1,
			Type:   StepTypePython,
			Goal:   currentStepGoal(state),
			Output: output,
		})
		return graph.State{
			StateKeyPythonSuccess:    true,
			StateKeyPythonError:      "",
			StateKeyPythonResult:     output,
			StateKeyStepResults:      results,
			graph.StateKeyNodeOutput: output,
		}, nil
	}
}

func newReportNode(chat model.ChatModel, renderer report.Renderer, pool *IOPool) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		md := reportMarkdown(state)
		var summary string
		var err error
		if perr := pool.Do(ctx, func() {
			summary, err = chat.Generate(ctx, summarySystemPrompt, md)
		}); perr != nil {
			return nil, perr
		}
		if err != nil {
			// The report still ships without the model summary.
			log.Warnf("report summary generation failed: %v", err)
		} else if summary != "" {
			md += "\n## Conclusions\n\n" + summary + "\n"
		}
		rendered, err := renderer.Render(md, boolOf(state, StateKeyPlainReport))
		if err != nil {
			return nil, fmt.Errorf("render report: %w", err)
		}
		return graph.State{
			StateKeyReport:             rendered,
			graph.StateKeyLastResponse: rendered,
			graph.StateKeyNodeOutput:   rendered,
		}, nil
	}
}

func reportMarkdown(state graph.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", stringOf(state, StateKeyQuery))
	if plan, ok := state[StateKeyPlan].(*Plan); ok && plan != nil && plan.Thought != "" {
		fmt.Fprintf(&b, "\n%s\n", plan.Thought)
	}
	results, _ := state[StateKeyStepResults].([]StepResult)
	for _, sr := range results {
		fmt.Fprintf(&b, "\n## Step %d: %s\n\n", sr.Step, sr.Goal)
		switch sr.Type {
		case StepTypeSQL:
			fmt.Fprintf(&b, "```sql\n%s\n```\n\n%s\n", sr.SQL, sr.Result.Markdown(50))
		case StepTypePython:
			fmt.Fprintf(&b, "```\n%s\n```\n", sr.Output)
		}
	}
	return b.String()
}

// newFailNode terminates the run with the stage failure recorded in state.
func newFailNode() graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.State, error) {
		return nil, &StageError{
			Stage:  stringOf(state, StateKeyFailedStage),
			Code:   stringOf(state, StateKeyFailureCode),
			Reason: stringOf(state, StateKeyFailureReason),
		}
	}
}

func currentStepGoal(state graph.State) string {
	plan, ok := state[StateKeyPlan].(*Plan)
	if !ok || plan == nil {
		return ""
	}
	idx := intOf(state, StateKeyPlanStepIndex)
	if idx < 0 || idx >= len(plan.Steps) {
		return ""
	}
	return plan.Steps[idx].Goal
}

func appendStepResult(state graph.State, sr StepResult) []StepResult {
	existing, _ := state[StateKeyStepResults].([]StepResult)
	results := make([]StepResult, 0, len(existing)+1)
	results = append(results, existing...)
	return append(results, sr)
}
