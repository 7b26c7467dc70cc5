package workflow

import (
	"context"

	"github.com/wsdl-king/DataAgent/graph"
)

// Routing candidates. Every dispatcher returns one of these and nothing
// else; each conditional edge's path map binds exactly the candidates its
// dispatcher can produce, so an out-of-set return fails loudly at the
// executor instead of silently picking an edge.
const (
	CandidateContinue = "continue"
	CandidateRetry    = "retry"
	CandidateReplan   = "replan"
	CandidateFeedback = "feedback"
	CandidateSQL      = "sql"
	CandidatePython   = "python"
	CandidateReport   = "report"
	CandidateFinish   = "finish"
	CandidateFail     = "fail"
)

// FailureCodeRetryExhausted marks runs that consumed their retry budget.
const FailureCodeRetryExhausted = "retry_exhausted"

// Dispatchers own all control metadata: retry counters, the repair
// counter and the plan step cursor change only here, bundled with the
// routing decision they justify.

func dispatchAfterRetrieval() graph.ConditionalFunc {
	return func(ctx context.Context, state graph.State) (*graph.Decision, error) {
		evidence, _ := state[StateKeyEvidence].([]string)
		if len(evidence) == 0 {
			return graph.GotoWith(CandidateFail, graph.State{
				StateKeyFailedStage:   NodeRetrieval,
				StateKeyFailureReason: "no knowledge entries matched the question",
			}), nil
		}
		return graph.Goto(CandidateContinue), nil
	}
}

func dispatchAfterPlanner(maxRetries int) graph.ConditionalFunc {
	return func(ctx context.Context, state graph.State) (*graph.Decision, error) {
		plan, _ := state[StateKeyPlan].(*Plan)
		if plan == nil {
			retries := intOf(state, StateKeyPlannerRetryCount)
			if retries < maxRetries {
				return graph.GotoWith(CandidateRetry, graph.State{
					StateKeyPlannerRetryCount: retries + 1,
				}), nil
			}
			return graph.GotoWith(CandidateFail, graph.State{
				StateKeyFailedStage:   NodePlanner,
				StateKeyFailureCode:   FailureCodeRetryExhausted,
				StateKeyFailureReason: stringOf(state, StateKeyPlannerError),
			}), nil
		}
		if boolOf(state, StateKeyReviewEnabled) {
			if fb, _ := state[StateKeyFeedback].(*Feedback); fb == nil {
				return graph.GotoWith(CandidateFeedback, graph.State{
					StateKeyPlanStepIndex: 0,
				}), nil
			}
		}
		return graph.GotoWith(CandidateContinue, graph.State{
			StateKeyPlanStepIndex: 0,
		}), nil
	}
}

func dispatchAfterFeedback(maxRepairs int) graph.ConditionalFunc {
	return func(ctx context.Context, state graph.State) (*graph.Decision, error) {
		fb, _ := state[StateKeyFeedback].(*Feedback)
		if fb == nil || fb.Approved {
			return graph.GotoWith(CandidateContinue, graph.State{
				StateKeyPlanStepIndex: 0,
			}), nil
		}
		repairs := intOf(state, StateKeyPlanRepairCount)
		if repairs < maxRepairs {
			// Clear the decision so the gate suspends again for the
			// revised plan.
			return graph.GotoWith(CandidateReplan, graph.State{
				StateKeyPlanRepairCount: repairs + 1,
				StateKeyFeedback:        (*Feedback)(nil),
				StateKeyRepairHint:      fb.Content,
			}), nil
		}
		return graph.GotoWith(CandidateFail, graph.State{
			StateKeyFailedStage:   NodeFeedbackGate,
			StateKeyFailureCode:   FailureCodeRetryExhausted,
			StateKeyFailureReason: "plan rejected after maximum revisions",
		}), nil
	}
}

func dispatchPlanStep() graph.ConditionalFunc {
	return func(ctx context.Context, state graph.State) (*graph.Decision, error) {
		plan, _ := state[StateKeyPlan].(*Plan)
		idx := intOf(state, StateKeyPlanStepIndex)
		if plan == nil || idx >= len(plan.Steps) {
			if boolOf(state, StateKeyAnalysisOnly) {
				return graph.Goto(CandidateFinish), nil
			}
			return graph.Goto(CandidateReport), nil
		}
		switch plan.Steps[idx].Type {
		case StepTypePython:
			return graph.Goto(CandidatePython), nil
		default:
			return graph.Goto(CandidateSQL), nil
		}
	}
}

func dispatchAfterSQLExecute(maxRetries int) graph.ConditionalFunc {
	return func(ctx context.Context, state graph.State) (*graph.Decision, error) {
		if boolOf(state, StateKeySQLSuccess) {
			if boolOf(state, StateKeyAnalysisOnly) {
				return graph.Goto(CandidateFinish), nil
			}
			return graph.GotoWith(CandidateContinue, graph.State{
				StateKeyPlanStepIndex: intOf(state, StateKeyPlanStepIndex) + 1,
				StateKeySQLRetryCount: 0,
			}), nil
		}
		retries := intOf(state, StateKeySQLRetryCount)
		if retries < maxRetries {
			return graph.GotoWith(CandidateRetry, graph.State{
				StateKeySQLRetryCount: retries + 1,
			}), nil
		}
		return graph.GotoWith(CandidateFail, graph.State{
			StateKeyFailureCode:   FailureCodeRetryExhausted,
			StateKeyFailureReason: stringOf(state, StateKeySQLError),
		}), nil
	}
}

func dispatchAfterPythonExecute(maxRetries int) graph.ConditionalFunc {
	return func(ctx context.Context, state graph.State) (*graph.Decision, error) {
		if boolOf(state, StateKeyPythonSuccess) {
			return graph.GotoWith(CandidateContinue, graph.State{
				StateKeyPlanStepIndex:    intOf(state, StateKeyPlanStepIndex) + 1,
				StateKeyPythonRetryCount: 0,
			}), nil
		}
		retries := intOf(state, StateKeyPythonRetryCount)
		if retries < maxRetries {
			return graph.GotoWith(CandidateRetry, graph.State{
				StateKeyPythonRetryCount: retries + 1,
			}), nil
		}
		return graph.GotoWith(CandidateFail, graph.State{
			StateKeyFailureCode:   FailureCodeRetryExhausted,
			StateKeyFailureReason: stringOf(state, StateKeyPythonError),
		}), nil
	}
}
