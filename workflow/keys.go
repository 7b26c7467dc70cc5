package workflow

import (
	"reflect"

	"github.com/wsdl-king/DataAgent/graph"
)

// State keys for the analysis workflow. Every key a node reads is declared
// in Schema with replace-on-write merge semantics.
const (
	// Request inputs.
	StateKeyAgentID       = "agent_id"
	StateKeyQuery         = "input_query"
	StateKeyReviewEnabled = "review_enabled"
	StateKeyAnalysisOnly  = "analysis_only"
	StateKeyPlainReport   = "plain_report"

	// Knowledge retrieval.
	StateKeyEvidence = "evidence"

	// Planning and human review.
	StateKeyPlan              = "plan"
	StateKeyPlanStepIndex     = "plan_step_index"
	StateKeyPlannerRetryCount = "planner_retry_count"
	StateKeyPlannerError      = "planner_error"
	StateKeyPlanRepairCount   = "plan_repair_count"
	StateKeyFeedback          = "plan_feedback"
	StateKeyRepairHint        = "plan_repair_hint"

	// SQL stage.
	StateKeySQL           = "sql_query"
	StateKeySQLResult     = "sql_result"
	StateKeySQLSuccess    = "sql_success"
	StateKeySQLError      = "sql_error"
	StateKeySQLRetryCount = "sql_retry_count"

	// Python stage.
	StateKeyPython           = "python_code"
	StateKeyPythonResult     = "python_result"
	StateKeyPythonSuccess    = "python_success"
	StateKeyPythonError      = "python_error"
	StateKeyPythonRetryCount = "python_retry_count"

	// Accumulated per-step results for the report. The slice itself is
	// replaced wholesale on every write; nothing merges in place.
	StateKeyStepResults = "step_results"

	// Failure routing.
	StateKeyFailedStage   = "failed_stage"
	StateKeyFailureReason = "failure_reason"
	StateKeyFailureCode   = "failure_code"

	// Report output.
	StateKeyReport = "report"
)

// Node identifiers, a closed set validated at compile time.
const (
	NodeRetrieval      = "retrieval"
	NodePlanner        = "planner"
	NodeFeedbackGate   = "feedback_gate"
	NodePlanRouter     = "plan_router"
	NodeSQLGenerate    = "sql_generate"
	NodeSQLExecute     = "sql_execute"
	NodePythonGenerate = "python_generate"
	NodePythonExecute  = "python_execute"
	NodeReport         = "report"
	NodeFail           = "fail"
)

// Schema declares every workflow state key. All keys use replace-on-write:
// a node's returned value fully overwrites the previous one.
func Schema() *graph.StateSchema {
	s := graph.NewStateSchema()
	for key, typ := range map[string]reflect.Type{
		StateKeyAgentID:           reflect.TypeOf(""),
		StateKeyQuery:             reflect.TypeOf(""),
		StateKeyReviewEnabled:     reflect.TypeOf(false),
		StateKeyAnalysisOnly:      reflect.TypeOf(false),
		StateKeyPlainReport:       reflect.TypeOf(false),
		StateKeyEvidence:          reflect.TypeOf([]string{}),
		StateKeyPlan:              reflect.TypeOf(&Plan{}),
		StateKeyPlanStepIndex:     reflect.TypeOf(0),
		StateKeyPlannerRetryCount: reflect.TypeOf(0),
		StateKeyPlannerError:      reflect.TypeOf(""),
		StateKeyPlanRepairCount:   reflect.TypeOf(0),
		StateKeyRepairHint:        reflect.TypeOf(""),
		StateKeySQL:               reflect.TypeOf(""),
		StateKeySQLResult:         reflect.TypeOf(&SQLResult{}),
		StateKeySQLSuccess:        reflect.TypeOf(false),
		StateKeySQLError:          reflect.TypeOf(""),
		StateKeySQLRetryCount:     reflect.TypeOf(0),
		StateKeyPython:            reflect.TypeOf(""),
		StateKeyPythonResult:      reflect.TypeOf(""),
		StateKeyPythonSuccess:     reflect.TypeOf(false),
		StateKeyPythonError:       reflect.TypeOf(""),
		StateKeyPythonRetryCount:  reflect.TypeOf(0),
		StateKeyStepResults:       reflect.TypeOf([]StepResult{}),
		StateKeyFailedStage:       reflect.TypeOf(""),
		StateKeyFailureReason:     reflect.TypeOf(""),
		StateKeyFailureCode:       reflect.TypeOf(""),
		StateKeyReport:            reflect.TypeOf(""),
	} {
		s.AddField(key, graph.StateField{Type: typ, Reducer: graph.ReplaceReducer})
	}
	// Feedback is stored as *Feedback and cleared by setting nil, so no
	// type constraint applies.
	s.AddField(StateKeyFeedback, graph.StateField{Reducer: graph.ReplaceReducer})
	return s
}

func stringOf(state graph.State, key string) string {
	v, _ := state[key].(string)
	return v
}

func intOf(state graph.State, key string) int {
	v, _ := state[key].(int)
	return v
}

func boolOf(state graph.State, key string) bool {
	v, _ := state[key].(bool)
	return v
}
