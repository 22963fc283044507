// Package agent wires the conversational NL-to-SQL analyst: a workflow graph
// that routes questions, links schema context, generates and self-corrects
// SQL, summarizes results, plans visualizations and curates long-term memory.
package agent

import (
	"github.com/smallnest/datanexus/figure"
	"github.com/smallnest/datanexus/llm"
)

// State is the shared record every node reads and returns. Each field has a
// single writer:
//
//	Question, UserID, ChatHistory  set by the caller, read-only afterwards
//	Route                          router
//	LongTermMemory                 load_memory
//	RetrievedSchema, FewShotExamples  schema_linking
//	GeneratedSQL                   query_generation, self_correction
//	QueryResult, SQLError          query_execution
//	CorrectionAttempts             self_correction
//	Summary                        summarization, direct_response
//	VisualizationPlan              plan_visualization
//	Figures                        figure_generation
//	FactsToSave                    curate_memory
//
// Nodes receive the state by value and return an updated copy; the engine
// replaces the whole record after each step.
type State struct {
	// Question is the user's latest natural language question.
	Question string `json:"question"`

	// UserID keys long-term memory. Empty disables memory for the turn.
	UserID string `json:"user_id,omitempty"`

	// ChatHistory is the prior conversation, oldest first.
	ChatHistory []llm.Message `json:"chat_history,omitempty"`

	// Route is the router's classification of the question.
	Route Route `json:"route,omitempty"`

	// LongTermMemory is the recalled user context injected into SQL
	// generation.
	LongTermMemory string `json:"long_term_memory,omitempty"`

	// RetrievedSchema holds the schema fragments relevant to the question.
	RetrievedSchema string `json:"retrieved_schema,omitempty"`

	// FewShotExamples holds retrieved question/SQL example pairs.
	FewShotExamples string `json:"few_shot_examples,omitempty"`

	// GeneratedSQL is the current candidate query.
	GeneratedSQL string `json:"generated_sql,omitempty"`

	// QueryResult holds the rows of the last successful execution.
	QueryResult []map[string]any `json:"query_result,omitempty"`

	// SQLError carries the database error driving the correction loop.
	// Empty means the last execution succeeded.
	SQLError string `json:"sql_error,omitempty"`

	// CorrectionAttempts counts self-correction rounds this turn.
	CorrectionAttempts int `json:"correction_attempts,omitempty"`

	// Summary is the final natural-language answer.
	Summary string `json:"summary,omitempty"`

	// VisualizationPlan is the chart plan derived from the result set.
	VisualizationPlan *figure.Plan `json:"visualization_plan,omitempty"`

	// Figures holds the rendered Plotly figures.
	Figures []figure.Figure `json:"figures,omitempty"`

	// FactsToSave holds durable user facts extracted from the conversation.
	FactsToSave []string `json:"facts_to_save,omitempty"`
}

// seedTurn carries the long-lived fields of a finished turn into the next
// turn on the same thread. Caller-supplied values win; the checkpoint fills
// in only what the request left empty, so stateless clients that replay full
// history and stateful clients that rely on the thread both work.
func seedTurn(previous, fresh State) State {
	s := fresh
	if s.UserID == "" {
		s.UserID = previous.UserID
	}
	if len(s.ChatHistory) == 0 {
		s.ChatHistory = previous.ChatHistory
		if previous.Question != "" {
			s.ChatHistory = append(s.ChatHistory, llm.Message{Role: llm.RoleUser, Content: previous.Question})
		}
		if previous.Summary != "" {
			s.ChatHistory = append(s.ChatHistory, llm.Message{Role: llm.RoleAssistant, Content: previous.Summary})
		}
	}
	return s
}
