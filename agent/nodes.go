package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/smallnest/datanexus/figure"
	"github.com/smallnest/datanexus/llm"
	"github.com/smallnest/datanexus/vectorstore"
)

// Node names. They double as checkpoint cursors, so renaming one breaks
// resumption of in-flight threads.
const (
	NodeRouter            = "router"
	NodeDirectResponse    = "direct_response"
	NodeLoadMemory        = "load_memory"
	NodeSchemaLinking     = "schema_linking"
	NodeQueryGeneration   = "query_generation"
	NodeQueryExecution    = "query_execution"
	NodeSelfCorrection    = "self_correction"
	NodeSummarization     = "summarization"
	NodePlanVisualization = "plan_visualization"
	NodeFigureGeneration  = "figure_generation"
	NodeCurateMemory      = "curate_memory"
	NodeSaveMemory        = "save_memory"
)

const (
	noSchemaFound   = "No relevant database schema information was found for your question."
	noExamplesFound = "No query examples were found for this type of question."
	noMemoryFound   = "No relevant long-term memories were found for this user."
	memoryDisabled  = "Long-term memory is disabled for this session."
)

// routerNode classifies the question. A malformed routing decision degrades
// to general conversation rather than failing the turn.
func (a *Agent) routerNode(ctx context.Context, s State) (State, error) {
	prompt := routerPrompt(s.Question, formatChatHistory(s.ChatHistory))
	response, err := a.llm.Invoke(ctx,
		[]llm.Message{{Role: llm.RoleUser, Content: prompt}},
		llm.WithJSONMode())
	if err != nil {
		return s, fmt.Errorf("routing failed: %w", err)
	}

	var decision struct {
		Route string `json:"route"`
	}
	if err := json.Unmarshal([]byte(response), &decision); err != nil {
		a.logger.Warn("router returned invalid JSON, falling back to general conversation: %v", err)
		s.Route = RouteGeneralConversation
		return s, nil
	}
	route, ok := ParseRoute(decision.Route)
	if !ok {
		a.logger.Warn("router returned unknown label %q, falling back to general conversation", decision.Route)
	}

	a.logger.Info("router decision: %s", route)
	s.Route = route
	return s, nil
}

// directResponseNode answers general conversation without touching the
// database.
func (a *Agent) directResponseNode(ctx context.Context, s State) (State, error) {
	prompt := directResponsePrompt(s.Question, formatChatHistory(s.ChatHistory))
	response, err := a.llm.Invoke(ctx, []llm.Message{{Role: llm.RoleSystem, Content: prompt}})
	if err != nil {
		return s, fmt.Errorf("direct response failed: %w", err)
	}
	s.Summary = response
	return s, nil
}

// loadMemoryNode recalls the user's long-term facts. Retrieval failures
// degrade to an empty context; memory must never block the SQL path.
func (a *Agent) loadMemoryNode(ctx context.Context, s State) (State, error) {
	if s.UserID == "" {
		s.LongTermMemory = memoryDisabled
		return s, nil
	}

	results, err := a.vectors.Search(ctx, vectorstore.CollectionUserMemory, s.Question,
		a.config.MemoryTopK, map[string]any{"user_id": s.UserID})
	if err != nil {
		if !errors.Is(err, vectorstore.ErrUnknownCollection) {
			a.logger.Warn("memory lookup failed for user %s: %v", s.UserID, err)
		}
		s.LongTermMemory = noMemoryFound
		return s, nil
	}
	if len(results) == 0 {
		s.LongTermMemory = noMemoryFound
		return s, nil
	}

	facts := make([]string, len(results))
	for i, r := range results {
		facts[i] = r.Document.Content
	}
	s.LongTermMemory = "Here are some potentially relevant facts from past conversations:\n- " +
		strings.Join(facts, "\n- ")
	return s, nil
}

// schemaLinkingNode gathers the schema fragments and few-shot examples
// relevant to the question.
func (a *Agent) schemaLinkingNode(ctx context.Context, s State) (State, error) {
	s.RetrievedSchema = a.retrieveJoined(ctx, vectorstore.CollectionSchema, s.Question,
		a.config.SchemaTopK, noSchemaFound)
	s.FewShotExamples = a.retrieveJoined(ctx, vectorstore.CollectionFewShot, s.Question,
		a.config.FewShotTopK, noExamplesFound)
	return s, nil
}

func (a *Agent) retrieveJoined(ctx context.Context, collection, query string, topK int, fallback string) string {
	results, err := a.vectors.Search(ctx, collection, query, topK, nil)
	if err != nil {
		if !errors.Is(err, vectorstore.ErrUnknownCollection) {
			a.logger.Warn("retrieval from %s failed: %v", collection, err)
		}
		return fallback
	}
	if len(results) == 0 {
		return fallback
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Document.Content
	}
	return strings.Join(texts, "\n\n---\n\n")
}

// queryGenerationNode writes the candidate SQL from the gathered context.
func (a *Agent) queryGenerationNode(ctx context.Context, s State) (State, error) {
	prompt := sqlGenerationPrompt(s.Question, s.RetrievedSchema, s.FewShotExamples, s.LongTermMemory)
	response, err := a.llm.Invoke(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return s, fmt.Errorf("SQL generation failed: %w", err)
	}
	s.GeneratedSQL = cleanSQL(response)
	a.logger.Info("generated SQL: %s", s.GeneratedSQL)
	return s, nil
}

// queryExecutionNode runs the candidate SQL. Database errors land in
// SQLError for the correction loop instead of failing the turn.
func (a *Agent) queryExecutionNode(ctx context.Context, s State) (State, error) {
	rows, err := a.db.Execute(ctx, s.GeneratedSQL)
	if err != nil {
		a.logger.Warn("query execution failed: %v", err)
		s.QueryResult = nil
		s.SQLError = err.Error()
		return s, nil
	}
	s.QueryResult = rows
	s.SQLError = ""
	return s, nil
}

// selfCorrectionNode asks the model to repair the failed query. The attempt
// counter bounds the execute/correct cycle.
func (a *Agent) selfCorrectionNode(ctx context.Context, s State) (State, error) {
	s.CorrectionAttempts++
	a.logger.Info("SQL self-correction attempt %d/%d", s.CorrectionAttempts, a.config.MaxCorrections)

	prompt := sqlCorrectionPrompt(s.Question, s.GeneratedSQL, s.SQLError, s.RetrievedSchema)
	response, err := a.llm.Invoke(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return s, fmt.Errorf("SQL correction failed: %w", err)
	}
	s.GeneratedSQL = cleanSQL(response)
	s.SQLError = ""
	return s, nil
}

// summarizationNode produces the final answer. Three cases: the correction
// budget ran out (degraded summary naming the last error), the query found
// nothing, or a normal data summary.
func (a *Agent) summarizationNode(ctx context.Context, s State) (State, error) {
	if s.SQLError != "" {
		s.Summary = fmt.Sprintf(
			"I could not answer your question: the generated SQL kept failing after %d correction attempts. Last database error: %s",
			s.CorrectionAttempts, s.SQLError)
		return s, nil
	}
	if len(s.QueryResult) == 0 {
		s.Summary = "The query returned no data to summarize."
		return s, nil
	}

	resultJSON, err := json.Marshal(s.QueryResult)
	if err != nil {
		return s, fmt.Errorf("marshal query result: %w", err)
	}
	summary, err := a.llm.Invoke(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: summarizationPrompt(s.Question, string(resultJSON))},
	})
	if err != nil {
		return s, fmt.Errorf("summarization failed: %w", err)
	}
	s.Summary = summary
	return s, nil
}

// planVisualizationNode derives a chart plan from a preview of the result
// set. An invalid plan degrades to no charts rather than failing the turn.
func (a *Agent) planVisualizationNode(ctx context.Context, s State) (State, error) {
	if len(s.QueryResult) == 0 {
		s.VisualizationPlan = nil
		return s, nil
	}

	columns := make([]string, 0, len(s.QueryResult[0]))
	for col := range s.QueryResult[0] {
		columns = append(columns, col)
	}
	previewRows := s.QueryResult
	if len(previewRows) > 3 {
		previewRows = previewRows[:3]
	}
	preview, err := json.Marshal(map[string]any{
		"columns":      columns,
		"preview_rows": previewRows,
	})
	if err != nil {
		return s, fmt.Errorf("marshal data preview: %w", err)
	}

	response, err := a.llm.Invoke(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: visualizationPlanningPrompt(s.Question, string(preview))},
	}, llm.WithJSONMode())
	if err != nil {
		return s, fmt.Errorf("visualization planning failed: %w", err)
	}

	plan, err := figure.ParsePlan([]byte(response))
	if err != nil {
		a.logger.Error("visualization plan rejected: %v", err)
		s.VisualizationPlan = nil
		return s, nil
	}
	a.logger.Info("visualization plan with %d chart(s)", len(plan.Charts))
	s.VisualizationPlan = plan
	return s, nil
}

// figureGenerationNode renders every chart in the plan. It rebuilds the full
// figure list from the plan each time, so re-running after a resume yields
// the same output. Individual chart failures are logged and skipped.
func (a *Agent) figureGenerationNode(ctx context.Context, s State) (State, error) {
	s.Figures = nil
	if s.VisualizationPlan == nil || len(s.QueryResult) == 0 {
		return s, nil
	}

	for _, chart := range s.VisualizationPlan.Charts {
		fig, err := figure.Render(chart, s.QueryResult)
		if err != nil {
			a.logger.Error("failed to render chart %q: %v", chart.Title, err)
			continue
		}
		s.Figures = append(s.Figures, *fig)
	}
	a.logger.Info("rendered %d figure(s)", len(s.Figures))
	return s, nil
}

// curateMemoryNode extracts durable user facts from the finished turn.
// Curation is best effort: a malformed response saves nothing.
func (a *Agent) curateMemoryNode(ctx context.Context, s State) (State, error) {
	transcript := append([]llm.Message{}, s.ChatHistory...)
	transcript = append(transcript, llm.Message{Role: llm.RoleUser, Content: s.Question})
	if s.Summary != "" {
		transcript = append(transcript, llm.Message{Role: llm.RoleAssistant, Content: s.Summary})
	}

	response, err := a.llm.Invoke(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: memoryCurationPrompt(formatChatHistory(transcript))},
	}, llm.WithJSONMode())
	if err != nil {
		a.logger.Error("memory curation failed: %v", err)
		s.FactsToSave = nil
		return s, nil
	}

	var curation struct {
		FactsToSave []string `json:"facts_to_save"`
	}
	if err := json.Unmarshal([]byte(response), &curation); err != nil {
		a.logger.Error("memory curation returned invalid JSON: %v", err)
		s.FactsToSave = nil
		return s, nil
	}
	a.logger.Info("curated %d fact(s) to save", len(curation.FactsToSave))
	s.FactsToSave = curation.FactsToSave
	return s, nil
}

// saveMemoryNode persists the curated facts under the user's ID.
func (a *Agent) saveMemoryNode(ctx context.Context, s State) (State, error) {
	if s.UserID == "" || len(s.FactsToSave) == 0 {
		return s, nil
	}

	docs := make([]vectorstore.Document, len(s.FactsToSave))
	for i, fact := range s.FactsToSave {
		docs[i] = vectorstore.Document{
			ID:       uuid.New().String(),
			Content:  fact,
			Metadata: map[string]any{"user_id": s.UserID},
		}
	}
	if err := a.vectors.Add(ctx, vectorstore.CollectionUserMemory, docs); err != nil {
		a.logger.Error("failed to save memories for user %s: %v", s.UserID, err)
	}
	return s, nil
}

// cleanSQL strips markdown fences the model sometimes wraps around queries.
func cleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	sql = strings.ReplaceAll(sql, "```sql", "")
	sql = strings.ReplaceAll(sql, "```", "")
	return strings.TrimSpace(sql)
}
