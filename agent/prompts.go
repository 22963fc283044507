package agent

import (
	"fmt"
	"strings"

	"github.com/smallnest/datanexus/llm"
)

func formatChatHistory(history []llm.Message) string {
	if len(history) == 0 {
		return "(no prior conversation)"
	}
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = fmt.Sprintf("%s: %s", m.Role, m.Content)
	}
	return strings.Join(lines, "\n")
}

func routerPrompt(question, chatHistory string) string {
	return fmt.Sprintf(`### Persona
You are an expert AI router and dispatcher. Analyze the user's latest query and the conversation history to determine the most appropriate action.

### Available Routes
1. `+"`sql_query`"+`: The user is asking a question that requires accessing the database.
2. `+"`general_conversation`"+`: The user is having a general conversation that does not require database access.

### Conversation History
%s

### User's Latest Query
%s

### Instructions
You MUST respond in JSON format with a single key "route" whose value is one of the available routes, e.g. {"route": "sql_query"}.`, chatHistory, question)
}

func directResponsePrompt(question, chatHistory string) string {
	return fmt.Sprintf(`You are a helpful AI assistant. Respond to the user's latest message conversationally.
Context:
%s

User's message: %q`, chatHistory, question)
}

func sqlGenerationPrompt(question, schema, fewShotExamples, longTermMemory string) string {
	return fmt.Sprintf(`### Persona
You are a senior PostgreSQL data analyst and expert SQL writer. Write a single, efficient, syntactically correct read-only PostgreSQL query that precisely answers the user's question based on the provided context.

### Security
- CRITICAL RULE: You are strictly forbidden from generating any query that is not a read-only SELECT statement.
- PROHIBITED KEYWORDS: INSERT, UPDATE, DELETE, DROP, CREATE, ALTER, TRUNCATE, GRANT, REVOKE, COMMIT, ROLLBACK.

### Database Schema
%s

### Few-Shot Examples
%s

### Long-Term Memory & User Context
%s

### Instructions
1. Only use the tables and columns provided in the schema. Do not invent table or column names.
2. Use the long-term memory to disambiguate the user's intent (for example, "my region").
3. Respond with ONLY the raw PostgreSQL query. No explanation, comments or markdown fences.

### User's Question
%s

### PostgreSQL Query:`, schema, fewShotExamples, longTermMemory, question)
}

func sqlCorrectionPrompt(question, failedSQL, errorMessage, schema string) string {
	return fmt.Sprintf(`### Persona
You are an expert PostgreSQL debugger. Correct a faulty read-only SELECT query based on the error message returned by the database.

### Security
The corrected query must also be a read-only SELECT statement. Do not change its fundamental nature.

### Database Schema
%s

### Original User's Question
%s

### Failed SQL Query
%s

### Database Error Message
%s

### Instructions
Rewrite the original SELECT query to fix the identified error, using only tables and columns from the schema. Respond with ONLY the corrected PostgreSQL query.

### Corrected PostgreSQL Query:`, schema, question, failedSQL, errorMessage)
}

func summarizationPrompt(question, queryResultJSON string) string {
	return fmt.Sprintf(`### Persona
You are a senior data analyst presenting findings to a business executive. Provide a concise, clear, insightful summary of the data that directly answers the original question.

### Original User's Question
%s

### Query Result Data
%s

### Instructions
1. Synthesize key insights; do not just list the data.
2. Use plain business language and address the question directly.

### Executive Summary:`, question, queryResultJSON)
}

func visualizationPlanningPrompt(question, dataPreviewJSON string) string {
	return fmt.Sprintf(`### Persona
You are an expert Data Analyst and Visualization Planner. Create a structured plan for a visual dashboard from the user's request and a sample of the data. You do NOT write visualization code; you only create the plan.

### User's Original Request
%s

### Data Sample
%s

### Instructions
1. For comparisons across categories use 'bar' (x_axis categorical, y_axis numeric); for trends over time use 'line'; for parts of a whole use 'pie' (x_axis labels, y_axis values); for relationships between two numeric variables use 'scatter'; for intensity across two dimensions use 'heatmap' (x_axis, y_axis, z_axis numeric); for distributions use 'box' (y_axis numeric, x_axis optional) or 'histogram' (x_axis numeric).
2. CRITICAL RULE 1: If the data is a single numerical value, you MUST use the 'kpi' chart_type with a numeric value_column.
3. CRITICAL RULE 2: If the data is a single non-numeric value, return an empty "charts" list.
4. Limit the plan to at most 3 charts, each with a unique descriptive title and a brief explanation.
5. Only reference columns that exist in the data sample.

### Output Format
Respond with a single valid JSON object with one key "charts", a list of chart objects like:
{"charts": [{"chart_type": "bar", "title": "Total Sales per Category", "x_axis": "category", "y_axis": "total_sales", "explanation": "..."}]}

### Your Visualization Plan (JSON Output Only):`, question, dataPreviewJSON)
}

func memoryCurationPrompt(chatHistory string) string {
	return fmt.Sprintf(`### Persona
You are an AI Memory Curator. Analyze a conversation and extract key, durable facts about the user or their preferences useful for personalizing future interactions.

### Conversation History
%s

### Instructions
1. Good facts: "User's company is Acme Inc.", "User prefers viewing sales data in Euros." Bad facts: temporary states like "User was happy." or "The query was successful."
2. If there are no new durable facts worth saving, respond with an empty list.

### Output Format
Respond with a single valid JSON object with one key "facts_to_save", a list of strings, e.g. {"facts_to_save": ["The user's preferred currency for reporting is USD."]}.

### Curated Facts (JSON Output Only):`, chatHistory)
}
