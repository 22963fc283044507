package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/smallnest/datanexus/agent"
)

// renderAnswer assembles the assistant message: the summary, the generated
// SQL for transparency, and each rendered figure as a fenced plotly JSON
// block that chart-aware clients can display inline.
func renderAnswer(s agent.State) string {
	var b strings.Builder
	b.WriteString(s.Summary)

	if s.GeneratedSQL != "" {
		fmt.Fprintf(&b, "\n\n```sql\n%s\n```", s.GeneratedSQL)
	}

	for _, fig := range s.Figures {
		data, err := json.Marshal(fig)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n\n```plotly\n%s\n```", data)
	}
	return b.String()
}

// nodeProgress maps workflow nodes to the status lines streamed to clients
// while a turn is in flight.
var nodeProgress = map[string]string{
	agent.NodeRouter:            "Routing your question",
	agent.NodeDirectResponse:    "Composing a reply",
	agent.NodeLoadMemory:        "Recalling earlier conversations",
	agent.NodeSchemaLinking:     "Finding relevant tables",
	agent.NodeQueryGeneration:   "Writing the SQL query",
	agent.NodeQueryExecution:    "Running the query",
	agent.NodeSelfCorrection:    "Repairing the query",
	agent.NodeSummarization:     "Summarizing the results",
	agent.NodePlanVisualization: "Planning charts",
	agent.NodeFigureGeneration:  "Rendering charts",
	agent.NodeCurateMemory:      "Noting what to remember",
	agent.NodeSaveMemory:        "Saving memories",
}

// progressLine formats a per-step status delta. Unknown nodes fall back to
// the raw node name.
func progressLine(node string) string {
	label, ok := nodeProgress[node]
	if !ok {
		label = node
	}
	return fmt.Sprintf("_%s..._\n\n", label)
}

var htmlPolicy = bluemonday.UGCPolicy()

// markdownToHTML renders untrusted model output as sanitized HTML.
func markdownToHTML(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	rendered := markdown.ToHTML([]byte(md), p, renderer)
	return htmlPolicy.Sanitize(string(rendered))
}

// renderReport produces a standalone HTML report for a finished turn.
func renderReport(threadID string, s agent.State) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>datanexus report</title></head>\n<body>\n")
	fmt.Fprintf(&b, "<p>Thread: %s</p>\n", htmlPolicy.Sanitize(threadID))
	b.WriteString(markdownToHTML(s.Summary))
	if s.GeneratedSQL != "" {
		b.WriteString(markdownToHTML(fmt.Sprintf("```sql\n%s\n```", s.GeneratedSQL)))
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
