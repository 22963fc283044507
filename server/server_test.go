package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/datanexus/agent"
	"github.com/smallnest/datanexus/graph"
	"github.com/smallnest/datanexus/llm"
	"github.com/smallnest/datanexus/log"
	"github.com/smallnest/datanexus/store"
)

type fakeAnalyst struct {
	lastRequest agent.Request
	state       agent.State
	err         error
	history     []*store.Checkpoint
	historyErr  error
}

func (f *fakeAnalyst) Ask(ctx context.Context, req agent.Request) (agent.State, error) {
	f.lastRequest = req
	return f.state, f.err
}

func (f *fakeAnalyst) Stream(ctx context.Context, req agent.Request) <-chan graph.Event[agent.State] {
	f.lastRequest = req
	events := make(chan graph.Event[agent.State], 8)
	go func() {
		defer close(events)
		if f.err != nil {
			events <- graph.Event[agent.State]{Type: graph.EventError, Err: f.err}
			return
		}
		events <- graph.Event[agent.State]{Type: graph.EventNodeStart, Node: "router"}
		events <- graph.Event[agent.State]{Type: graph.EventNodeStart, Node: "query_generation"}
		events <- graph.Event[agent.State]{Type: graph.EventEnd, State: f.state}
	}()
	return events
}

func (f *fakeAnalyst) History(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	return f.history, f.historyErr
}

func newTestServer(t *testing.T, analyst Analyst) *httptest.Server {
	t.Helper()
	srv := New(analyst, WithLogger(&log.NoOpLogger{}))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyst{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatCompletions(t *testing.T) {
	analyst := &fakeAnalyst{state: agent.State{
		Summary:      "Total sales came to 4200.",
		GeneratedSQL: "SELECT SUM(total) FROM sales",
	}}
	ts := newTestServer(t, analyst)

	body := `{
		"model": "datanexus",
		"user": "alice",
		"messages": [
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": "hi!"},
			{"role": "user", "content": "what are our total sales?"}
		]
	}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("X-Thread-ID", "thread-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "thread-42", resp.Header.Get("X-Thread-ID"))

	var cc chatCompletionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cc))
	require.Len(t, cc.Choices, 1)
	assert.Equal(t, "chat.completion", cc.Object)
	assert.Contains(t, cc.Choices[0].Message.Content, "Total sales came to 4200.")
	assert.Contains(t, cc.Choices[0].Message.Content, "```sql")
	assert.Equal(t, "stop", cc.Choices[0].FinishReason)

	assert.Equal(t, "what are our total sales?", analyst.lastRequest.Question)
	assert.Equal(t, "alice", analyst.lastRequest.UserID)
	assert.Equal(t, "thread-42", analyst.lastRequest.ThreadID)
	assert.Equal(t, []llm.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi!"},
	}, analyst.lastRequest.History)
}

func TestChatCompletions_GeneratesThreadID(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyst{state: agent.State{Summary: "hi"}})

	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"messages": [{"role": "user", "content": "hello"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("X-Thread-ID"))
}

func TestChatCompletions_NoUserMessage(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyst{})

	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"messages": [{"role": "system", "content": "be nice"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatCompletions_AnalystError(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyst{err: errors.New("boom")})

	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"messages": [{"role": "user", "content": "q"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestChatCompletions_Stream(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyst{state: agent.State{Summary: "Streamed."}})

	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"stream": true, "messages": [{"role": "user", "content": "q"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var payloads []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			payloads = append(payloads, strings.TrimPrefix(line, "data: "))
		}
	}
	require.GreaterOrEqual(t, len(payloads), 5)
	assert.Equal(t, "[DONE]", payloads[len(payloads)-1])

	var contents []string
	for _, payload := range payloads[:len(payloads)-1] {
		var chunk chatCompletionResponse
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		assert.Equal(t, "chat.completion.chunk", chunk.Object)
		if chunk.Choices[0].Delta != nil && chunk.Choices[0].Delta.Content != "" {
			contents = append(contents, chunk.Choices[0].Delta.Content)
		}
	}

	// Per-step status lines stream before the final answer.
	require.Len(t, contents, 3)
	assert.Contains(t, contents[0], "Routing your question")
	assert.Contains(t, contents[1], "Writing the SQL query")
	assert.Equal(t, "Streamed.", contents[2])
}

func TestThreadHistory(t *testing.T) {
	analyst := &fakeAnalyst{history: []*store.Checkpoint{
		{ID: "cp1", ThreadID: "t1", Seq: 1, Node: "router", Cursor: "direct_response",
			State: []byte(`{"question":"hi"}`), CreatedAt: time.Now().UTC()},
	}}
	ts := newTestServer(t, analyst)

	resp, err := http.Get(ts.URL + "/v1/threads/t1/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ThreadID    string              `json:"thread_id"`
		Checkpoints []*store.Checkpoint `json:"checkpoints"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "t1", body.ThreadID)
	require.Len(t, body.Checkpoints, 1)
	assert.Equal(t, "router", body.Checkpoints[0].Node)
}

func TestThreadReport(t *testing.T) {
	state := agent.State{
		Question:     "total sales?",
		Summary:      "# Sales\n\nTotal came to **4200**.<script>alert(1)</script>",
		GeneratedSQL: "SELECT SUM(total) FROM sales",
	}
	raw, err := json.Marshal(state)
	require.NoError(t, err)
	analyst := &fakeAnalyst{history: []*store.Checkpoint{
		{ID: "cp1", ThreadID: "t1", Seq: 1, Node: "save_memory", Cursor: "END", State: raw},
	}}
	ts := newTestServer(t, analyst)

	resp, err := http.Get(ts.URL + "/v1/threads/t1/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	html := sb.String()
	assert.Contains(t, html, "<strong>4200</strong>")
	assert.NotContains(t, html, "<script>", "model output must be sanitized")
	assert.Contains(t, html, "SELECT SUM(total) FROM sales")
}

func TestThreadReport_UnknownThread(t *testing.T) {
	ts := newTestServer(t, &fakeAnalyst{history: nil})

	resp, err := http.Get(ts.URL + "/v1/threads/missing/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
