package llm

import (
	"context"
	"sync"
)

// ScriptedClient replays canned responses in order. Tests wire it in place of
// a real provider; the recorded requests let assertions inspect the prompts.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     [][]Message
}

var _ Client = (*ScriptedClient)(nil)

// NewScriptedClient builds a client that returns the given responses one per
// Invoke call. When the script runs out, the last response repeats.
func NewScriptedClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// FailWith schedules an error for the call at the given index (0-based).
func (c *ScriptedClient) FailWith(index int, err error) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.errs) <= index {
		c.errs = append(c.errs, nil)
	}
	c.errs[index] = err
	return c
}

// Invoke implements Client.
func (c *ScriptedClient) Invoke(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call := len(c.calls)
	c.calls = append(c.calls, messages)

	if call < len(c.errs) && c.errs[call] != nil {
		return "", c.errs[call]
	}
	if len(c.responses) == 0 {
		return "", ErrEmptyResponse
	}
	if call >= len(c.responses) {
		return c.responses[len(c.responses)-1], nil
	}
	return c.responses[call], nil
}

// Calls returns the message slices passed to Invoke, in order.
func (c *ScriptedClient) Calls() [][]Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]Message, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many times Invoke ran.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// StaticEmbedder returns deterministic embeddings derived from the text
// bytes. It keeps vector search meaningful in tests without a provider:
// identical texts embed identically.
type StaticEmbedder struct {
	Dim int
}

var _ Embedder = (*StaticEmbedder)(nil)

// CreateEmbedding implements Embedder.
func (e *StaticEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	dim := e.Dim
	if dim == 0 {
		dim = 16
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dim)
		for j, r := range text {
			vec[j%dim] += float32(r%97) / 97
		}
		out[i] = vec
	}
	return out, nil
}
