// Package server exposes the analyst over an OpenAI-compatible HTTP API so
// existing chat clients can talk to it without modification.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smallnest/datanexus/agent"
	"github.com/smallnest/datanexus/graph"
	"github.com/smallnest/datanexus/llm"
	"github.com/smallnest/datanexus/log"
	"github.com/smallnest/datanexus/store"
)

// Analyst is the conversational engine behind the API. *agent.Agent is the
// production implementation.
type Analyst interface {
	Ask(ctx context.Context, req agent.Request) (agent.State, error)
	Stream(ctx context.Context, req agent.Request) <-chan graph.Event[agent.State]
	History(ctx context.Context, threadID string) ([]*store.Checkpoint, error)
}

// Server serves the chat completion API, thread history and health/metrics
// endpoints.
type Server struct {
	analyst  Analyst
	logger   log.Logger
	registry *prometheus.Registry
	model    string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry sets the Prometheus registry backing /metrics.
func WithRegistry(r *prometheus.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithModelName sets the model name echoed in completion responses.
func WithModelName(name string) Option {
	return func(s *Server) { s.model = name }
}

// New builds a Server over the analyst.
func New(analyst Analyst, opts ...Option) *Server {
	s := &Server{
		analyst: analyst,
		logger:  log.GetDefaultLogger(),
		model:   "datanexus",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Get("/v1/threads/{threadID}/history", s.handleThreadHistory)
	r.Get("/v1/threads/{threadID}/report", s.handleThreadReport)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	User     string        `json:"user,omitempty"`
}

type chatCompletionChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
}

// threadIDHeader keys checkpointing. Clients that send a stable value get
// durable, resumable conversations; the response echoes the effective ID.
const threadIDHeader = "X-Thread-ID"

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	question, history, err := splitConversation(req.Messages)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	threadID := r.Header.Get(threadIDHeader)
	if threadID == "" {
		threadID = uuid.New().String()
	}
	w.Header().Set(threadIDHeader, threadID)

	areq := agent.Request{
		Question: question,
		UserID:   req.User,
		ThreadID: threadID,
		History:  history,
	}

	if req.Stream {
		s.streamCompletion(w, r, areq)
		return
	}

	final, err := s.analyst.Ask(r.Context(), areq)
	if err != nil {
		s.logger.Error("chat completion failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, chatCompletionResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.model,
		Choices: []chatCompletionChoice{{
			Message:      &chatMessage{Role: "assistant", Content: renderAnswer(final)},
			FinishReason: "stop",
		}},
	})
}

// streamCompletion emits server-sent chat.completion.chunk events. Node
// progress streams as status lines, the final answer as a content delta.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, areq agent.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := "chatcmpl-" + uuid.New().String()
	created := time.Now().Unix()
	emit := func(choice chatCompletionChoice) {
		chunk := chatCompletionResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   s.model,
			Choices: []chatCompletionChoice{choice},
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	emit(chatCompletionChoice{Delta: &chatMessage{Role: "assistant"}})

	for ev := range s.analyst.Stream(r.Context(), areq) {
		switch ev.Type {
		case graph.EventNodeStart:
			s.logger.Debug("thread %s entering %s", areq.ThreadID, ev.Node)
			emit(chatCompletionChoice{Delta: &chatMessage{Content: progressLine(ev.Node)}})
		case graph.EventEnd:
			emit(chatCompletionChoice{Delta: &chatMessage{Content: renderAnswer(ev.State)}})
			emit(chatCompletionChoice{FinishReason: "stop"})
		case graph.EventError:
			s.logger.Error("streaming completion failed: %v", ev.Err)
			emit(chatCompletionChoice{
				Delta:        &chatMessage{Content: "The request failed: " + ev.Err.Error()},
				FinishReason: "stop",
			})
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleThreadHistory(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	history, err := s.analyst.History(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id":   threadID,
		"checkpoints": history,
	})
}

// handleThreadReport renders the latest state of a thread as a sanitized
// HTML page.
func (s *Server) handleThreadReport(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	history, err := s.analyst.History(r.Context(), threadID)
	if err != nil || len(history) == 0 {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	var state agent.State
	if err := json.Unmarshal(history[len(history)-1].State, &state); err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt thread state")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(renderReport(threadID, state)))
}

// splitConversation separates the latest user question from the prior
// history.
func splitConversation(messages []chatMessage) (string, []llm.Message, error) {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = i
			break
		}
	}
	if last == -1 || strings.TrimSpace(messages[last].Content) == "" {
		return "", nil, errors.New("request contains no user message")
	}

	var history []llm.Message
	for _, m := range messages[:last] {
		if m.Role == "system" {
			continue
		}
		history = append(history, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return messages[last].Content, history, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message, "type": "api_error"},
	})
}
