package agent

import (
	"context"
	"fmt"

	"github.com/smallnest/datanexus/graph"
	"github.com/smallnest/datanexus/llm"
	"github.com/smallnest/datanexus/log"
	"github.com/smallnest/datanexus/store"
	"github.com/smallnest/datanexus/vectorstore"
)

// SQLExecutor runs read-only SQL against the analytical database.
// db.Executor is the production implementation.
type SQLExecutor interface {
	Execute(ctx context.Context, query string) ([]map[string]any, error)
}

// Config tunes the agent's retrieval and correction behavior.
type Config struct {
	// MaxCorrections bounds the SQL self-correction loop per turn.
	MaxCorrections int
	// SchemaTopK is the number of schema fragments retrieved per question.
	SchemaTopK int
	// FewShotTopK is the number of example pairs retrieved per question.
	FewShotTopK int
	// MemoryTopK is the number of long-term memories recalled per question.
	MemoryTopK int
}

// DefaultConfig returns the retrieval and correction defaults.
func DefaultConfig() Config {
	return Config{
		MaxCorrections: 3,
		SchemaTopK:     5,
		FewShotTopK:    3,
		MemoryTopK:     3,
	}
}

// Agent is the conversational NL-to-SQL analyst. It owns a compiled workflow
// graph and is safe for concurrent use.
type Agent struct {
	llm     llm.Client
	vectors vectorstore.Store
	db      SQLExecutor
	logger  log.Logger
	config  Config

	app *graph.Runnable[State]
}

// Option configures an Agent.
type Option func(*Agent, *[]graph.CompileOption)

// WithLogger overrides the default logger.
func WithLogger(l log.Logger) Option {
	return func(a *Agent, _ *[]graph.CompileOption) { a.logger = l }
}

// WithConfig overrides the default retrieval and correction settings.
func WithConfig(cfg Config) Option {
	return func(a *Agent, _ *[]graph.CompileOption) { a.config = cfg }
}

// WithStore attaches a checkpoint store. Runs keyed with a thread ID become
// durable and resumable.
func WithStore(s store.Store) Option {
	return func(_ *Agent, opts *[]graph.CompileOption) {
		*opts = append(*opts, graph.WithStore(s))
	}
}

// WithMetrics attaches Prometheus metrics to the workflow engine.
func WithMetrics(m *graph.Metrics) Option {
	return func(_ *Agent, opts *[]graph.CompileOption) {
		*opts = append(*opts, graph.WithMetrics(m))
	}
}

// New builds the agent and compiles its workflow graph.
//
// Topology:
//
//	router -> direct_response -> curate_memory              (general conversation)
//	router -> load_memory -> schema_linking -> query_generation -> query_execution
//	query_execution -> self_correction -> query_execution   (on error, bounded)
//	query_execution -> summarization                        (on success or exhausted budget)
//	summarization -> plan_visualization -> figure_generation -> curate_memory  (rows)
//	summarization -> curate_memory                          (no rows)
//	curate_memory -> save_memory -> END
func New(llmClient llm.Client, vectors vectorstore.Store, db SQLExecutor, opts ...Option) (*Agent, error) {
	a := &Agent{
		llm:     llmClient,
		vectors: vectors,
		db:      db,
		logger:  log.GetDefaultLogger(),
		config:  DefaultConfig(),
	}
	var compileOpts []graph.CompileOption
	for _, opt := range opts {
		opt(a, &compileOpts)
	}
	compileOpts = append(compileOpts, graph.WithLogger(a.logger))

	g := graph.NewGraph[State]()
	nodes := []struct {
		name        string
		description string
		fn          graph.NodeFunc[State]
	}{
		{NodeRouter, "Classify the question as SQL or general conversation", a.routerNode},
		{NodeDirectResponse, "Answer general conversation directly", a.directResponseNode},
		{NodeLoadMemory, "Recall long-term user memories", a.loadMemoryNode},
		{NodeSchemaLinking, "Retrieve relevant schema and examples", a.schemaLinkingNode},
		{NodeQueryGeneration, "Generate the candidate SQL query", a.queryGenerationNode},
		{NodeQueryExecution, "Execute the SQL against the database", a.queryExecutionNode},
		{NodeSelfCorrection, "Repair the failed SQL query", a.selfCorrectionNode},
		{NodeSummarization, "Summarize the query result", a.summarizationNode},
		{NodePlanVisualization, "Plan charts for the result set", a.planVisualizationNode},
		{NodeFigureGeneration, "Render the planned charts", a.figureGenerationNode},
		{NodeCurateMemory, "Extract durable facts from the turn", a.curateMemoryNode},
		{NodeSaveMemory, "Persist curated facts", a.saveMemoryNode},
	}
	for _, n := range nodes {
		if err := g.AddNode(n.name, n.description, n.fn); err != nil {
			return nil, err
		}
	}

	g.SetEntryPoint(NodeRouter)

	g.AddConditionalEdges(NodeRouter, func(ctx context.Context, s State) string {
		return string(s.Route)
	}, map[string]string{
		string(RouteSQLQuery):            NodeLoadMemory,
		string(RouteGeneralConversation): NodeDirectResponse,
	})

	g.AddEdge(NodeDirectResponse, NodeCurateMemory)
	g.AddEdge(NodeLoadMemory, NodeSchemaLinking)
	g.AddEdge(NodeSchemaLinking, NodeQueryGeneration)
	g.AddEdge(NodeQueryGeneration, NodeQueryExecution)

	g.AddConditionalEdges(NodeQueryExecution, a.shouldCorrect, map[string]string{
		"correct":   NodeSelfCorrection,
		"summarize": NodeSummarization,
	})
	g.AddEdge(NodeSelfCorrection, NodeQueryExecution)

	g.AddConditionalEdges(NodeSummarization, func(ctx context.Context, s State) string {
		if len(s.QueryResult) > 0 {
			return "visualize"
		}
		return "skip"
	}, map[string]string{
		"visualize": NodePlanVisualization,
		"skip":      NodeCurateMemory,
	})

	g.AddEdge(NodePlanVisualization, NodeFigureGeneration)
	g.AddEdge(NodeFigureGeneration, NodeCurateMemory)
	g.AddEdge(NodeCurateMemory, NodeSaveMemory)
	g.AddEdge(NodeSaveMemory, graph.END)

	g.SetTurnSeed(seedTurn)

	app, err := g.Compile(compileOpts...)
	if err != nil {
		return nil, fmt.Errorf("compile workflow graph: %w", err)
	}
	a.app = app
	return a, nil
}

// shouldCorrect routes a failed execution back into the correction loop while
// the attempt budget lasts. An exhausted budget falls through to
// summarization, which reports the failure instead of answering.
func (a *Agent) shouldCorrect(ctx context.Context, s State) string {
	if s.SQLError != "" && s.CorrectionAttempts < a.config.MaxCorrections {
		return "correct"
	}
	return "summarize"
}

// Request is one conversational turn.
type Request struct {
	// Question is the user's natural language question.
	Question string
	// UserID keys long-term memory. Empty disables memory for the turn.
	UserID string
	// ThreadID keys checkpointing. Empty runs the turn without durability.
	ThreadID string
	// History is the prior conversation, oldest first.
	History []llm.Message
}

func (r Request) initialState() State {
	return State{
		Question:    r.Question,
		UserID:      r.UserID,
		ChatHistory: r.History,
	}
}

func (r Request) runOptions() []graph.RunOption {
	if r.ThreadID == "" {
		return nil
	}
	return []graph.RunOption{graph.WithThreadID(r.ThreadID)}
}

// Ask runs one turn to completion and returns the final state.
func (a *Agent) Ask(ctx context.Context, req Request) (State, error) {
	return a.app.Invoke(ctx, req.initialState(), req.runOptions()...)
}

// Stream runs one turn and emits workflow events as it progresses. The
// channel closes after the final event.
func (a *Agent) Stream(ctx context.Context, req Request) <-chan graph.Event[State] {
	return a.app.Stream(ctx, req.initialState(), req.runOptions()...)
}

// History returns the checkpoint history of a thread. It requires a store.
func (a *Agent) History(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	return a.app.History(ctx, threadID)
}
