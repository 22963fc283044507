// Package graph implements a typed workflow graph: named nodes over a shared
// state type, connected by static and conditional edges, executed one step at
// a time with a durable checkpoint written after every step.
package graph

import (
	"context"
	"fmt"

	"github.com/smallnest/datanexus/log"
	"github.com/smallnest/datanexus/store"
)

// END is the terminal pseudo-node. Routing to END finishes the run.
const END = "END"

// NodeFunc is a unit of work. It receives the current state and returns the
// state the rest of the graph will see.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Selector picks a route label from the current state. The label is resolved
// against the declared target map of the conditional edge.
type Selector[S any] func(ctx context.Context, state S) string

type node[S any] struct {
	name        string
	description string
	fn          NodeFunc[S]
}

type conditionalEdge[S any] struct {
	selector Selector[S]
	targets  map[string]string
}

// Graph is a mutable graph definition. Build it with AddNode/AddEdge/
// AddConditionalEdges, then Compile it into a Runnable.
//
// Example:
//
//	g := graph.NewGraph[MyState]()
//	g.AddNode("double", "Double the counter", func(ctx context.Context, s MyState) (MyState, error) {
//	    s.Count *= 2
//	    return s, nil
//	})
//	g.AddEdge("double", graph.END)
//	g.SetEntryPoint("double")
//	app, err := g.Compile()
type Graph[S any] struct {
	nodes       map[string]node[S]
	edges       map[string]string
	conditional map[string]conditionalEdge[S]
	entryPoint  string
	turnSeed    SeedFunc[S]
}

// SeedFunc derives the initial state of a new turn on an existing thread
// from the previous turn's final state and the caller's fresh input. It runs
// only when the thread's latest checkpoint is terminal.
type SeedFunc[S any] func(previous, fresh S) S

// NewGraph creates an empty graph for state type S.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:       make(map[string]node[S]),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge[S]),
	}
}

// AddNode registers a node under a unique name.
func (g *Graph[S]) AddNode(name, description string, fn NodeFunc[S]) error {
	if name == END {
		return fmt.Errorf("%w: %q is reserved", ErrDuplicateNode, END)
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, name)
	}
	g.nodes[name] = node[S]{name: name, description: description, fn: fn}
	return nil
}

// AddEdge declares a static edge. After "from" completes, execution always
// proceeds to "to".
func (g *Graph[S]) AddEdge(from, to string) {
	g.edges[from] = to
}

// AddConditionalEdges declares a runtime-routed edge. After "from" completes,
// the selector produces a label which is resolved through targets. A label
// missing from targets fails the run with ErrUnknownRoute.
func (g *Graph[S]) AddConditionalEdges(from string, selector Selector[S], targets map[string]string) {
	g.conditional[from] = conditionalEdge[S]{selector: selector, targets: targets}
}

// SetEntryPoint sets the node the run starts from.
func (g *Graph[S]) SetEntryPoint(name string) {
	g.entryPoint = name
}

// SetTurnSeed installs the cross-turn carry-over function. Without one, each
// new turn on a thread starts from the caller's input alone.
func (g *Graph[S]) SetTurnSeed(seed SeedFunc[S]) {
	g.turnSeed = seed
}

// Compile validates the topology and returns an executable Runnable.
// Validation catches unknown edge endpoints, missing outgoing edges and an
// unset or unknown entry point, so a compiled graph cannot dangle at runtime.
func (g *Graph[S]) Compile(opts ...CompileOption) (*Runnable[S], error) {
	if g.entryPoint == "" {
		return nil, ErrEntryPointNotSet
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return nil, fmt.Errorf("%w: entry point %s", ErrNodeNotFound, g.entryPoint)
	}

	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: edge source %s", ErrNodeNotFound, from)
		}
		if to != END {
			if _, ok := g.nodes[to]; !ok {
				return nil, fmt.Errorf("%w: edge target %s", ErrNodeNotFound, to)
			}
		}
	}

	for from, ce := range g.conditional {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: conditional edge source %s", ErrNodeNotFound, from)
		}
		for label, target := range ce.targets {
			if target != END {
				if _, ok := g.nodes[target]; !ok {
					return nil, fmt.Errorf("%w: conditional target %s (label %q)", ErrNodeNotFound, target, label)
				}
			}
		}
	}

	for name := range g.nodes {
		_, hasStatic := g.edges[name]
		_, hasConditional := g.conditional[name]
		if !hasStatic && !hasConditional {
			return nil, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, name)
		}
	}

	cfg := compileConfig{
		logger:   log.GetDefaultLogger(),
		maxSteps: defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Runnable[S]{
		graph:    g,
		store:    cfg.store,
		logger:   cfg.logger,
		metrics:  cfg.metrics,
		maxSteps: cfg.maxSteps,
	}, nil
}

type compileConfig struct {
	store    store.Store
	logger   log.Logger
	metrics  *Metrics
	maxSteps int
}

// CompileOption customizes the compiled Runnable.
type CompileOption func(*compileConfig)

// WithStore attaches a checkpoint store. Runs invoked with a thread ID write
// a checkpoint after every step and resume from the latest one.
func WithStore(s store.Store) CompileOption {
	return func(c *compileConfig) { c.store = s }
}

// WithLogger overrides the package-level default logger.
func WithLogger(l log.Logger) CompileOption {
	return func(c *compileConfig) { c.logger = l }
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *Metrics) CompileOption {
	return func(c *compileConfig) { c.metrics = m }
}

// WithMaxSteps bounds the number of steps a single run may take.
func WithMaxSteps(n int) CompileOption {
	return func(c *compileConfig) { c.maxSteps = n }
}
