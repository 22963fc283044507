package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/datanexus/log"
	"github.com/smallnest/datanexus/store"
)

// defaultMaxSteps bounds a run when the caller sets no explicit limit.
// Graphs with correction loops are cyclic; the bound stops a selector that
// never converges.
const defaultMaxSteps = 50

// EventType classifies stream events.
type EventType string

const (
	// EventNodeStart is emitted before a node function runs.
	EventNodeStart EventType = "node_start"
	// EventNodeEnd is emitted after a node function returned successfully,
	// carrying the updated state.
	EventNodeEnd EventType = "node_end"
	// EventCheckpoint is emitted after a checkpoint was durably saved.
	EventCheckpoint EventType = "checkpoint"
	// EventEnd is emitted once with the final state when the run reaches END.
	EventEnd EventType = "end"
	// EventError is emitted once if the run fails, then the channel closes.
	EventError EventType = "error"
)

// Event is a single observation from a streaming run.
type Event[S any] struct {
	Type  EventType
	Node  string
	State S
	Err   error
}

// Runnable is a compiled, executable graph. It is safe for concurrent use:
// all per-run state lives on the stack of Invoke or Stream.
type Runnable[S any] struct {
	graph    *Graph[S]
	store    store.Store
	logger   log.Logger
	metrics  *Metrics
	maxSteps int
}

type runConfig struct {
	threadID string
}

// RunOption customizes a single Invoke or Stream call.
type RunOption func(*runConfig)

// WithThreadID keys the run to a conversation thread. With a store attached,
// the run checkpoints every step under this thread and resumes from the
// latest incomplete checkpoint.
func WithThreadID(threadID string) RunOption {
	return func(c *runConfig) { c.threadID = threadID }
}

// Invoke executes the graph to completion and returns the final state.
func (r *Runnable[S]) Invoke(ctx context.Context, initialState S, opts ...RunOption) (S, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return r.run(ctx, initialState, cfg, nil)
}

// Stream executes the graph in a goroutine and emits events as it goes. The
// channel closes after EventEnd or EventError. Cancel ctx to abandon the run.
func (r *Runnable[S]) Stream(ctx context.Context, initialState S, opts ...RunOption) <-chan Event[S] {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	events := make(chan Event[S], 64)
	go func() {
		defer close(events)
		emit := func(ev Event[S]) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		if _, err := r.run(ctx, initialState, cfg, emit); err != nil {
			// The terminal event must reach the consumer even after ctx
			// is cancelled, otherwise the channel closes unresolved. The
			// buffer keeps this send from blocking an abandoned consumer.
			select {
			case events <- Event[S]{Type: EventError, Err: err}:
			default:
			}
		}
	}()
	return events
}

// run is the sequential execution loop shared by Invoke and Stream.
//
// After every node the next hop is resolved, a checkpoint recording the
// updated state and that next hop is saved, and only then does execution
// move on. A failed save aborts the run so the durable history never lags
// behind observed side effects.
func (r *Runnable[S]) run(ctx context.Context, initialState S, cfg runConfig, emit func(Event[S])) (S, error) {
	var zero S

	state := initialState
	current := r.graph.entryPoint
	seq := 0

	if r.store != nil && cfg.threadID != "" {
		resumedState, resumedNode, resumedSeq, err := r.resume(ctx, cfg.threadID, initialState)
		if err != nil {
			return zero, err
		}
		state = resumedState
		seq = resumedSeq
		if resumedNode != "" {
			current = resumedNode
			r.logger.Info("resuming thread %s at node %s (seq %d)", cfg.threadID, current, seq)
		}
	}

	steps := 0
	for current != END {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		steps++
		if steps > r.maxSteps {
			return zero, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, r.maxSteps)
		}

		n, ok := r.graph.nodes[current]
		if !ok {
			return zero, fmt.Errorf("%w: %s", ErrNodeNotFound, current)
		}

		if emit != nil {
			emit(Event[S]{Type: EventNodeStart, Node: current, State: state})
		}
		r.logger.Debug("executing node %s (step %d)", current, steps)

		start := time.Now()
		newState, err := n.fn(ctx, state)
		if err != nil {
			r.metrics.observeStep(current, time.Since(start), "error")
			r.logger.Error("node %s failed: %v", current, err)
			return zero, fmt.Errorf("node %s: %w", current, err)
		}
		r.metrics.observeStep(current, time.Since(start), "success")
		state = newState

		next, err := r.nextNode(ctx, current, state)
		if err != nil {
			return zero, err
		}

		if r.store != nil && cfg.threadID != "" {
			seq++
			cp := &store.Checkpoint{
				ID:        uuid.New().String(),
				ThreadID:  cfg.threadID,
				Seq:       seq,
				Node:      current,
				Cursor:    next,
				State:     nil,
				CreatedAt: time.Now().UTC(),
			}
			cp.State, err = json.Marshal(state)
			if err != nil {
				return zero, fmt.Errorf("marshal state after node %s: %w", current, err)
			}
			if err := r.store.Save(ctx, cp); err != nil {
				return zero, fmt.Errorf("save checkpoint after node %s: %w", current, err)
			}
			r.metrics.incCheckpoint()
			if emit != nil {
				emit(Event[S]{Type: EventCheckpoint, Node: current, State: state})
			}
		}

		if emit != nil {
			emit(Event[S]{Type: EventNodeEnd, Node: current, State: state})
		}
		current = next
	}

	if emit != nil {
		emit(Event[S]{Type: EventEnd, State: state})
	}
	return state, nil
}

// resume loads the latest checkpoint for the thread. A checkpoint whose
// cursor is END belongs to a completed run, so the new run starts from the
// entry point, optionally seeded from the previous final state, while the
// sequence keeps counting up. An incomplete checkpoint restores its state
// and continues from the cursor.
func (r *Runnable[S]) resume(ctx context.Context, threadID string, freshState S) (S, string, int, error) {
	var zero S

	cp, err := r.store.LoadLatest(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return freshState, "", 0, nil
	}
	if err != nil {
		return zero, "", 0, fmt.Errorf("load latest checkpoint for thread %s: %w", threadID, err)
	}

	if cp.Cursor == END {
		if r.graph.turnSeed != nil {
			var previous S
			if err := json.Unmarshal(cp.State, &previous); err != nil {
				return zero, "", 0, fmt.Errorf("unmarshal checkpoint state for thread %s: %w", threadID, err)
			}
			return r.graph.turnSeed(previous, freshState), "", cp.Seq, nil
		}
		return freshState, "", cp.Seq, nil
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return zero, "", 0, fmt.Errorf("unmarshal checkpoint state for thread %s: %w", threadID, err)
	}
	return state, cp.Cursor, cp.Seq, nil
}

// nextNode resolves the successor of a node. Conditional edges take
// precedence over static ones.
func (r *Runnable[S]) nextNode(ctx context.Context, current string, state S) (string, error) {
	if ce, ok := r.graph.conditional[current]; ok {
		label := ce.selector(ctx, state)
		target, ok := ce.targets[label]
		if !ok {
			return "", fmt.Errorf("%w: node %s produced label %q", ErrUnknownRoute, current, label)
		}
		return target, nil
	}

	if to, ok := r.graph.edges[current]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoOutgoingEdge, current)
}

// History returns the full checkpoint history for a thread in execution
// order. It requires a store.
func (r *Runnable[S]) History(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	if r.store == nil {
		return nil, errors.New("no checkpoint store configured")
	}
	return r.store.List(ctx, threadID)
}
