package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Count   int    `json:"count"`
	Visited string `json:"visited"`
}

func passthrough(ctx context.Context, s counterState) (counterState, error) {
	return s, nil
}

func TestGraph_AddNodeDuplicate(t *testing.T) {
	g := NewGraph[counterState]()

	require.NoError(t, g.AddNode("a", "", passthrough))
	err := g.AddNode("a", "", passthrough)
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

func TestGraph_AddNodeReservedName(t *testing.T) {
	g := NewGraph[counterState]()

	err := g.AddNode(END, "", passthrough)
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

func TestGraph_CompileWithoutEntryPoint(t *testing.T) {
	g := NewGraph[counterState]()
	require.NoError(t, g.AddNode("a", "", passthrough))
	g.AddEdge("a", END)

	_, err := g.Compile()
	assert.ErrorIs(t, err, ErrEntryPointNotSet)
}

func TestGraph_CompileUnknownEntryPoint(t *testing.T) {
	g := NewGraph[counterState]()
	require.NoError(t, g.AddNode("a", "", passthrough))
	g.AddEdge("a", END)
	g.SetEntryPoint("missing")

	_, err := g.Compile()
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_CompileUnknownEdgeTarget(t *testing.T) {
	g := NewGraph[counterState]()
	require.NoError(t, g.AddNode("a", "", passthrough))
	g.AddEdge("a", "missing")
	g.SetEntryPoint("a")

	_, err := g.Compile()
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_CompileUnknownConditionalTarget(t *testing.T) {
	g := NewGraph[counterState]()
	require.NoError(t, g.AddNode("a", "", passthrough))
	g.AddConditionalEdges("a", func(ctx context.Context, s counterState) string {
		return "x"
	}, map[string]string{"x": "missing"})
	g.SetEntryPoint("a")

	_, err := g.Compile()
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_CompileDanglingNode(t *testing.T) {
	g := NewGraph[counterState]()
	require.NoError(t, g.AddNode("a", "", passthrough))
	require.NoError(t, g.AddNode("dangling", "", passthrough))
	g.AddEdge("a", "dangling")
	g.SetEntryPoint("a")

	_, err := g.Compile()
	assert.ErrorIs(t, err, ErrNoOutgoingEdge)
}

func TestGraph_CompileValid(t *testing.T) {
	g := NewGraph[counterState]()
	require.NoError(t, g.AddNode("a", "", passthrough))
	require.NoError(t, g.AddNode("b", "", passthrough))
	g.AddEdge("a", "b")
	g.AddConditionalEdges("b", func(ctx context.Context, s counterState) string {
		return "done"
	}, map[string]string{"done": END, "again": "a"})
	g.SetEntryPoint("a")

	app, err := g.Compile()
	require.NoError(t, err)
	assert.NotNil(t, app)
}
