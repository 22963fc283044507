package graph

import "errors"

var (
	// ErrEntryPointNotSet is returned by Compile when no entry point was configured.
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrDuplicateNode is returned when a node name is registered twice.
	ErrDuplicateNode = errors.New("node already exists")

	// ErrNodeNotFound is returned when an edge or the entry point references an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoOutgoingEdge is returned by Compile for a node with no route to a successor.
	ErrNoOutgoingEdge = errors.New("no outgoing edge found for node")

	// ErrUnknownRoute is returned at runtime when a conditional edge selector
	// produces a label outside its declared target set.
	ErrUnknownRoute = errors.New("conditional edge returned unknown route label")

	// ErrMaxStepsExceeded is returned when a run takes more steps than the
	// configured bound, which usually means a cycle never converged.
	ErrMaxStepsExceeded = errors.New("maximum step count exceeded")
)
