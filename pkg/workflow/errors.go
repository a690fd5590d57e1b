package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// GraphErrorKind categorizes structural problems found by Validate
type GraphErrorKind string

const (
	// Edge errors
	GraphErrorDanglingEdge GraphErrorKind = "DANGLING_EDGE"
	GraphErrorInvalidEdge  GraphErrorKind = "INVALID_EDGE"
	GraphErrorUnknownPort  GraphErrorKind = "UNKNOWN_PORT"
	GraphErrorFanIn        GraphErrorKind = "FAN_IN"
	GraphErrorMemoryEdge   GraphErrorKind = "MEMORY_EDGE"

	// Shape errors
	GraphErrorCycle            GraphErrorKind = "CYCLE"
	GraphErrorIncompleteBranch GraphErrorKind = "INCOMPLETE_BRANCH"

	// Node errors
	GraphErrorDuplicateID     GraphErrorKind = "DUPLICATE_ID"
	GraphErrorUnknownNodeType GraphErrorKind = "UNKNOWN_NODE_TYPE"
	GraphErrorInvalidNode     GraphErrorKind = "INVALID_NODE"
)

// GraphError is a structural error detected before any run starts. It is
// surfaced to the workflow author and never retried.
type GraphError struct {
	Kind    GraphErrorKind
	NodeID  string
	EdgeID  string
	Path    []string // node ids forming the cycle, first id repeated at the end
	Message string
}

// Error implements the error interface
func (e *GraphError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("graph error (%s)", e.Kind))

	if e.NodeID != "" {
		parts = append(parts, fmt.Sprintf("node '%s'", e.NodeID))
	}
	if e.EdgeID != "" {
		parts = append(parts, fmt.Sprintf("edge '%s'", e.EdgeID))
	}

	message := strings.Join(parts, " ")
	if len(e.Path) > 0 {
		message += fmt.Sprintf(" path [%s]", strings.Join(e.Path, " -> "))
	}
	if e.Message != "" {
		message += ": " + e.Message
	}
	return message
}

// Is matches another GraphError by kind so callers can use errors.Is with a template
func (e *GraphError) Is(target error) bool {
	t, ok := target.(*GraphError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newGraphError(kind GraphErrorKind, nodeID, edgeID, format string, args ...interface{}) *GraphError {
	return &GraphError{
		Kind:    kind,
		NodeID:  nodeID,
		EdgeID:  edgeID,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsGraphError reports whether err is or wraps a GraphError
func IsGraphError(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge)
}

// AsGraphError extracts the GraphError from err
func AsGraphError(err error) (*GraphError, bool) {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// GraphErrorKindOf returns the kind of a wrapped GraphError or an empty kind
func GraphErrorKindOf(err error) GraphErrorKind {
	if ge, ok := AsGraphError(err); ok {
		return ge.Kind
	}
	return ""
}
