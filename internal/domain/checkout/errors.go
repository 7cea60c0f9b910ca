package checkout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors for checkout sessions.
var (
	ErrEmptyCart = errors.New("cart is empty")
	ErrNoSession = errors.New("no checkout in progress")
)

// ValidationError lists the fields that failed validation. The session stays
// in its current state.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = msg
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " " + e.Fields[name]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// StateError is returned when an operation is not allowed in the current
// state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("checkout: %s not allowed in state %s", e.Op, e.State)
}
