package index

import (
	"fmt"
	"strings"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/storage"
)

// Operation is the kind of change a component went through.
type Operation int

const (
	// OpCreate is a newly stored component.
	OpCreate Operation = iota
	// OpUpdate is a changed component.
	OpUpdate
	// OpDelete is a removed component.
	OpDelete
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseOperation parses "create", "update" or "delete", ignoring case.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create":
		return OpCreate, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	default:
		return 0, rserrors.ValidationError(
			fmt.Sprintf("unknown operation %q (valid options: create, update, delete)", s), nil)
	}
}

// ComponentEvent reports a change to a stored component.
type ComponentEvent struct {
	Repository  string
	ComponentID storage.EntityID
	Operation   Operation
}

type eventKey struct {
	repository string
	id         storage.EntityID
}

// Coalesce merges events for the same component, keeping first-seen order:
//   - CREATE + UPDATE = CREATE (component is still new)
//   - CREATE + DELETE = nothing (component never reached the index)
//   - UPDATE + DELETE = DELETE (component is gone)
//   - DELETE + CREATE = UPDATE (component was replaced)
func Coalesce(events []ComponentEvent) []ComponentEvent {
	merged := make(map[eventKey]*ComponentEvent, len(events))
	order := make([]eventKey, 0, len(events))

	for _, event := range events {
		key := eventKey{repository: event.Repository, id: event.ComponentID}
		existing, ok := merged[key]
		if !ok {
			e := event
			merged[key] = &e
			order = append(order, key)
			continue
		}
		if existing == nil {
			// cancelled earlier; a later event starts over
			e := event
			merged[key] = &e
			continue
		}
		merged[key] = coalesce(*existing, event)
	}

	out := make([]ComponentEvent, 0, len(order))
	for _, key := range order {
		if e := merged[key]; e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// coalesce returns nil when the two events cancel out.
func coalesce(existing, next ComponentEvent) *ComponentEvent {
	switch existing.Operation {
	case OpCreate:
		switch next.Operation {
		case OpUpdate, OpCreate:
			return &existing
		case OpDelete:
			return nil
		}
	case OpDelete:
		if next.Operation == OpCreate || next.Operation == OpUpdate {
			result := next
			result.Operation = OpUpdate
			return &result
		}
	}
	return &next
}
