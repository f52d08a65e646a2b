package catalog

import (
	"strings"

	"github.com/agentstation/taxonsync/pkg/errors"
)

// Operation is the mutation a task applies to an external resource.
type Operation string

// Operations understood by the engine.
const (
	OpNone      Operation = "none"
	OpSkip      Operation = "skip"
	OpCreate    Operation = "create"
	OpUpdate    Operation = "update"
	OpDelete    Operation = "delete"
	OpPublish   Operation = "publish"
	OpUnpublish Operation = "unpublish"
	OpRelocate  Operation = "relocate"
)

// String returns the string representation of an Operation.
func (o Operation) String() string {
	return string(o)
}

// Mutating reports whether the operation writes to a platform.
func (o Operation) Mutating() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete, OpPublish, OpUnpublish, OpRelocate:
		return true
	}
	return false
}

// ParseOperation parses a row action. An empty action means none.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	switch op {
	case "":
		return OpNone, nil
	case OpNone, OpSkip, OpCreate, OpUpdate, OpDelete, OpPublish, OpUnpublish:
		return op, nil
	}
	return "", errors.NewValidationError("action", s, "unknown action")
}

// SyncTask is a unit of work: one entity on one platform.
type SyncTask struct {
	Kind      Kind
	Entity    *Entity
	Platform  PlatformID
	Operation Operation
	Attempts  int
}
