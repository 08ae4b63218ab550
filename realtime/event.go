package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Operation is the kind of row change carried by an event.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation accepts the SQL verb in any case.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(s)); op {
	case OpInsert, OpUpdate, OpDelete:
		return op, nil
	default:
		return "", fmt.Errorf("realtime: unknown operation %q", s)
	}
}

// ChangeEvent is a single row change observed on a table.
type ChangeEvent struct {
	Operation Operation       `json:"operation"`
	Table     string          `json:"table"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
	// Truncated is set when the row did not fit the notification and only
	// its identifier was sent.
	Truncated bool `json:"truncated,omitempty"`
}

// RowID returns the identifier of the changed row, read from the new row or,
// for deletes, the old one. It is empty when the payload carries no id.
func (e ChangeEvent) RowID() string {
	row := e.New
	if e.Operation == OpDelete || len(row) == 0 {
		row = e.Old
	}
	if len(row) == 0 {
		return ""
	}

	var head struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(row, &head); err != nil {
		return ""
	}

	switch id := head.ID.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}
