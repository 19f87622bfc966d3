// Package patch implements RFC-6902-style JSON Patch application over a
// document tree, applying a batch transactionally with rollback on error.
package patch

import (
	"encoding/json"
	"fmt"

	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/pointer"
)

// Op names a patch operation kind.
type Op string

const (
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpReplace Op = "replace"
	OpMove    Op = "move"
	OpCopy    Op = "copy"
	OpTest    Op = "test"
)

// Operation is a single patch command. Path is always populated. From is
// populated for move/copy. Value is populated for add/replace/test.
type Operation struct {
	Op    Op
	Path  pointer.Path
	From  pointer.Path
	Value document.Value
}

// Patch is an ordered batch of operations, applied atomically.
type Patch []Operation

type wireOperation struct {
	Op    Op              `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// UnmarshalJSON decodes the RFC-6902 wire form, preserving object key order
// in any embedded Value via document.Decode instead of encoding/json's
// default map decoding.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	path, err := pointer.Parse(w.Path)
	if err != nil {
		return fmt.Errorf("patch: invalid path %q: %w", w.Path, err)
	}
	op := Operation{Op: w.Op, Path: path}
	switch w.Op {
	case OpMove, OpCopy:
		from, err := pointer.Parse(w.From)
		if err != nil {
			return fmt.Errorf("patch: invalid from %q: %w", w.From, err)
		}
		op.From = from
	case OpAdd, OpReplace, OpTest:
		if len(w.Value) == 0 {
			return fmt.Errorf("patch: %s operation requires a value", w.Op)
		}
		v, err := document.Decode(w.Value)
		if err != nil {
			return fmt.Errorf("patch: invalid value: %w", err)
		}
		op.Value = v
	case OpRemove:
		// no extra fields
	default:
		return fmt.Errorf("patch: unknown op %q", w.Op)
	}
	*o = op
	return nil
}

// MarshalJSON encodes the operation back to its RFC-6902 wire form.
func (o Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{Op: o.Op, Path: o.Path.String()}
	switch o.Op {
	case OpMove, OpCopy:
		w.From = o.From.String()
	case OpAdd, OpReplace, OpTest:
		raw, err := document.Encode(o.Value)
		if err != nil {
			return nil, err
		}
		w.Value = raw
	}
	return json.Marshal(w)
}
