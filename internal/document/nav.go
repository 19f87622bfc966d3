package document

import (
	"errors"

	"github.com/sunli829/bigjson/internal/pointer"
)

// ErrNotFound is returned by Navigate when path does not resolve to a value.
var ErrNotFound = errors.New("document: path not found")

// Navigate walks root along path, following object keys and array indices,
// and returns the value found there.
func Navigate(root Value, path pointer.Path) (Value, error) {
	cur := root
	for _, segment := range path {
		next, ok := step(cur, segment)
		if !ok {
			return Value{}, ErrNotFound
		}
		cur = next
	}
	return cur, nil
}

func step(v Value, segment string) (Value, bool) {
	switch v.kind {
	case KindObject:
		return v.obj.Get(segment)
	case KindArray:
		idx, ok := pointer.ArrayIndex(segment)
		if !ok {
			return Value{}, false
		}
		return v.arr.Get(idx)
	default:
		return Value{}, false
	}
}
