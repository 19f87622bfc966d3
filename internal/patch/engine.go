package patch

import (
	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/pointer"
)

// Engine applies patch batches to a document tree.
type Engine struct{}

// NewEngine returns a ready-to-use Engine. Engine carries no state; a
// package-level zero value would work equally well, but the constructor
// matches the rest of the service's component shape.
func NewEngine() *Engine {
	return &Engine{}
}

// Apply applies ops to *root under prefix, treating the whole batch as one
// transaction: if any operation fails, every effect of every operation
// already applied in this call is undone before the error is returned, and
// *root is left exactly as it was found.
func (e *Engine) Apply(root *document.Value, prefix pointer.Path, ops []Operation) error {
	var undo []func()
	for _, op := range ops {
		if err := e.applyOne(root, prefix, op, &undo); err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
			return err
		}
	}
	return nil
}

func (e *Engine) applyOne(root *document.Value, prefix pointer.Path, op Operation, undo *[]func()) error {
	switch op.Op {
	case OpAdd:
		return e.applyAdd(root, absolute(prefix, op.Path), op.Value, undo)
	case OpRemove:
		return e.applyRemove(root, absolute(prefix, op.Path), undo)
	case OpReplace:
		return e.applyReplace(root, absolute(prefix, op.Path), op.Value, undo)
	case OpMove:
		return e.applyMove(root, absolute(prefix, op.From), absolute(prefix, op.Path), undo)
	case OpCopy:
		return e.applyCopy(root, absolute(prefix, op.From), absolute(prefix, op.Path), undo)
	case OpTest:
		return e.applyTest(root, absolute(prefix, op.Path), op.Value)
	default:
		return wrapErr(op.Op, absolute(prefix, op.Path), ErrNotAContainer)
	}
}

func absolute(prefix, path pointer.Path) pointer.Path {
	if len(prefix) == 0 {
		return path
	}
	if len(path) == 0 {
		return prefix
	}
	out := make(pointer.Path, 0, len(prefix)+len(path))
	out = append(out, prefix...)
	out = append(out, path...)
	return out
}

// container resolves absPath's parent container, used by add/remove/
// replace/move/copy before they act on the final segment.
func container(root document.Value, parentPath pointer.Path) (document.Value, error) {
	v, err := document.Navigate(root, parentPath)
	if err != nil {
		return document.Value{}, ErrPathNotFound
	}
	return v, nil
}

func (e *Engine) applyAdd(root *document.Value, absPath pointer.Path, value document.Value, undo *[]func()) error {
	parentPath, key, hasParent := absPath.SplitLast()
	if !hasParent {
		prev := *root
		*root = value
		*undo = append(*undo, func() { *root = prev })
		return nil
	}
	parent, err := container(*root, parentPath)
	if err != nil {
		return wrapErr(OpAdd, parentPath, err)
	}
	switch parent.Kind() {
	case document.KindObject:
		obj, _ := parent.Object()
		prev, had := obj.Get(key)
		obj.Set(key, value)
		if had {
			*undo = append(*undo, func() { obj.Set(key, prev) })
		} else {
			*undo = append(*undo, func() { obj.Delete(key) })
		}
		return nil
	case document.KindArray:
		arr, _ := parent.Array()
		if key == pointer.AppendToken {
			arr.Append(value)
			idx := arr.Len() - 1
			*undo = append(*undo, func() { arr.Remove(idx) })
			return nil
		}
		idx, ok := pointer.ArrayIndex(key)
		if !ok || idx > arr.Len() || !arr.Insert(idx, value) {
			return wrapErr(OpAdd, parentPath, ErrInvalidIndex)
		}
		*undo = append(*undo, func() { arr.Remove(idx) })
		return nil
	default:
		return wrapErr(OpAdd, parentPath, ErrNotAContainer)
	}
}

func (e *Engine) applyRemove(root *document.Value, absPath pointer.Path, undo *[]func()) error {
	parentPath, key, hasParent := absPath.SplitLast()
	if !hasParent {
		return wrapErr(OpRemove, nil, ErrEmptyPath)
	}
	parent, err := container(*root, parentPath)
	if err != nil {
		return wrapErr(OpRemove, parentPath, err)
	}
	switch parent.Kind() {
	case document.KindObject:
		obj, _ := parent.Object()
		prev, idx, had := obj.DeleteAt(key)
		if !had {
			return wrapErr(OpRemove, absPath, ErrPathNotFound)
		}
		*undo = append(*undo, func() { obj.InsertAt(idx, key, prev) })
		return nil
	case document.KindArray:
		arr, _ := parent.Array()
		idx, ok := pointer.ArrayIndex(key)
		if !ok || idx >= arr.Len() {
			return wrapErr(OpRemove, parentPath, ErrInvalidIndex)
		}
		prev, _ := arr.Remove(idx)
		*undo = append(*undo, func() { arr.Insert(idx, prev) })
		return nil
	default:
		return wrapErr(OpRemove, parentPath, ErrNotAContainer)
	}
}

func (e *Engine) applyReplace(root *document.Value, absPath pointer.Path, value document.Value, undo *[]func()) error {
	if len(absPath) == 0 {
		prev := *root
		*root = value
		*undo = append(*undo, func() { *root = prev })
		return nil
	}
	parentPath, key, _ := absPath.SplitLast()
	parent, err := container(*root, parentPath)
	if err != nil {
		return wrapErr(OpReplace, absPath, err)
	}
	switch parent.Kind() {
	case document.KindObject:
		obj, _ := parent.Object()
		prev, had := obj.Get(key)
		if !had {
			return wrapErr(OpReplace, absPath, ErrPathNotFound)
		}
		obj.Set(key, value)
		*undo = append(*undo, func() { obj.Set(key, prev) })
		return nil
	case document.KindArray:
		arr, _ := parent.Array()
		idx, ok := pointer.ArrayIndex(key)
		if !ok || idx >= arr.Len() {
			return wrapErr(OpReplace, absPath, ErrInvalidIndex)
		}
		prev, _ := arr.Get(idx)
		arr.Set(idx, value)
		*undo = append(*undo, func() { arr.Set(idx, prev) })
		return nil
	default:
		return wrapErr(OpReplace, parentPath, ErrNotAContainer)
	}
}

// take returns the value at absPath. When remove is true it also removes the
// value and returns an undo closure that restores it at its original
// position; otherwise it only reads. Shared by move (remove) and copy (read
// only, so the source is never detached).
func take(root *document.Value, absPath pointer.Path, remove bool) (document.Value, func(), error) {
	parentPath, key, hasParent := absPath.SplitLast()
	if !hasParent {
		return document.Value{}, nil, ErrEmptyPath
	}
	parent, err := container(*root, parentPath)
	if err != nil {
		return document.Value{}, nil, err
	}
	switch parent.Kind() {
	case document.KindObject:
		obj, _ := parent.Object()
		if !remove {
			v, had := obj.Get(key)
			if !had {
				return document.Value{}, nil, ErrPathNotFound
			}
			return v, func() {}, nil
		}
		v, idx, had := obj.DeleteAt(key)
		if !had {
			return document.Value{}, nil, ErrPathNotFound
		}
		return v, func() { obj.InsertAt(idx, key, v) }, nil
	case document.KindArray:
		arr, _ := parent.Array()
		idx, ok := pointer.ArrayIndex(key)
		if !ok || idx >= arr.Len() {
			return document.Value{}, nil, ErrInvalidIndex
		}
		if !remove {
			v, _ := arr.Get(idx)
			return v, func() {}, nil
		}
		v, _ := arr.Remove(idx)
		return v, func() { arr.Insert(idx, v) }, nil
	default:
		return document.Value{}, nil, ErrNotAContainer
	}
}

// place inserts value at absPath and returns an undo closure that reverses
// exactly that insertion (restoring whatever was overwritten, or removing
// the newly created entry).
func place(root *document.Value, absPath pointer.Path, value document.Value) (func(), error) {
	parentPath, key, hasParent := absPath.SplitLast()
	if !hasParent {
		prev := *root
		*root = value
		return func() { *root = prev }, nil
	}
	parent, err := container(*root, parentPath)
	if err != nil {
		return nil, err
	}
	switch parent.Kind() {
	case document.KindObject:
		obj, _ := parent.Object()
		prev, had := obj.Get(key)
		obj.Set(key, value)
		if had {
			return func() { obj.Set(key, prev) }, nil
		}
		return func() { obj.Delete(key) }, nil
	case document.KindArray:
		arr, _ := parent.Array()
		if key == pointer.AppendToken {
			arr.Append(value)
			idx := arr.Len() - 1
			return func() { arr.Remove(idx) }, nil
		}
		idx, ok := pointer.ArrayIndex(key)
		if !ok || idx > arr.Len() || !arr.Insert(idx, value) {
			return nil, ErrInvalidIndex
		}
		return func() { arr.Remove(idx) }, nil
	default:
		return nil, ErrNotAContainer
	}
}

func (e *Engine) applyMove(root *document.Value, fromPath, toPath pointer.Path, undo *[]func()) error {
	value, undoTake, err := take(root, fromPath, true)
	if err != nil {
		return wrapErr(OpMove, fromPath, err)
	}
	undoPlace, err := place(root, toPath, value)
	if err != nil {
		undoTake()
		return wrapErr(OpMove, toPath, err)
	}
	*undo = append(*undo, undoTake, undoPlace)
	return nil
}

func (e *Engine) applyCopy(root *document.Value, fromPath, toPath pointer.Path, undo *[]func()) error {
	value, _, err := take(root, fromPath, false)
	if err != nil {
		return wrapErr(OpCopy, fromPath, err)
	}
	undoPlace, err := place(root, toPath, value.Clone())
	if err != nil {
		return wrapErr(OpCopy, toPath, err)
	}
	*undo = append(*undo, undoPlace)
	return nil
}

func (e *Engine) applyTest(root *document.Value, absPath pointer.Path, want document.Value) error {
	got, err := document.Navigate(*root, absPath)
	if err != nil {
		got = document.Null()
	}
	if !document.Equal(got, want) {
		return wrapErr(OpTest, absPath, ErrTestFailed)
	}
	return nil
}
