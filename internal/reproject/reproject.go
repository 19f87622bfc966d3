// Package reproject rewrites a patch batch addressed at the whole document
// into the patch batch a given subscriber should see, expressed in the
// subscriber's own coordinate frame (its subscription path becomes "").
package reproject

import (
	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/patch"
	"github.com/sunli829/bigjson/internal/pointer"
)

// classification names where an absolute target path sits relative to a
// subscription path.
type classification int

const (
	otherBranch classification = iota
	child                      // target is at or below the subscription path; rel is the path below it (possibly empty)
	parent                     // target is strictly above the subscription path; rel is the path from target down to the subscription
)

type classified struct {
	kind classification
	rel  pointer.Path
}

// classify reports how target relates to subscriptionPath: Child (target is
// the subscription path itself or nested under it), Parent (subscription
// path is nested under target), or OtherBranch (neither).
func classify(subscriptionPath, target pointer.Path) classified {
	if rel, ok := target.StripPrefix(subscriptionPath); ok {
		return classified{kind: child, rel: rel}
	}
	if rel, ok := subscriptionPath.StripPrefix(target); ok {
		return classified{kind: parent, rel: rel}
	}
	return classified{kind: otherBranch}
}

// Reproject rewrites ops (already applied to doc, addressed under prefix)
// into the patch batch subscriptionPath's subscriber should receive. doc
// must be the document state AFTER ops were applied, since some rewrites
// (move/copy crossing into the subscribed subtree from elsewhere) need to
// read the value that now lives at the target path.
func Reproject(doc document.Value, subscriptionPath, prefix pointer.Path, ops []patch.Operation) []patch.Operation {
	var out []patch.Operation
	for _, op := range ops {
		switch op.Op {
		case patch.OpAdd:
			addPatch(doc, subscriptionPath, absolute(prefix, op.Path), op.Value, &out)
		case patch.OpRemove:
			removePatch(subscriptionPath, absolute(prefix, op.Path), &out)
		case patch.OpReplace:
			replacePatch(doc, subscriptionPath, absolute(prefix, op.Path), op.Value, &out)
		case patch.OpMove:
			movePatch(doc, subscriptionPath, absolute(prefix, op.From), absolute(prefix, op.Path), &out)
		case patch.OpCopy:
			copyPatch(doc, subscriptionPath, absolute(prefix, op.From), absolute(prefix, op.Path), &out)
		}
	}
	return out
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

func addRoot(value document.Value, out *[]patch.Operation) {
	*out = append(*out, patch.Operation{Op: patch.OpAdd, Path: pointer.Root(), Value: value})
}

func current(doc document.Value, path pointer.Path) document.Value {
	v, err := document.Navigate(doc, path)
	if err != nil {
		return document.Null()
	}
	return v
}

func addPatch(doc document.Value, subscriptionPath, target pointer.Path, value document.Value, out *[]patch.Operation) {
	c := classify(subscriptionPath, target)
	switch c.kind {
	case parent:
		if sub, err := document.Navigate(value, c.rel); err == nil {
			addRoot(sub, out)
		}
	case child:
		*out = append(*out, patch.Operation{Op: patch.OpAdd, Path: c.rel, Value: value})
	case otherBranch:
	}
}

func removePatch(subscriptionPath, target pointer.Path, out *[]patch.Operation) {
	c := classify(subscriptionPath, target)
	switch c.kind {
	case parent:
		addRoot(document.Null(), out)
	case child:
		if len(c.rel) > 0 {
			*out = append(*out, patch.Operation{Op: patch.OpRemove, Path: c.rel})
		} else {
			addRoot(document.Null(), out)
		}
	case otherBranch:
	}
}

func replacePatch(doc document.Value, subscriptionPath, target pointer.Path, value document.Value, out *[]patch.Operation) {
	c := classify(subscriptionPath, target)
	switch c.kind {
	case parent:
		if sub, err := document.Navigate(value, c.rel); err == nil {
			*out = append(*out, patch.Operation{Op: patch.OpReplace, Path: pointer.Root(), Value: sub})
		}
	case child:
		*out = append(*out, patch.Operation{Op: patch.OpReplace, Path: c.rel, Value: value})
	case otherBranch:
	}
}

func movePatch(doc document.Value, subscriptionPath, from, to pointer.Path, out *[]patch.Operation) {
	cf := classify(subscriptionPath, from)
	ct := classify(subscriptionPath, to)

	switch {
	case cf.kind == child && ct.kind == child:
		*out = append(*out, patch.Operation{Op: patch.OpMove, From: cf.rel, Path: ct.rel})
	case cf.kind == otherBranch && ct.kind == child:
		*out = append(*out, patch.Operation{Op: patch.OpAdd, Path: ct.rel, Value: current(doc, to)})
	case (cf.kind == child && ct.kind == parent) ||
		(cf.kind == parent && ct.kind == parent) ||
		(cf.kind == otherBranch && ct.kind == parent):
		addRoot(current(doc, subscriptionPath), out)
	case cf.kind == parent && ct.kind == otherBranch:
		addRoot(document.Null(), out)
	case cf.kind == child && ct.kind == otherBranch:
		if len(cf.rel) > 0 {
			*out = append(*out, patch.Operation{Op: patch.OpRemove, Path: cf.rel})
		} else {
			addRoot(document.Null(), out)
		}
	case cf.kind == otherBranch && ct.kind == otherBranch:
	case cf.kind == parent && ct.kind == child:
		// Unreachable: from is a strict ancestor of the subscription path and
		// to is at or below it, which would require moving a value into its
		// own descendant.
	}
}

func copyPatch(doc document.Value, subscriptionPath, from, to pointer.Path, out *[]patch.Operation) {
	cf := classify(subscriptionPath, from)
	ct := classify(subscriptionPath, to)

	switch {
	case cf.kind == child && ct.kind == child:
		*out = append(*out, patch.Operation{Op: patch.OpCopy, From: cf.rel, Path: ct.rel})
	case (cf.kind == child && ct.kind == parent) ||
		(cf.kind == parent && ct.kind == parent) ||
		(cf.kind == otherBranch && ct.kind == parent):
		addRoot(current(doc, subscriptionPath), out)
	case (cf.kind == otherBranch && ct.kind == child) ||
		(cf.kind == parent && ct.kind == child):
		*out = append(*out, patch.Operation{Op: patch.OpAdd, Path: ct.rel, Value: current(doc, to)})
	case ct.kind == otherBranch:
	}
}
