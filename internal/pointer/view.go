package pointer

// View is a non-owning composite of a prefix path and a relative path: the
// prefix is an absolute location (e.g. the prefix an HTTP client addressed
// with /data/<prefix>), and path is a location relative to that prefix.
// View is a standalone helper; the patch engine and the re-projector take
// the prefix as a separate Path and join it with each op path, which
// allocates a new slice per operation.
type View struct {
	Prefix Path
	Path   Path
}

// RootView addresses the whole document.
func RootView() View {
	return View{}
}

// WithPath returns a view over the same prefix with a different relative
// path, without touching Prefix.
func (v View) WithPath(path Path) View {
	return View{Prefix: v.Prefix, Path: path}
}

// Len returns the total number of segments across prefix and path.
func (v View) Len() int {
	return len(v.Prefix) + len(v.Path)
}

// At returns the segment at absolute index i (0-based across prefix then
// path).
func (v View) At(i int) string {
	if i < len(v.Prefix) {
		return v.Prefix[i]
	}
	return v.Path[i-len(v.Prefix)]
}

// Absolute materializes the full path (prefix followed by path). This
// allocates; callers on hot paths should prefer comparing views segment by
// segment via Len/At instead.
func (v View) Absolute() Path {
	if len(v.Prefix) == 0 {
		return v.Path
	}
	if len(v.Path) == 0 {
		return v.Prefix
	}
	out := make(Path, 0, len(v.Prefix)+len(v.Path))
	out = append(out, v.Prefix...)
	out = append(out, v.Path...)
	return out
}

// String renders the absolute path's wire form.
func (v View) String() string {
	return v.Absolute().String()
}

// SplitLast splits the absolute path into parent view and final segment.
// Ok is false only if both prefix and path are empty.
func (v View) SplitLast() (parent View, last string, ok bool) {
	if len(v.Path) > 0 {
		return View{Prefix: v.Prefix, Path: v.Path[:len(v.Path)-1]}, v.Path[len(v.Path)-1], true
	}
	if len(v.Prefix) > 0 {
		return View{Path: v.Prefix[:len(v.Prefix)-1]}, v.Prefix[len(v.Prefix)-1], true
	}
	return View{}, "", false
}

// StripAbsolutePrefix strips an absolute path prefix from v, returning the
// remainder as a plain Path and ok=false if v's absolute path does not start
// with prefix.
func (v View) StripAbsolutePrefix(prefix Path) (Path, bool) {
	return v.Absolute().StripPrefix(prefix)
}
