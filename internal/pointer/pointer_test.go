package pointer

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"/foo", "/foo"},
		{"/foo/0", "/foo/0"},
		{"/", "/"},
		{"/a~1b", "/a~1b"},
		{"/m~0n", "/m~0n"},
		// A "~" not followed by "0" or "1" is kept as a literal "~", which
		// String then writes in its escaped form "~0".
		{"/a~c/~1bc/~2d", "/a~0c/~1bc/~02d"},
	}
	for _, c := range cases {
		p, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got := p.String(); got != c.want {
			t.Errorf("Parse(%q).String() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseSegments(t *testing.T) {
	p := MustParse("/a~1b")
	if len(p) != 1 || p[0] != "a/b" {
		t.Fatalf("got %v", p)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("foo"); err == nil {
		t.Fatal("expected error for non-leading-slash pointer")
	}
}

func TestSplitLast(t *testing.T) {
	p := MustParse("/a/b/c")
	parent, last, ok := p.SplitLast()
	if !ok || last != "c" || parent.String() != "/a/b" {
		t.Fatalf("got parent=%v last=%q ok=%v", parent, last, ok)
	}
	root := Root()
	if _, _, ok := root.SplitLast(); ok {
		t.Fatal("expected root SplitLast to report ok=false")
	}
}

func TestHasPrefixAndStrip(t *testing.T) {
	p := MustParse("/a/b/c")
	if !p.HasPrefix(MustParse("/a/b")) {
		t.Fatal("expected prefix match")
	}
	rest, ok := p.StripPrefix(MustParse("/a/b"))
	if !ok || rest.String() != "/c" {
		t.Fatalf("got rest=%v ok=%v", rest, ok)
	}
	if _, ok := p.StripPrefix(MustParse("/x")); ok {
		t.Fatal("expected no match")
	}
}

func TestViewWithPrefix(t *testing.T) {
	v := View{Prefix: MustParse("/a/b/c"), Path: MustParse("/d/e/f")}
	if got := v.String(); got != "/a/b/c/d/e/f" {
		t.Fatalf("got %q", got)
	}
	parent, last, ok := v.SplitLast()
	if !ok || last != "f" || parent.String() != "/a/b/c/d/e" {
		t.Fatalf("got parent=%v last=%q ok=%v", parent, last, ok)
	}
}

func TestArrayIndex(t *testing.T) {
	cases := map[string]struct {
		n  int
		ok bool
	}{
		"0":  {0, true},
		"3":  {3, true},
		"01": {0, false},
		"-":  {0, false},
		"a":  {0, false},
		"":   {0, false},
	}
	for segment, want := range cases {
		n, ok := ArrayIndex(segment)
		if n != want.n || ok != want.ok {
			t.Errorf("ArrayIndex(%q) = (%d,%v), want (%d,%v)", segment, n, ok, want.n, want.ok)
		}
	}
}
