package bpath

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"goros/ustr"
)

func TestReduce(t *testing.T) {
	cases := map[string]string{
		"/":               "/",
		"//":              "/",
		"/a/b/c":          "/a/b/c",
		"/a//b///c/":      "/a/b/c",
		"/a/./b/.":        "/a/b",
		"/a/b/..":         "/a",
		"/a/b/../..":      "/",
		"/a/b/../../..":   "/",
		"/../a":           "/a",
		"a/b/../c":        "a/c",
		"../a":            "../a",
		"../../a/..":      "../..",
		".":               ".",
		"":                ".",
		"a/..":            ".",
		"/tmp//test.txt":  "/tmp/test.txt",
	}
	for in, want := range cases {
		assert.Equal(t, want, Reduce(ustr.Ustr(in)).String(), "reduce(%q)", in)
	}
}

func TestReduceIdempotent(t *testing.T) {
	paths := []string{
		"/", "//a//", "a/../b/./c", "../../x", "/x/../..", "a//..//..",
		"/mnt/bin/hello", "./.././..", "a/b/c/d/../../..",
	}
	for _, p := range paths {
		once := Reduce(ustr.Ustr(p))
		twice := Reduce(once)
		assert.True(t, once.Eq(twice), "reduce not idempotent for %q: %q vs %q",
			p, once, twice)
	}
}

func TestCanonicalize(t *testing.T) {
	cwd := ustr.Ustr("/home/u")
	assert.Equal(t, "/home/u/x", Canonicalize(cwd, ustr.Ustr("x")).String())
	assert.Equal(t, "/home/x", Canonicalize(cwd, ustr.Ustr("../x")).String())
	assert.Equal(t, "/abs", Canonicalize(cwd, ustr.Ustr("/abs")).String())
}

func TestParentBase(t *testing.T) {
	assert.Equal(t, "/a/b", Parent(ustr.Ustr("/a/b/c")).String())
	assert.Equal(t, "/", Parent(ustr.Ustr("/a")).String())
	assert.Equal(t, "c", Base(ustr.Ustr("/a/b/c")).String())
	assert.Equal(t, "/", Base(ustr.Ustr("/")).String())
}
