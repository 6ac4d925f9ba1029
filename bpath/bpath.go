// Package bpath reduces paths to canonical form: collapsed slashes, '.'
// segments dropped, '..' segments resolved structurally, no trailing
// slash. Reduction is idempotent and never touches the filesystem.
package bpath

import "goros/ustr"

func split(p ustr.Ustr) []ustr.Ustr {
	var segs []ustr.Ustr
	i := 0
	for i < len(p) {
		for i < len(p) && p[i] == '/' {
			i++
		}
		j := i
		for j < len(p) && p[j] != '/' {
			j++
		}
		if j > i {
			segs = append(segs, p[i:j])
		}
		i = j
	}
	return segs
}

/// Reduce returns the canonical form of p. Absolute paths swallow leading
/// '..'; relative paths keep irreducible '..' prefixes.
func Reduce(p ustr.Ustr) ustr.Ustr {
	absolute := len(p) > 0 && p[0] == '/'
	var stack []ustr.Ustr
	for _, seg := range split(p) {
		if seg.Isdot() {
			continue
		}
		if seg.Isdotdot() {
			if n := len(stack); n > 0 && !stack[n-1].Isdotdot() {
				stack = stack[:n-1]
			} else if !absolute {
				stack = append(stack, seg)
			}
			continue
		}
		stack = append(stack, seg)
	}
	out := ustr.MkUstr()
	if absolute {
		out = append(out, '/')
	}
	for i, seg := range stack {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, seg...)
	}
	if len(out) == 0 {
		out = ustr.MkUstrDot()
	}
	return out
}

/// Canonicalize resolves p against cwd and reduces it.
func Canonicalize(cwd, p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return Reduce(p)
	}
	full := make(ustr.Ustr, 0, len(cwd)+1+len(p))
	full = append(full, cwd...)
	full = append(full, '/')
	full = append(full, p...)
	return Reduce(full)
}

/// Parent returns the path of the directory containing p.
func Parent(p ustr.Ustr) ustr.Ustr {
	p = Reduce(p)
	n := len(p)
	for n > 0 && p[n-1] != '/' {
		n--
	}
	for n > 1 && p[n-1] == '/' {
		n--
	}
	if n == 0 {
		return ustr.MkUstrDot()
	}
	if n == 1 && p[0] == '/' {
		return ustr.MkUstrRoot()
	}
	out := make(ustr.Ustr, n)
	copy(out, p[:n])
	return out
}

/// Base returns the final segment of p.
func Base(p ustr.Ustr) ustr.Ustr {
	p = Reduce(p)
	n := len(p)
	for n > 0 && p[n-1] != '/' {
		n--
	}
	out := make(ustr.Ustr, len(p)-n)
	copy(out, p[n:])
	if len(out) == 0 {
		return ustr.MkUstrRoot()
	}
	return out
}
