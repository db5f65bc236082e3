package expander

import "strings"

// segment is one piece of a scanned template: either literal text or a
// single {name} / {name:spec} token.
type segment struct {
	literal string
	name    string
	spec    string
	isToken bool
}

// scan splits text into literal and token segments, left to right,
// non-overlapping. Escaped braces (`\{`, `\}`) are treated as literal text
// and are NOT unescaped here; revealing them is the job of a later pass.
// Malformed tokens (unterminated, or a name that is not an identifier) are
// kept as literal text.
func scan(text string) []segment {
	var segs []segment
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); {
		c := text[i]
		if c == '\\' && i+1 < len(text) && (text[i+1] == '{' || text[i+1] == '}') {
			lit.WriteByte(c)
			lit.WriteByte(text[i+1])
			i += 2
			continue
		}
		if c != '{' {
			lit.WriteByte(c)
			i++
			continue
		}
		name, spec, end, ok := scanToken(text, i)
		if !ok {
			lit.WriteByte(c)
			i++
			continue
		}
		flush()
		segs = append(segs, segment{name: name, spec: spec, isToken: true})
		i = end
	}
	flush()
	return segs
}

// scanToken attempts to read a {name} or {name:spec} token starting at the
// opening brace. It returns the name, the optional format spec, and the
// index just past the closing brace.
func scanToken(text string, start int) (name, spec string, end int, ok bool) {
	i := start + 1
	j := i
	for j < len(text) && isIdentChar(text[j], j == i) {
		j++
	}
	if j == i {
		return "", "", 0, false
	}
	name = text[i:j]
	if j < len(text) && text[j] == '}' {
		return name, "", j + 1, true
	}
	if j < len(text) && text[j] == ':' {
		k := j + 1
		for k < len(text) && text[k] != '}' && text[k] != '{' {
			k++
		}
		if k < len(text) && text[k] == '}' {
			return name, text[j+1 : k], k + 1, true
		}
	}
	return "", "", 0, false
}

func isIdentChar(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9':
		return !first
	default:
		return false
	}
}

// unescapeOnce strips exactly one escape level from braces. Doubly escaped
// braces lose one backslash per call, so each additional pass reveals one
// more level.
func unescapeOnce(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '\\' && i+1 < len(text) && (text[i+1] == '{' || text[i+1] == '}') {
			b.WriteByte(text[i+1])
			i++
			continue
		}
		b.WriteByte(text[i])
	}
	return b.String()
}

// hasEscapes reports whether the text still contains escaped braces.
func hasEscapes(text string) bool {
	for i := 0; i+1 < len(text); i++ {
		if text[i] == '\\' && (text[i+1] == '{' || text[i+1] == '}') {
			return true
		}
	}
	return false
}
