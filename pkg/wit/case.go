package wit

import (
	"regexp"
	"strings"
	"unicode"
)

var digitBoundary = regexp.MustCompile(`[-_](\d+)`)

// keywords collide with WIT syntax or builtin type names and must be written
// with a leading '%'.
var keywords = map[string]bool{
	"record": true, "variant": true, "enum": true, "flags": true,
	"resource": true, "type": true, "world": true, "interface": true,
	"use": true, "package": true, "func": true, "import": true,
	"export": true, "include": true, "with": true, "as": true,
	"from": true, "static": true, "constructor": true, "own": true,
	"borrow": true,
	"bool": true, "string": true, "char": true,
	"s8": true, "s16": true, "s32": true, "s64": true,
	"u8": true, "u16": true, "u32": true, "u64": true,
	"f32": true, "f64": true,
	"list": true, "option": true, "result": true, "tuple": true,
}

// IsKeyword reports identifiers that need escaping.
func IsKeyword(name string) bool {
	return keywords[name]
}

// Name converts an identifier written in kebab, snake, camel, Pascal, train,
// Ada or upper-snake case to lower kebab case. Digits stay attached to the
// word before them, so `line-0`, `line_0` and `line0` all become `line0`.
func Name(s string) string {
	words := splitWords(s)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return digitBoundary.ReplaceAllString(strings.Join(words, "-"), "$1")
}

// Ident is Name with keyword escaping applied.
func Ident(s string) string {
	n := Name(s)
	if IsKeyword(n) {
		return "%" + n
	}
	return n
}

func splitWords(s string) []string {
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '-' || r == '_' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && len(cur) > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// myType, type0Name, HTTPServer
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
