package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrVersionNotSupported is returned when content of a legacy document is accessed.
var ErrVersionNotSupported = errors.New("ApiVersion not supported, try upgrading to 0.5.0")

// ErrEmptyDocument is returned for blank input.
var ErrEmptyDocument = errors.New("empty document")

// SyntaxError reports malformed input at a location in the document.
type SyntaxError struct {
	Path string
	Line int
	Err  error
}

func (e *SyntaxError) Error() string {
	var b strings.Builder
	b.WriteString("syntax error")
	if e.Path != "" {
		b.WriteString(" at " + e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// DuplicateKeyError reports a mapping that declares the same key twice.
type DuplicateKeyError struct {
	Path      string
	Key       string
	Line      int
	FirstLine int
}

func (e *DuplicateKeyError) Error() string {
	where := e.Path
	if where == "" {
		where = "document root"
	}
	return fmt.Sprintf("duplicate key `%s` in %s at line %d (first defined at line %d)", e.Key, where, e.Line, e.FirstLine)
}

// UnsupportedVersionError is returned for apiVersion values this parser does not know,
// and wraps ErrVersionNotSupported for legacy ones.
type UnsupportedVersionError struct {
	Version string
}

func (e *UnsupportedVersionError) Error() string {
	if e.Version == "" {
		return "missing apiVersion: " + ErrVersionNotSupported.Error()
	}
	return fmt.Sprintf("apiVersion %q: %s", e.Version, ErrVersionNotSupported.Error())
}

func (e *UnsupportedVersionError) Unwrap() error { return ErrVersionNotSupported }

func syntaxErr(path string, line int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Path: path, Line: line, Err: fmt.Errorf(format, args...)}
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
