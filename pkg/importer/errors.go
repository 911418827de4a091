package importer

import (
	"fmt"
	"strings"
)

type ErrorKind int

const (
	// KindMissing: an import names a package that was not loaded.
	KindMissing ErrorKind = iota
	// KindCycle: packages import each other.
	KindCycle
	// KindLoad: a package document could not be located or read.
	KindLoad
	// KindConflict: an imported asset clashes with a local one.
	KindConflict
)

// DependencyError aborts import resolution.
type DependencyError struct {
	Kind ErrorKind
	// Key is the package the error is about.
	Key string
	// Path is the import chain, first element importing the second and so on.
	Path       []string
	Msg        string
	Suggestion string
	Err        error
}

func (e *DependencyError) Error() string {
	var msg string
	switch e.Kind {
	case KindMissing:
		msg = fmt.Sprintf("Could not find package with key: %s", e.Key)
	case KindCycle:
		msg = fmt.Sprintf("circular dependency: %s", strings.Join(e.Path, " -> "))
	default:
		msg = e.Msg
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf("; did you mean `%s`?", e.Suggestion)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DependencyError) Unwrap() error { return e.Err }

func conflictErr(format string, args ...any) *DependencyError {
	return &DependencyError{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}
