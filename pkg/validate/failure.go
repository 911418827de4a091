package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Indent is the unit of nesting in rendered reports.
const Indent = "    "

// ConfigError is anything that can render itself into the indented report.
type ConfigError interface {
	Readable(indents int) string
}

func pad(indents int) string {
	return strings.Repeat(Indent, indents)
}

// Error is a single report line.
type Error struct {
	Msg string
}

func NewError(msg string) Error {
	return Error{Msg: msg}
}

func Errorf(format string, args ...any) Error {
	return Error{Msg: fmt.Sprintf(format, args...)}
}

func (e Error) Error() string { return e.Msg }

func (e Error) Readable(indents int) string {
	return pad(indents) + e.Msg + "\n"
}

// Failure is a flat list of report lines produced by one check.
type Failure struct {
	Errors []Error
}

func NewFailure(msgs ...string) *Failure {
	f := &Failure{}
	for _, m := range msgs {
		f.Push(m)
	}
	return f
}

func (f *Failure) Push(msg string) {
	f.Errors = append(f.Errors, NewError(msg))
}

func (f *Failure) Pushf(format string, args ...any) {
	f.Errors = append(f.Errors, Errorf(format, args...))
}

func (f *Failure) Concat(other *Failure) {
	if other == nil {
		return
	}
	f.Errors = append(f.Errors, other.Errors...)
}

// ConcatWithContext appends other's lines, each prefixed by context.
func (f *Failure) ConcatWithContext(context string, other *Failure) {
	if other == nil {
		return
	}
	for _, e := range other.Errors {
		f.Push(context + " " + e.Msg)
	}
}

func (f *Failure) Any() bool {
	return f != nil && len(f.Errors) > 0
}

func (f *Failure) Readable(indents int) string {
	if f == nil {
		return ""
	}
	var b strings.Builder
	for _, e := range f.Errors {
		b.WriteString(e.Readable(indents))
	}
	return b.String()
}

func (f *Failure) Error() string {
	lines := make([]string, 0, len(f.Errors))
	for _, e := range f.Errors {
		lines = append(lines, e.Msg)
	}
	return strings.Join(lines, "\n")
}

// Err returns nil when nothing was recorded.
func (f *Failure) Err() error {
	if !f.Any() {
		return nil
	}
	return f
}

// Group is a headed node of the report. Its children render one level deeper.
type Group struct {
	Header   string
	Children []ConfigError
}

func NewGroup(header string, children ...ConfigError) *Group {
	return &Group{Header: header, Children: children}
}

func (g *Group) Add(child ConfigError) {
	if child != nil {
		g.Children = append(g.Children, child)
	}
}

func (g *Group) Empty() bool {
	return len(g.Children) == 0
}

func (g *Group) Readable(indents int) string {
	var b strings.Builder
	b.WriteString(pad(indents) + g.Header + "\n")
	for _, c := range g.Children {
		b.WriteString(c.Readable(indents + 1))
	}
	return b.String()
}

func (g *Group) Error() string {
	return strings.TrimRight(g.Readable(0), "\n")
}

// Render concatenates the readable form of every error at the given depth.
func Render(indents int, errs ...ConfigError) string {
	var b strings.Builder
	for _, e := range errs {
		if e != nil {
			b.WriteString(e.Readable(indents))
		}
	}
	return b.String()
}

/* ---------------------------------------------------------------------
   Aggregation
   --------------------------------------------------------------------- */

type reportError struct {
	ConfigError
}

func (r reportError) Error() string {
	return strings.TrimRight(r.Readable(0), "\n")
}

func (r reportError) Unwrap() error {
	if err, ok := r.ConfigError.(error); ok {
		return err
	}
	return nil
}

// Combine folds report nodes into a single error whose message is the full
// indented report. Nil nodes are skipped; the result is nil when all are.
func Combine(errs ...ConfigError) error {
	var result *multierror.Error
	for _, e := range errs {
		if e == nil {
			continue
		}
		result = multierror.Append(result, reportError{e})
	}
	if result == nil {
		return nil
	}
	result.ErrorFormat = formatReport
	return result.ErrorOrNil()
}

func formatReport(errs []error) string {
	var b strings.Builder
	for _, err := range errs {
		var node reportError
		if errors.As(err, &node) {
			b.WriteString(node.Readable(0))
			continue
		}
		b.WriteString(err.Error() + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Nodes flattens a Combine result back into its report nodes.
func Nodes(err error) []ConfigError {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		if ce, ok := err.(ConfigError); ok {
			return []ConfigError{ce}
		}
		return nil
	}
	out := make([]ConfigError, 0, len(merr.Errors))
	for _, e := range merr.Errors {
		if node, ok := e.(reportError); ok {
			out = append(out, node.ConfigError)
		}
	}
	return out
}
