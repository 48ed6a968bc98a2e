package manifest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSyntax means the document is not well-formed YAML.
	ErrSyntax = errors.New("syntax error")
	// ErrSchema means a required field is missing or a field has the wrong shape.
	ErrSchema = errors.New("schema error")
	// ErrReference means a link or mount names something that is not declared.
	ErrReference = errors.New("reference error")
	// ErrCollision means a name is declared twice.
	ErrCollision = errors.New("collision error")
	// ErrCycle means links form a cycle, so no start order exists.
	ErrCycle = errors.New("cycle error")
)

// Error is a single load failure with the location it was found at.
type Error struct {
	Kind    error  // one of the Err* sentinels
	Field   string // e.g. "services.rust.links[0]"
	Line    int    // 1-based, 0 when unknown
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Errors is every failure found while validating one document.
type Errors []*Error

func (es Errors) Error() string {
	if len(es) == 1 {
		return es[0].Error()
	}
	msgs := make([]string, 0, len(es))
	for _, e := range es {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("%d errors:\n  %s", len(es), strings.Join(msgs, "\n  "))
}

func (es Errors) Unwrap() []error {
	errs := make([]error, 0, len(es))
	for _, e := range es {
		errs = append(errs, e)
	}
	return errs
}

// Of returns the errors of the given kind.
func (es Errors) Of(kind error) Errors {
	var out Errors
	for _, e := range es {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
