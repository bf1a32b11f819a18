package parser

import "fmt"

// ParseError reports a syntactic problem at a precise source location,
// following spec.md §4.1's contract: {line, column, expected, found}.
type ParseError struct {
	Line     int
	Column   int
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: expected %s, found %s", e.Line, e.Column, e.Expected, e.Found)
}

// ParseErrors collects every error accumulated during a parse that
// recovered enough to keep looking for more. The parser returns these
// instead of stopping at the first error whenever the next token
// unambiguously resumes a known production (spec.md §4.1).
type ParseErrors []*ParseError

func (e ParseErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	s := fmt.Sprintf("%d parse errors:", len(e))
	for _, pe := range e {
		s += "\n  " + pe.Error()
	}
	return s
}
