package asoc

import (
	"fmt"
	"strings"
)

// ParseKind classifies decoding failures.
type ParseKind string

const (
	ParseMalformed       ParseKind = "malformed xml"
	ParseUnknownDocument ParseKind = "unknown document type"
	ParseBadStructure    ParseKind = "bad structure"
)

// ParseError reports a document that could not be mapped to a typed value.
// It is fatal for that document only.
type ParseError struct {
	Kind ParseKind
	Path string
	Err  error
}

func (e ParseError) Error() string {
	msg := string(e.Kind)
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e ParseError) Unwrap() error {
	return e.Err
}

func (e ParseError) Is(target error) bool {
	_, ok := target.(ParseError)
	return ok
}

// ErrParse matches any ParseError via errors.Is.
var ErrParse = ParseError{}

// ValidationError is a single schema violation: which rule, where, and what
// was found.
type ValidationError struct {
	Rule   string
	Path   string
	Detail string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Detail, e.Rule)
}

// ValidationErrors aggregates every violation found in one validation pass.
// A rejected document is never partially usable; callers report the whole
// list.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "document invalid"
	}
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Error()
	}
	return "document invalid: " + strings.Join(parts, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	_, ok := target.(ValidationErrors)
	return ok
}

// ErrValidation matches any ValidationErrors via errors.Is.
var ErrValidation = ValidationErrors{}

// ContentTypeError reports an inbound exchange whose media type is not
// application/asoc+xml and that lenient sniffing (when enabled) could not
// rescue.
type ContentTypeError struct {
	Got string
}

func (e ContentTypeError) Error() string {
	if e.Got == "" {
		return "missing content type"
	}
	return fmt.Sprintf("unsupported content type %q", e.Got)
}

func (e ContentTypeError) Is(target error) bool {
	_, ok := target.(ContentTypeError)
	return ok
}

// ErrContentType matches any ContentTypeError via errors.Is.
var ErrContentType = ContentTypeError{}
