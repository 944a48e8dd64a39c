// Package errors defines the retrieval error taxonomy. Sentinels classify a
// failure; LineError pins an input failure to a file and line number.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrCorpusFormat    = errors.New("malformed corpus record")
	ErrQueryFormat     = errors.New("malformed query record")
	ErrLabelsFormat    = errors.New("malformed relevance labels")
	ErrTokenization    = errors.New("tokenization failed")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConfig          = errors.New("invalid configuration")
)

// Exit codes returned by the command-line binaries.
const (
	ExitFailure      = 1
	ExitUsage        = 2
	ExitInputFormat  = 3
	ExitTokenization = 4
)

// LineError reports a failure tied to one line of an input file.
type LineError struct {
	Err     error
	Path    string
	Line    int
	Message string
}

func (e *LineError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s:%d: %s", e.Err.Error(), e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: line %d: %s", e.Err.Error(), e.Line, e.Message)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

func AtLine(sentinel error, line int, message string) *LineError {
	return &LineError{
		Err:     sentinel,
		Line:    line,
		Message: message,
	}
}

func AtLinef(sentinel error, line int, format string, args ...any) *LineError {
	return &LineError{
		Err:     sentinel,
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithPath returns err with the file path attached if err is a LineError
// that does not carry one yet. Other errors are returned unchanged.
func WithPath(err error, path string) error {
	var lineErr *LineError
	if errors.As(err, &lineErr) && lineErr.Path == "" {
		copied := *lineErr
		copied.Path = path
		return &copied
	}
	return err
}

// Invalidf wraps ErrInvalidArgument with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfig), errors.Is(err, ErrInvalidArgument):
		return ExitUsage
	case errors.Is(err, ErrCorpusFormat), errors.Is(err, ErrQueryFormat), errors.Is(err, ErrLabelsFormat):
		return ExitInputFormat
	case errors.Is(err, ErrTokenization):
		return ExitTokenization
	default:
		return ExitFailure
	}
}
