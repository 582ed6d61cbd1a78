// Package errors provides helpers to attach context to errors for easier
// debugging. Wrapping masks the original error from type assertions, so
// callers that need the underlying value must go through Cause. This makes
// the package useful for applications rather than libraries.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

type aerr struct {
	err         error // actual error
	trace       []string
	annotations []string
}

func wrap(err error) aerr {
	if e, ok := err.(aerr); ok {
		return e
	}
	return aerr{err: err}
}

// Error implements the error interface.
func (e aerr) Error() string {
	es := e.err.Error()
	if len(e.annotations) != 0 {
		es += " (" + strings.Join(e.annotations, ", ") + ")"
	}
	if len(e.trace) != 0 {
		es += " [" + strings.Join(e.trace, ", ") + "]"
	}
	return es
}

func (e aerr) Unwrap() error {
	return e.err
}

// New returns an error with the given text.
func New(text string) error {
	return errors.New(text)
}

// Errorf formats an error value.
func Errorf(f string, v ...interface{}) error {
	return fmt.Errorf(f, v...)
}

// Cause returns the original error ignoring any attached traces or annotations.
func Cause(err error) error {
	if e, ok := err.(aerr); ok {
		return e.err
	}
	return err
}

// Trace returns an error wrapped in a struct that tracks where the error
// passed through. It should not cross package API boundaries (as it masks
// the actual error), but it gives much better feedback about the source of
// a generic error inside an application.
func Trace(err error) error {
	if err == nil {
		return nil
	}
	e := wrap(err)
	e.trace = append(e.trace, callerString(1))
	return e
}

// Traces returns the trace locations attached to an error.
func Traces(err error) []string {
	if e, ok := err.(aerr); ok {
		return e.trace
	}
	return nil
}

// Annotate adds context to an error. It can be used to attach more
// information that is useful for debugging.
func Annotate(err error, msg string) error {
	if err == nil {
		return nil
	}
	e := wrap(err)
	e.annotations = append(e.annotations, msg)
	return e
}

// Annotatef adds context to an error. It can be used to attach more
// information that is useful for debugging.
func Annotatef(err error, f string, v ...interface{}) error {
	if err == nil {
		return nil
	}
	e := wrap(err)
	e.annotations = append(e.annotations, fmt.Sprintf(f, v...))
	return e
}

// Annotations returns all annotations attached to an error.
func Annotations(err error) []string {
	if e, ok := err.(aerr); ok {
		return e.annotations
	}
	return nil
}

func callerString(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	short := file
	depth := 0
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			depth++
			if depth == 2 {
				break
			}
		}
	}
	return fmt.Sprintf("%s:%d", short, line)
}
