// Package memory provides process-local repositories for local runs and tests.
package memory

import "fmt"

type repoError struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *repoError) Error() string { return fmt.Sprintf("memory %s: %s", e.op, e.msg) }

func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &repoError{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &repoError{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}
