package rpcserver

import (
	"errors"
	"fmt"
	"strings"
)

// NamedError lets a handler control the error_name half of the in-band
// error payload [error_name, error_message] (spec §4.6). Handlers that
// just return a plain error get a name derived from its Go type instead.
type NamedError struct {
	Name    string
	Message string
}

func (e *NamedError) Error() string { return e.Message }

// NewNamedError constructs a NamedError, the Go equivalent of raising a
// named exception in the original implementation.
func NewNamedError(name, message string) *NamedError {
	return &NamedError{Name: name, Message: message}
}

// errorName derives the error_name reported to the client: a NamedError's
// explicit Name, or else the error's Go type with any pointer/package
// qualifier stripped (e.g. *os.PathError -> "PathError").
func errorName(err error) string {
	var named *NamedError
	if errors.As(err, &named) {
		return named.Name
	}
	t := fmt.Sprintf("%T", err)
	t = strings.TrimPrefix(t, "*")
	if i := strings.LastIndexByte(t, '.'); i >= 0 {
		t = t[i+1:]
	}
	return t
}
