package service

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("user already exists")
	ErrTooManyAttempts = errors.New("too many failed login attempts")
	ErrInternal        = errors.New("internal error")
)

// ConflictError names the username that is already taken.
type ConflictError struct {
	Username string
}

func (e *ConflictError) Error() string {
	return "User with username '" + e.Username + "' already exists"
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidationError maps field names to human readable messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if prev, ok := e.Fields[field]; ok {
		msg = prev + ", " + msg
	}
	e.Fields[field] = msg
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }
