/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package dispatch

import "fmt"

// Messager is implemented by values that describe themselves to a user.
type Messager interface {
	Message() string
}

// Outcome is the terminal result of an operation: a value or an error.
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports whether the operation succeeded
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Message returns the short text shown for the outcome.
func (o Outcome[T]) Message() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	if m, ok := any(o.Value).(Messager); ok {
		return m.Message()
	}
	return fmt.Sprint(o.Value)
}
