// Package recovery turns recovered panic values into errors that carry
// the originating goroutine's stack, so the store's supervisor can log a
// crashed background task without taking the process down with it.
package recovery

import (
	"fmt"
	"runtime/debug"
)

// PanicError is a panic captured from one of the store's background
// tasks, annotated with the name the supervisor registered the task
// under.
type PanicError struct {
	Task  string
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("task %q panicked: %v", p.Task, p.Value)
}

// Capture wraps a value obtained from recover(). It must be called from
// the deferred function that recovered, while the panicking goroutine's
// stack is still the current one — deferring the capture any further
// would record the supervisor's stack instead of the crash site's.
func Capture(task string, value interface{}) *PanicError {
	return &PanicError{Task: task, Value: value, Stack: debug.Stack()}
}

// Detail renders the panic value together with its stack, shaped for a
// single structured-log field.
func (p *PanicError) Detail() string {
	return fmt.Sprintf("%v\n%s", p.Value, p.Stack)
}
