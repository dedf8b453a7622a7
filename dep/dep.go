/*
package dep provides utilities for dependency injection.

okay, just the one.
*/
package dep

import (
	"fmt"
	"reflect"
	"runtime"
)

// Required returns t, or panics with the caller's location if t is a zero
// reflect value (an unset interface, typically).  Wiring bugs should die
// at construction, not at first use.
func Required[T any](t T) T {
	if reflect.ValueOf(t).IsValid() {
		return t
	}
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		panic(fmt.Sprintf("missing required dependency of type %T", t))
	}
	fn := runtime.FuncForPC(pc)
	if fn != nil {
		panic(fmt.Sprintf("missing required dependency in %s (%s:%d)", fn.Name(), file, line))
	}
	panic(fmt.Sprintf("missing required dependency (%s:%d)", file, line))
}
