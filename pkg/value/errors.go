package value

import "fmt"

// ErrorType names the script-visible error class a ScriptError becomes when
// it reaches script code.
type ErrorType string

const (
	GenericError   ErrorType = "Error"
	TypeError      ErrorType = "TypeError"
	RangeError     ErrorType = "RangeError"
	ReferenceError ErrorType = "ReferenceError"
	ArgumentError  ErrorType = "ArgumentError"
	VerifyError    ErrorType = "VerifyError"
)

// ScriptError is a runtime error raised by the object model or a native
// function before it has been materialized as a script object. The machine
// converts it into an instance of the matching error class when it unwinds.
type ScriptError struct {
	Type    ErrorType
	Message string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Errorf builds a ScriptError of the given type.
func Errorf(t ErrorType, format string, args ...any) *ScriptError {
	return &ScriptError{Type: t, Message: fmt.Sprintf(format, args...)}
}

// ErrorData is the native payload of error objects.
type ErrorData struct {
	Type ErrorType
	// Stack is the call stack captured when the error was created, innermost
	// first.
	Stack []string
}

// LinkError reports a class that could not be linked.
type LinkError struct {
	Class  string
	Reason string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s: %s", e.Class, e.Reason)
}
