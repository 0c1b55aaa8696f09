// Package errcode defines the API error codes served by the registry and
// their mapping onto HTTP statuses and the npm error envelope.
package errcode

import "fmt"

// ErrorCode is a process-unique identifier assigned at registration time.
// Errors are serialized via their string value; the integer format may
// change and must never be persisted.
type ErrorCode int

// ErrorDescriptor describes one registered error condition.
type ErrorDescriptor struct {
	// Code is assigned by Register and unique within the process.
	Code ErrorCode

	// Value is the stable uppercase identifier, unique across groups.
	Value string

	// Message is the human readable text placed in the npm error
	// envelope. It may contain %s substitutions filled by WithArgs.
	Message string

	// HTTPStatusCode is the status served for this condition. Zero
	// means 500.
	HTTPStatusCode int
}

// Descriptor returns the descriptor registered for ec.
func (ec ErrorCode) Descriptor() ErrorDescriptor {
	d, ok := errorCodeToDescriptors[ec]
	if !ok {
		return ErrorCodeUnknown.Descriptor()
	}
	return d
}

// String returns the canonical identifier for this error code.
func (ec ErrorCode) String() string {
	return ec.Descriptor().Value
}

// Message returns the message registered for ec.
func (ec ErrorCode) Message() string {
	return ec.Descriptor().Message
}

// Error implements the error interface so a bare code can travel as an
// error value.
func (ec ErrorCode) Error() string {
	return ec.Message()
}

// WithMessage builds an Error carrying a custom message in place of the
// registered one.
func (ec ErrorCode) WithMessage(message string) Error {
	return Error{Code: ec, Message: message}
}

// WithArgs fills the %s substitutions of the registered message.
func (ec ErrorCode) WithArgs(args ...interface{}) Error {
	return Error{Code: ec, Message: fmt.Sprintf(ec.Message(), args...)}
}

// Error pairs a code with its rendered message.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Message)
}

// ErrorCode makes Error an ErrorCoder.
func (e Error) ErrorCode() ErrorCode {
	return e.Code
}

// ErrorCoder is implemented by error values that carry an API error code.
type ErrorCoder interface {
	ErrorCode() ErrorCode
}
