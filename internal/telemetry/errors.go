package telemetry

import "fmt"

const (
	CodeMalformedInput  = "MALFORMED_INPUT"
	CodeDeliveryFailure = "DELIVERY_FAILURE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// Malformed reports a client payload that cannot be accepted.
func Malformed(msg string, cause error) error {
	return &CodedError{Code: CodeMalformedInput, Message: msg, Cause: cause}
}
