// Package errs holds the error taxonomy shared by every magic-link component.
package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	Configuration     Code = "CONFIGURATION_ERROR"
	RelayConnection   Code = "RELAY_CONNECTION_FAILED"
	EncryptionFailed  Code = "ENCRYPTION_FAILED"
	DecryptionFailed  Code = "DECRYPTION_FAILED"
	EventCreation     Code = "EVENT_CREATION_FAILED"
	EventVerification Code = "EVENT_VERIFICATION_FAILED"
	TokenGeneration   Code = "TOKEN_GENERATION_ERROR"
	Validation        Code = "VALIDATION_ERROR"
	MessageSend       Code = "MESSAGE_SEND_FAILED"
)

// Error carries a stable code and a summary safe to show to users. The
// cause is kept for errors.Is/As and for logs, never for responses.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Public returns the code and summary without the cause.
func (e *Error) Public() map[string]string {
	return map[string]string{
		"code":  string(e.Code),
		"error": e.Message,
	}
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Ensure wraps err with code unless it already carries a taxonomy code, in
// which case the original classification is kept.
func Ensure(code Code, message string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(code, message, err)
}
