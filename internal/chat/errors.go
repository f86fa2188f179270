package chat

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a chat gateway failure.
type ErrorCode string

const (
	// ErrCodeUnreachable means no candidate chat endpoint answered a probe.
	ErrCodeUnreachable ErrorCode = "ENDPOINT_UNREACHABLE"

	// ErrCodeCreateFailed means the chat server refused to create a conversation.
	ErrCodeCreateFailed ErrorCode = "CONVERSATION_CREATE_FAILED"

	// ErrCodeTransport indicates a network failure talking to a resolved endpoint.
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"

	// ErrCodeStatus indicates an unexpected HTTP status.
	ErrCodeStatus ErrorCode = "UNEXPECTED_STATUS"

	// ErrCodeToken indicates a bearer token without a usable url claim.
	ErrCodeToken ErrorCode = "INVALID_TOKEN"
)

var (
	// ErrEndpointUnreachable is fatal for any operation that needs the chat server.
	ErrEndpointUnreachable = &Error{Code: ErrCodeUnreachable, Message: "no reachable chat endpoint"}

	// ErrInvalidToken means no chat endpoint can be derived from the token.
	ErrInvalidToken = &Error{Code: ErrCodeToken, Message: "cannot derive chat endpoint"}

	// ErrConversationCreationFailed is fatal for the engagement flow.
	ErrConversationCreationFailed = &Error{Code: ErrCodeCreateFailed, Message: "could not create conversation"}
)

// Error is a coded chat gateway error. Two errors match under errors.Is when
// their codes are equal, so wrapped instances match the sentinels above.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a coded error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithContext attaches a debugging key/value.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsFatal reports errors that break every later call for the same token:
// no endpoint answered, the token carries no usable url claim, or the
// request could not be built at all.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch GetErrorCode(err) {
	case ErrCodeUnreachable, ErrCodeToken:
		return true
	case "":
		return true
	}
	return false
}

// GetErrorCode extracts the code from err, or "" when err is not a chat error.
func GetErrorCode(err error) ErrorCode {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Code
	}
	return ""
}
