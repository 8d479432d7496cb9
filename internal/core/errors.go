package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeNotLoggedIn    = "not_logged_in"
	ErrCodeNotInRoom      = "not_in_room"
	ErrCodeUserNotFound   = "user_not_found"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnknownCommand = "unknown_command"
	ErrCodeRateLimited    = "rate_limited"
)

var (
	// ErrNoMailbox is returned by a mailbox backend when the connection has no open mailbox.
	ErrNoMailbox = errors.New("no mailbox")
	// ErrMailboxFull is returned when a bounded mailbox cannot accept another line.
	ErrMailboxFull = errors.New("mailbox full")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

var errNotLoggedIn = coreError(ErrCodeNotLoggedIn, "Please LOGIN first")

func errNotInRoom(room string) *CoreError {
	return coreError(ErrCodeNotInRoom, "You are not in room "+room)
}

func errUserNotFound(name string) *CoreError {
	return coreError(ErrCodeUserNotFound, "User "+name+" not found")
}

func errUnknownCommand(name string) *CoreError {
	return coreError(ErrCodeUnknownCommand, "Unknown command: "+name)
}

func errMissingArgs(usage string) *CoreError {
	return coreError(ErrCodeBadRequest, usage)
}
