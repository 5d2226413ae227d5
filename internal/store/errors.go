package store

import "errors"

var (
	ErrNoCurrentChat      = errors.New("no current chat")
	ErrEmptyText          = errors.New("message text is empty")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotOwner           = errors.New("message belongs to another user")
	ErrNotConfirmed       = errors.New("message is not confirmed yet")
	ErrNotFailed          = errors.New("message has not failed")
	ErrMessageDeleted     = errors.New("message is deleted")
	ErrInvalidParticipant = errors.New("invalid participant")
	ErrNotCurrentChat     = errors.New("chat is not the current chat")
)

// RequestError is a failed backend request behind a store operation. The
// store state is left as it was before the operation, except for optimistic
// sends which are flipped to failed.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
