package messaging

import "errors"

var (
	// ErrFetchUnavailable is returned when the historical fetch for a conversation fails.
	// It is never retried automatically.
	ErrFetchUnavailable = errors.New("conversation history unavailable")

	// ErrSendFailed is returned when the store rejected an outbound message. The optimistic
	// entry has already been rolled back when the caller sees it.
	ErrSendFailed = errors.New("message send failed")

	ErrEmptyMessage   = errors.New("message content is empty")
	ErrSessionClosed  = errors.New("conversation session closed")
	ErrInvalidPartner = errors.New("invalid conversation partner")
)
