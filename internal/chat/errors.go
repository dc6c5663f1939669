package chat

import "errors"

// Validation and authorization errors are returned synchronously to the
// caller and never retried. ErrTransientStorage wraps retryable storage
// failures; the session adapter retries those with backoff.
var (
	ErrNotAMember          = errors.New("user is not a conversation member")
	ErrInvalidParticipants = errors.New("conversation requires at least two distinct participants")
	ErrInvalidParent       = errors.New("parent message does not belong to the conversation")
	ErrContentTooLarge     = errors.New("message content exceeds the maximum length")
	ErrNotAuthor           = errors.New("only the author may modify the message")
	ErrTransientStorage    = errors.New("transient storage error")
)
