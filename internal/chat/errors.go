package chat

import "errors"

// Error taxonomy for the messaging core. Handlers match on these with
// errors.Is; repositories and stores wrap them with context.
var (
	// ErrNotFound: unknown conversation, message, request or blob. No retry.
	ErrNotFound = errors.New("chat: not found")

	// ErrUnauthorized: the user is not a member of the conversation.
	ErrUnauthorized = errors.New("chat: not a member of the conversation")

	// ErrForbidden: the user is a member but lacks the right (e.g. only
	// the owner may delete a room).
	ErrForbidden = errors.New("chat: operation not permitted")

	// ErrPayloadTooLarge: text or attachment exceeds the configured bound.
	ErrPayloadTooLarge = errors.New("chat: payload too large")

	// ErrStorageUnavailable: the attachment backend failed. Retryable by
	// the caller; the message was not committed.
	ErrStorageUnavailable = errors.New("chat: attachment storage unavailable")

	// ErrSequencerContention: the per-conversation sequencer could not
	// assign an order key after bounded retries. Transient.
	ErrSequencerContention = errors.New("chat: sequencer contention")

	// ErrConflict: a uniqueness rule was violated (room name taken).
	ErrConflict = errors.New("chat: conflict")

	// ErrInvalidKind: the operation does not apply to this kind of
	// conversation (joining or leaving a friend pair).
	ErrInvalidKind = errors.New("chat: operation not supported for conversation kind")

	// ErrInvalidInput: malformed arguments (empty name, self friend pair).
	ErrInvalidInput = errors.New("chat: invalid input")

	// ErrEmptyMessage: neither text nor attachment.
	ErrEmptyMessage = errors.New("chat: empty message (no body or attachment)")
)
