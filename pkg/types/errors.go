package types

import "errors"

var (
	ErrInvalidUserID       = errors.New("invalid user ID format")
	ErrInvalidActivity     = errors.New("unknown activity")
	ErrInvalidDocumentRef  = errors.New("invalid document reference")
	ErrEmptyChatMessage    = errors.New("chat message body is empty")
	ErrChatMessageTooLarge = errors.New("chat message exceeds 4096 bytes")
)
