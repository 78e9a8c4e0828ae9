package types

import (
	"regexp"
)

// Compiled once; identifiers and document references share the same charset.
var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	docRefRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// IsValidUserID checks a user identity for storage and display safety.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidActivity checks a declared activity against the known set.
func IsValidActivity(activity string) bool {
	switch activity {
	case ActivityIdle,
		ActivityViewingDashboard,
		ActivityReviewingEvidence,
		ActivityEditingCaseStudy,
		ActivityEditingEvent,
		ActivityManagingSchools,
		ActivityManagingUsers,
		ActivityManagingResources:
		return true
	default:
		return false
	}
}

// IsValidDocumentRef checks the two halves of a document key. The type set is
// left open: the admin panels add document kinds faster than this service
// ships, so only shape is enforced here.
func IsValidDocumentRef(docType, docID string) bool {
	if len(docType) < 1 || len(docType) > 50 {
		return false
	}
	if len(docID) < 1 || len(docID) > 100 {
		return false
	}
	return docRefRegex.MatchString(docType) && docRefRegex.MatchString(docID)
}

// IsValidMessageType checks whether a tag is one a client may send. Server
// broadcast tags arriving inbound are treated as unknown.
func IsValidMessageType(msgType string) bool {
	switch msgType {
	case MessageTypePresenceUpdate,
		MessageTypeLockRequest,
		MessageTypeUnlock,
		MessageTypeIdleUnlock,
		MessageTypeStartViewing,
		MessageTypeStopViewing,
		MessageTypeChatMessage,
		MessageTypeTypingStart,
		MessageTypeTypingStop,
		MessageTypePing:
		return true
	default:
		return false
	}
}

// Validate enforces the chat message body limit.
func (p *ChatSendPayload) Validate() error {
	if len(p.Message) < 1 {
		return ErrEmptyChatMessage
	}
	if len(p.Message) > 4096 {
		return ErrChatMessageTooLarge
	}
	if p.ToUserID != "" && !IsValidUserID(p.ToUserID) {
		return ErrInvalidUserID
	}
	return nil
}
