package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// User is an authenticated identity. The messaging core only ever
// references users by ID; the rest of the row backs signup/login.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	AvatarKey    string    `json:"avatar_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConversationKind tags which variant a Conversation is.
type ConversationKind string

const (
	KindRoom       ConversationKind = "room"
	KindFriendPair ConversationKind = "friend_pair"
	KindGroup      ConversationKind = "group"
)

func (k ConversationKind) Valid() bool {
	switch k {
	case KindRoom, KindFriendPair, KindGroup:
		return true
	}
	return false
}

// Conversation is any addressable context messages are exchanged in.
//
// Which fields are meaningful depends on Kind:
//   - room:        Name (unique among rooms), OwnerID
//   - friend_pair: UserA, UserB (canonical: UserA < UserB)
//   - group:       Name, OwnerID; members live in conversation_members
//
// LastSeq is the order key of the newest message. The message log bumps
// it under a row lock, which is what makes it the per-conversation
// sequencer.
type Conversation struct {
	ID        uuid.UUID        `json:"id"`
	Kind      ConversationKind `json:"kind"`
	Name      string           `json:"name,omitempty"`
	ShowName  string           `json:"show_name,omitempty"`
	About     string           `json:"about,omitempty"`
	OwnerID   *uuid.UUID       `json:"owner_id,omitempty"`
	UserA     *uuid.UUID       `json:"user_a,omitempty"`
	UserB     *uuid.UUID       `json:"user_b,omitempty"`
	ImageKey  string           `json:"image_key,omitempty"`
	LastSeq   int64            `json:"last_seq"`
	CreatedAt time.Time        `json:"created_at"`
}

// IsPairMember reports whether userID is one of a friend pair's two users.
func (c *Conversation) IsPairMember(userID uuid.UUID) bool {
	if c.Kind != KindFriendPair || c.UserA == nil || c.UserB == nil {
		return false
	}
	return *c.UserA == userID || *c.UserB == userID
}

// IsOwner reports whether userID may administer the conversation.
// For friend pairs either side counts as an owner.
func (c *Conversation) IsOwner(userID uuid.UUID) bool {
	if c.Kind == KindFriendPair {
		return c.IsPairMember(userID)
	}
	return c.OwnerID != nil && *c.OwnerID == userID
}

// CanonicalPair orders two user IDs so an unordered pair always maps to
// the same (a, b). Byte order of the UUID is used, matching how Postgres
// compares uuid columns.
func CanonicalPair(x, y uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(x[:], y[:]) <= 0 {
		return x, y
	}
	return y, x
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Member is the join row between a room/group and a user.
type Member struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Role           string    `json:"role"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Message is an immutable entry in a conversation's log.
//
// Seq is the order key: strictly increasing and gap-free per
// conversation. ID is globally unique and never reused.
type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	Seq            int64       `json:"seq"`
	SenderID       uuid.UUID   `json:"sender_id"`
	Body           string      `json:"body"`
	CreatedAt      time.Time   `json:"created_at"`
	Attachment     *Attachment `json:"attachment,omitempty"`
}

// Attachment category values. Category is always one of these; lookup
// failures resolve to CategoryUnknown instead of erroring.
const (
	CategoryImage   = "image"
	CategoryVideo   = "video"
	CategoryAudio   = "audio"
	CategoryText    = "text"
	CategoryFile    = "file"
	CategoryUnknown = "unknown"
)

// Attachment is owned by exactly one Message. Key is the content address
// in the attachment store; several messages may carry the same blob, so
// blobs are only released once no message references them.
type Attachment struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
	Category string `json:"category"`
}

type FriendRequestStatus string

const (
	RequestPending  FriendRequestStatus = "pending"
	RequestAccepted FriendRequestStatus = "accepted"
	RequestDeclined FriendRequestStatus = "declined"
)

// FriendRequest asks ToUser to open a friend pair with FromUser, or, when
// GroupID is set, to join that group.
type FriendRequest struct {
	ID            uuid.UUID           `json:"id"`
	FromUser      uuid.UUID           `json:"from_user"`
	ToUser        uuid.UUID           `json:"to_user"`
	InviteMessage string              `json:"invite_message"`
	GroupID       *uuid.UUID          `json:"group_id,omitempty"`
	Status        FriendRequestStatus `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Link is a bookmarked URL. PreviewKey is filled in by the link preview
// job once an image has been fetched.
type Link struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	PreviewKey string    `json:"preview_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
