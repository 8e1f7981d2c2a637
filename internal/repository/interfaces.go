package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/models"
)

// Every method takes ctx first: repositories do I/O, and a cancelled
// request should cancel its queries.
//
// Not-found is reported as (nil, nil) for single-row lookups, as in the
// rest of the codebase. Callers translate that into chat.ErrNotFound.

// UserRepository backs signup/login and profile lookups.
type UserRepository interface {
	Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// ConversationRepository stores rooms, friend pairs and groups.
type ConversationRepository interface {
	// CreateRoom inserts a room and its owner membership. Returns
	// chat.ErrConflict if the name is taken.
	CreateRoom(ctx context.Context, ownerID uuid.UUID, name, showName, about string) (*models.Conversation, error)

	// CreateGroup inserts a group with the owner and the given members.
	CreateGroup(ctx context.Context, ownerID uuid.UUID, name, about string, memberIDs []uuid.UUID) (*models.Conversation, error)

	// EnsureFriendPair returns the pair for (a, b), creating it if needed.
	// a and b must already be canonical (models.CanonicalPair). Safe
	// under concurrent calls for the same pair.
	EnsureFriendPair(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)

	// GetByID returns nil, nil if the conversation does not exist.
	GetByID(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error)

	// ListForUser returns every conversation the user belongs to.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)

	// Delete removes the conversation together with its members and
	// messages in one transaction and returns the attachment keys the
	// deleted messages carried. Returns chat.ErrNotFound if absent.
	Delete(ctx context.Context, conversationID uuid.UUID) ([]string, error)
}

// MembershipRepository handles who belongs to which room or group.
type MembershipRepository interface {
	// AddMember is idempotent: adding an existing member is a no-op.
	AddMember(ctx context.Context, conversationID, userID uuid.UUID, role string) error

	// RemoveMember is idempotent: removing a non-member is a no-op.
	RemoveMember(ctx context.Context, conversationID, userID uuid.UUID) error

	ListMembers(ctx context.Context, conversationID uuid.UUID) ([]models.Member, error)

	// IsMember is the hot-path check before every send and subscribe.
	IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// MessageRepository is the durable message log.
type MessageRepository interface {
	// Append assigns the next order key for msg.ConversationID, fills in
	// ID, Seq and CreatedAt, and persists the message atomically.
	// Returns chat.ErrNotFound if the conversation vanished and
	// chat.ErrSequencerContention on serialization failures.
	Append(ctx context.Context, msg *models.Message) (*models.Message, error)

	// ListSince returns up to limit messages with Seq > after, oldest
	// first.
	ListSince(ctx context.Context, conversationID uuid.UUID, after int64, limit int) ([]models.Message, error)

	// AttachmentInUse reports whether any stored message or link preview
	// references key.
	AttachmentInUse(ctx context.Context, key string) (bool, error)

	// ConversationsWithAttachment lists conversations holding a message
	// whose attachment has the given key.
	ConversationsWithAttachment(ctx context.Context, key string) ([]uuid.UUID, error)
}

// FriendRequestRepository stores pending friend and group invitations.
type FriendRequestRepository interface {
	Create(ctx context.Context, req *models.FriendRequest) (*models.FriendRequest, error)
	GetByID(ctx context.Context, requestID uuid.UUID) (*models.FriendRequest, error)
	ListIncoming(ctx context.Context, userID uuid.UUID) ([]models.FriendRequest, error)
	SetStatus(ctx context.Context, requestID uuid.UUID, status models.FriendRequestStatus) error
}

// LinkRepository stores bookmarked links and their fetched previews.
type LinkRepository interface {
	Create(ctx context.Context, userID uuid.UUID, url, name string) (*models.Link, error)

	// ListByUser returns links newest first with PreviewKey populated
	// from link_previews.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Link, error)

	// GetPreview returns "" if no preview has been stored for url.
	GetPreview(ctx context.Context, url string) (string, error)

	// SavePreview records url -> key. Overwrites are allowed.
	SavePreview(ctx context.Context, url, key string) error

	// PreviewInUse reports whether some stored preview has image key.
	PreviewInUse(ctx context.Context, key string) (bool, error)
}

// BlobLocker serializes everything that adds or drops a reference to one
// blob key. Content addressing means two conversations can share a blob,
// so "is it still referenced, then delete" must not interleave with
// "store it, then commit a reference".
type BlobLocker interface {
	LockBlob(ctx context.Context, key string) (unlock func(), err error)
}
