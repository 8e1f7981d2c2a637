package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/lalith-99/chatline/internal/repository"
	"github.com/lalith-99/chatline/internal/storage"
	"go.uber.org/zap"
)

const (
	maxNameLength   = 128
	maxInviteLength = 50

	defaultRoomAbout  = "welcome to my chatroom"
	defaultGroupAbout = "welcome"
)

// ConversationObserver is told about membership changes that affect
// in-process state: live subscriptions and presence.
type ConversationObserver interface {
	MemberLeft(conversationID, userID uuid.UUID)
	ConversationDeleted(conversationID uuid.UUID)
}

// Registry resolves conversations and owns their membership rules.
// Callers enforce "only members may read or write"; the Message Log
// does so through Authorize.
type Registry struct {
	conversations repository.ConversationRepository
	memberships   repository.MembershipRepository
	messages      repository.MessageRepository
	requests      repository.FriendRequestRepository
	blobs         storage.Store
	blobLocks     repository.BlobLocker
	logger        *zap.Logger

	mu        sync.RWMutex
	observers []ConversationObserver
}

func NewRegistry(
	conversations repository.ConversationRepository,
	memberships repository.MembershipRepository,
	messages repository.MessageRepository,
	requests repository.FriendRequestRepository,
	blobs storage.Store,
	blobLocks repository.BlobLocker,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		conversations: conversations,
		memberships:   memberships,
		messages:      messages,
		requests:      requests,
		blobs:         blobs,
		blobLocks:     blobLocks,
		logger:        logger,
	}
}

// Observe registers o for leave and delete notifications.
func (r *Registry) Observe(o ConversationObserver) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

func (r *Registry) snapshotObservers() []ConversationObserver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ConversationObserver(nil), r.observers...)
}

// Resolve returns the conversation or ErrNotFound.
func (r *Registry) Resolve(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error) {
	c, err := r.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return c, nil
}

// IsMember checks the membership table for rooms and groups, and the
// pair itself for friend pairs.
func (r *Registry) IsMember(ctx context.Context, userID uuid.UUID, c *models.Conversation) (bool, error) {
	if c.Kind == models.KindFriendPair {
		return c.IsPairMember(userID), nil
	}
	ok, err := r.memberships.IsMember(ctx, c.ID, userID)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

// Authorize resolves the conversation and fails with ErrUnauthorized
// unless userID is a member.
func (r *Registry) Authorize(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, error) {
	c, err := r.Resolve(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ok, err := r.IsMember(ctx, userID, c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("user %s in conversation %s: %w", userID, conversationID, ErrUnauthorized)
	}
	return c, nil
}

// Join adds userID to a room or group. Joining twice is a no-op.
func (r *Registry) Join(ctx context.Context, userID, conversationID uuid.UUID) (*models.Conversation, error) {
	c, err := r.Resolve(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c.Kind == models.KindFriendPair {
		return nil, fmt.Errorf("join friend pair: %w", ErrInvalidKind)
	}
	if err := r.memberships.AddMember(ctx, c.ID, userID, models.RoleMember); err != nil {
		return nil, fmt.Errorf("join conversation: %w", err)
	}
	return c, nil
}

// Leave removes userID from a room or group. Leaving when not a member
// is a no-op. Observers are notified either way so stale subscriptions
// are dropped.
func (r *Registry) Leave(ctx context.Context, userID, conversationID uuid.UUID) error {
	c, err := r.Resolve(ctx, conversationID)
	if err != nil {
		return err
	}
	if c.Kind == models.KindFriendPair {
		return fmt.Errorf("leave friend pair: %w", ErrInvalidKind)
	}
	if err := r.memberships.RemoveMember(ctx, c.ID, userID); err != nil {
		return fmt.Errorf("leave conversation: %w", err)
	}
	for _, o := range r.snapshotObservers() {
		o.MemberLeft(c.ID, userID)
	}
	return nil
}

// Members lists a conversation's members. Friend pairs report their two
// users.
func (r *Registry) Members(ctx context.Context, c *models.Conversation) ([]models.Member, error) {
	if c.Kind == models.KindFriendPair {
		return []models.Member{
			{ConversationID: c.ID, UserID: *c.UserA, Role: models.RoleOwner, JoinedAt: c.CreatedAt},
			{ConversationID: c.ID, UserID: *c.UserB, Role: models.RoleOwner, JoinedAt: c.CreatedAt},
		}, nil
	}
	members, err := r.memberships.ListMembers(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (r *Registry) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	list, err := r.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return list, nil
}

// CreateRoom creates a uniquely named room owned by ownerID.
func (r *Registry) CreateRoom(ctx context.Context, ownerID uuid.UUID, name, showName, about string) (*models.Conversation, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if showName == "" {
		showName = name
	}
	if about == "" {
		about = defaultRoomAbout
	}
	c, err := r.conversations.CreateRoom(ctx, ownerID, name, showName, about)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return c, nil
}

// CreateGroup creates a group owned by ownerID with the given members.
func (r *Registry) CreateGroup(ctx context.Context, ownerID uuid.UUID, name, about string, memberIDs []uuid.UUID) (*models.Conversation, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if about == "" {
		about = defaultGroupAbout
	}
	seen := map[uuid.UUID]struct{}{ownerID: {}}
	unique := make([]uuid.UUID, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id == uuid.Nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	c, err := r.conversations.CreateGroup(ctx, ownerID, name, about, unique)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return c, nil
}

// OpenFriendPair returns the single friend pair for {a, b}, creating it
// on first use. (a, b) and (b, a) resolve to the same conversation.
func (r *Registry) OpenFriendPair(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	if a == b || a == uuid.Nil || b == uuid.Nil {
		return nil, fmt.Errorf("open friend pair: users must be distinct: %w", ErrInvalidInput)
	}
	first, second := models.CanonicalPair(a, b)
	c, err := r.conversations.EnsureFriendPair(ctx, first, second)
	if err != nil {
		return nil, fmt.Errorf("open friend pair: %w", err)
	}
	return c, nil
}

// Delete removes a conversation, its memberships and its messages as one
// transaction, then releases attachment blobs no other message uses.
// Only the owner (either user of a friend pair) may delete.
func (r *Registry) Delete(ctx context.Context, userID, conversationID uuid.UUID) error {
	c, err := r.Resolve(ctx, conversationID)
	if err != nil {
		return err
	}
	if !c.IsOwner(userID) {
		return fmt.Errorf("delete conversation %s: %w", conversationID, ErrForbidden)
	}

	keys, err := r.conversations.Delete(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	// The rows are gone; blob cleanup is best effort from here on and
	// must not turn a committed delete into a reported failure.
	released := r.releaseAttachments(context.WithoutCancel(ctx), keys)
	r.logger.Info("conversation deleted",
		zap.String("conversation_id", c.ID.String()),
		zap.String("kind", string(c.Kind)),
		zap.Int("attachments_released", released),
	)

	for _, o := range r.snapshotObservers() {
		o.ConversationDeleted(c.ID)
	}
	return nil
}

// SendFriendRequest invites toUser to a friend pair with fromUser, or to
// groupID when it is set (fromUser must be a member of that group).
func (r *Registry) SendFriendRequest(ctx context.Context, fromUser, toUser uuid.UUID, invite string, groupID *uuid.UUID) (*models.FriendRequest, error) {
	if fromUser == toUser {
		return nil, fmt.Errorf("friend request to self: %w", ErrInvalidInput)
	}
	if utf8.RuneCountInString(invite) > maxInviteLength {
		return nil, fmt.Errorf("invite message longer than %d characters: %w", maxInviteLength, ErrInvalidInput)
	}
	if groupID != nil {
		g, err := r.Authorize(ctx, fromUser, *groupID)
		if err != nil {
			return nil, err
		}
		if g.Kind != models.KindGroup {
			return nil, fmt.Errorf("invite to %s: %w", g.Kind, ErrInvalidKind)
		}
	}
	req, err := r.requests.Create(ctx, &models.FriendRequest{
		FromUser:      fromUser,
		ToUser:        toUser,
		InviteMessage: invite,
		GroupID:       groupID,
	})
	if err != nil {
		return nil, fmt.Errorf("create friend request: %w", err)
	}
	return req, nil
}

// AcceptFriendRequest opens the friend pair (or joins the invited
// group) and returns the resulting conversation.
func (r *Registry) AcceptFriendRequest(ctx context.Context, userID, requestID uuid.UUID) (*models.Conversation, error) {
	req, err := r.pendingRequestFor(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}

	var c *models.Conversation
	if req.GroupID != nil {
		c, err = r.Join(ctx, req.ToUser, *req.GroupID)
	} else {
		c, err = r.OpenFriendPair(ctx, req.FromUser, req.ToUser)
	}
	if err != nil {
		return nil, err
	}

	if err := r.requests.SetStatus(ctx, req.ID, models.RequestAccepted); err != nil {
		return nil, fmt.Errorf("accept friend request: %w", err)
	}
	return c, nil
}

func (r *Registry) DeclineFriendRequest(ctx context.Context, userID, requestID uuid.UUID) error {
	req, err := r.pendingRequestFor(ctx, userID, requestID)
	if err != nil {
		return err
	}
	if err := r.requests.SetStatus(ctx, req.ID, models.RequestDeclined); err != nil {
		return fmt.Errorf("decline friend request: %w", err)
	}
	return nil
}

func (r *Registry) IncomingRequests(ctx context.Context, userID uuid.UUID) ([]models.FriendRequest, error) {
	list, err := r.requests.ListIncoming(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list friend requests: %w", err)
	}
	return list, nil
}

func (r *Registry) pendingRequestFor(ctx context.Context, userID, requestID uuid.UUID) (*models.FriendRequest, error) {
	req, err := r.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get friend request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("friend request %s: %w", requestID, ErrNotFound)
	}
	if req.ToUser != userID {
		return nil, fmt.Errorf("friend request %s addressed to another user: %w", requestID, ErrForbidden)
	}
	if req.Status != models.RequestPending {
		return nil, fmt.Errorf("friend request %s already %s: %w", requestID, req.Status, ErrConflict)
	}
	return req, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required: %w", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("name longer than %d characters: %w", maxNameLength, ErrInvalidInput)
	}
	return nil
}

// releaseAttachments deletes the blobs behind keys unless a message or
// link preview still references them. Returns how many were deleted.
func (r *Registry) releaseAttachments(ctx context.Context, keys []string) int {
	seen := make(map[string]struct{}, len(keys))
	released := 0
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		unlock, err := r.blobLocks.LockBlob(ctx, key)
		if err != nil {
			r.logger.Warn("attachment lock failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if r.releaseLocked(ctx, key) {
			released++
		}
		unlock()
	}
	return released
}

// releaseLocked deletes key's blob if nothing references it. The caller
// holds key's blob lock.
func (r *Registry) releaseLocked(ctx context.Context, key string) bool {
	inUse, err := r.messages.AttachmentInUse(ctx, key)
	if err != nil {
		r.logger.Warn("attachment reference check failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if inUse {
		return false
	}
	if err := r.blobs.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		r.logger.Warn("attachment blob delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
