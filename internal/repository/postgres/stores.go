package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/chatline/internal/repository"
)

var (
	_ repository.UserRepository          = (*UserStore)(nil)
	_ repository.ConversationRepository  = (*ConversationStore)(nil)
	_ repository.MembershipRepository    = (*MembershipStore)(nil)
	_ repository.MessageRepository       = (*MessageStore)(nil)
	_ repository.FriendRequestRepository = (*FriendRequestStore)(nil)
	_ repository.LinkRepository          = (*LinkStore)(nil)
	_ repository.BlobLocker              = (*BlobLocks)(nil)
)

// Stores bundles every repository over one pool.
type Stores struct {
	Users          *UserStore
	Conversations  *ConversationStore
	Memberships    *MembershipStore
	Messages       *MessageStore
	FriendRequests *FriendRequestStore
	Links          *LinkStore
	BlobLocks      *BlobLocks
}

func NewStores(pool *pgxpool.Pool) *Stores {
	return &Stores{
		Users:          NewUserStore(pool),
		Conversations:  NewConversationStore(pool),
		Memberships:    NewMembershipStore(pool),
		Messages:       NewMessageStore(pool),
		FriendRequests: NewFriendRequestStore(pool),
		Links:          NewLinkStore(pool),
		BlobLocks:      NewBlobLocks(pool),
	}
}
