package realtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/lalith-99/chatline/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	relayChannelPrefix = "chatline:conv:"
	relayPublishWait   = 2 * time.Second
	relayQueueSize     = 1024
)

var (
	envelopeEnc cbor.EncMode
	envelopeDec cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	envelopeEnc, err = opts.EncMode()
	if err != nil {
		panic("realtime: CBOR encoder initialization failed: " + err.Error())
	}
	envelopeDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("realtime: CBOR decoder initialization failed: " + err.Error())
	}
}

// envelope is what travels between nodes. Origin lets a node ignore its
// own messages when they come back from the pattern subscription.
type envelope struct {
	Origin  string      `cbor:"1,keyasint"`
	Message wireMessage `cbor:"2,keyasint"`
}

type wireMessage struct {
	ID             [16]byte        `cbor:"1,keyasint"`
	ConversationID [16]byte        `cbor:"2,keyasint"`
	Seq            int64           `cbor:"3,keyasint"`
	SenderID       [16]byte        `cbor:"4,keyasint"`
	Body           string          `cbor:"5,keyasint,omitempty"`
	CreatedAt      time.Time       `cbor:"6,keyasint"`
	Attachment     *wireAttachment `cbor:"7,keyasint,omitempty"`
}

type wireAttachment struct {
	Key      string `cbor:"1,keyasint"`
	Name     string `cbor:"2,keyasint"`
	Size     int64  `cbor:"3,keyasint"`
	MimeType string `cbor:"4,keyasint,omitempty"`
	Category string `cbor:"5,keyasint"`
}

func encodeEnvelope(origin string, m models.Message) ([]byte, error) {
	w := wireMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
	}
	if a := m.Attachment; a != nil {
		w.Attachment = &wireAttachment{Key: a.Key, Name: a.Name, Size: a.Size, MimeType: a.MimeType, Category: a.Category}
	}
	return envelopeEnc.Marshal(envelope{Origin: origin, Message: w})
}

func decodeEnvelope(data []byte) (string, models.Message, error) {
	var env envelope
	if err := envelopeDec.Unmarshal(data, &env); err != nil {
		return "", models.Message{}, fmt.Errorf("decode relay envelope: %w", err)
	}
	w := env.Message
	m := models.Message{
		ID:             uuid.UUID(w.ID),
		ConversationID: uuid.UUID(w.ConversationID),
		Seq:            w.Seq,
		SenderID:       uuid.UUID(w.SenderID),
		Body:           w.Body,
		CreatedAt:      w.CreatedAt,
	}
	if a := w.Attachment; a != nil {
		m.Attachment = &models.Attachment{Key: a.Key, Name: a.Name, Size: a.Size, MimeType: a.MimeType, Category: a.Category}
	}
	return env.Origin, m, nil
}

func relayChannel(conversationID uuid.UUID) string {
	return relayChannelPrefix + conversationID.String()
}

// Relay extends a Hub across nodes through Redis pub/sub. Locally
// committed messages go to the local hub and to Redis; messages from
// other nodes are republished into the local hub.
type Relay struct {
	rdb    redis.UniversalClient
	hub    *Hub
	nodeID string
	logger *zap.Logger

	out     chan outbound
	dropped atomic.Int64
}

type outbound struct {
	conversationID uuid.UUID
	seq            int64
	payload        []byte
}

func NewRelay(rdb redis.UniversalClient, hub *Hub, nodeID string, logger *zap.Logger) *Relay {
	return &Relay{
		rdb:    rdb,
		hub:    hub,
		nodeID: nodeID,
		logger: logger,
		out:    make(chan outbound, relayQueueSize),
	}
}

// Publish delivers msg locally and queues it for the other nodes. It
// never waits on Redis: Log calls it with the conversation lock held.
// When the queue is full the remote push is dropped and counted; remote
// subscribers still see the message through ListSince.
func (r *Relay) Publish(msg models.Message) {
	r.hub.Publish(msg)

	payload, err := encodeEnvelope(r.nodeID, msg)
	if err != nil {
		r.logger.Error("relay encode failed", zap.Error(err))
		return
	}
	select {
	case r.out <- outbound{conversationID: msg.ConversationID, seq: msg.Seq, payload: payload}:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("relay queue full, remote push dropped",
			zap.String("conversation_id", msg.ConversationID.String()),
			zap.Int64("seq", msg.Seq),
			zap.Int64("dropped_total", n),
		)
	}
}

// Dropped reports how many remote pushes were lost to a full queue.
func (r *Relay) Dropped() int64 { return r.dropped.Load() }

// Forward drains the outbound queue into Redis until ctx is done.
func (r *Relay) Forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-r.out:
			r.forward(ctx, o)
		}
	}
}

func (r *Relay) forward(ctx context.Context, o outbound) {
	ctx, cancel := context.WithTimeout(ctx, relayPublishWait)
	defer cancel()
	if err := r.rdb.Publish(ctx, relayChannel(o.conversationID), o.payload).Err(); err != nil {
		r.logger.Warn("relay publish failed",
			zap.String("conversation_id", o.conversationID.String()),
			zap.Int64("seq", o.seq),
			zap.Error(err),
		)
	}
}

// Run consumes the pattern subscription until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.rdb.PSubscribe(ctx, relayChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.logger.Info("relay subscribed", zap.String("node_id", r.nodeID))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.deliver([]byte(msg.Payload)); err != nil {
				r.logger.Warn("relay message dropped", zap.String("channel", msg.Channel), zap.Error(err))
			}
		}
	}
}

func (r *Relay) deliver(payload []byte) error {
	origin, msg, err := decodeEnvelope(payload)
	if err != nil {
		return err
	}
	if origin == r.nodeID {
		return nil
	}
	r.hub.Publish(msg)
	return nil
}
