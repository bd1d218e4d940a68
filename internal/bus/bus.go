package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/types"
)

const (
	subscriberBufSize = 64
	tapBufSize        = 256
)

// Bus carries loop notifications to observers. Publishing never blocks the
// loop worker: a slow observer loses messages, the worker does not stall.
// The auditor receives a read-only tap of every message published.
type Bus struct {
	log         *logger.Logger
	mu          sync.RWMutex
	subscribers map[types.MessageType][]chan types.Message
	tapCh       chan types.Message
}

// New creates a new Bus. A nil logger discards drop warnings.
func New(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &Bus{
		log:         log,
		subscribers: make(map[types.MessageType][]chan types.Message),
		tapCh:       make(chan types.Message, tapBufSize),
	}
}

// Publish fans out msg to all subscribers of msg.Type and to the tap channel.
// ID and Timestamp are filled in when empty.
//
// Expectations:
//   - Never blocks; a full subscriber channel drops the message with a warning
//   - Every subscriber of msg.Type receives its own copy
//   - The tap receives every message regardless of type
func (b *Bus) Publish(msg types.Message) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subscribers[msg.Type]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			b.log.Warn("[BUS] subscriber channel full, message dropped", "type", msg.Type, "from", msg.From)
		}
	}

	select {
	case b.tapCh <- msg:
	default:
		b.log.Warn("[BUS] tap channel full, audit message dropped", "type", msg.Type)
	}
}

// Subscribe returns a receive-only channel that delivers messages of type t.
// Each call creates a new independent subscriber channel.
func (b *Bus) Subscribe(t types.MessageType) <-chan types.Message {
	ch := make(chan types.Message, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[t] = append(b.subscribers[t], ch)
	b.mu.Unlock()
	return ch
}

// Tap returns the read-only tap channel for the auditor.
// Only one consumer should call this; calling it multiple times returns the same channel.
func (b *Bus) Tap() <-chan types.Message {
	return b.tapCh
}
