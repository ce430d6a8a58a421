package notify

import (
	"github.com/puzpuzpuz/xsync/v3"

	"go-notify/internal/metrics"
)

// DefaultCapacity is how many undelivered events each user's channel keeps.
const DefaultCapacity = 256

// Hub maps user ids to their fan-out channel. Entries are created on first
// subscribe and live for the lifetime of the process.
//
// The map locks per bucket, so registering one user never blocks lookups
// for unrelated users.
type Hub struct {
	users    *xsync.MapOf[int64, *Broadcaster[Event]]
	capacity int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		users:    xsync.NewMapOf[int64, *Broadcaster[Event]](),
		capacity: capacity,
	}
}

// GetOrCreate returns the user's channel, creating it atomically if absent.
func (h *Hub) GetOrCreate(userID int64) *Broadcaster[Event] {
	tx, loaded := h.users.LoadOrCompute(userID, func() *Broadcaster[Event] {
		return NewBroadcaster[Event](h.capacity)
	})
	if !loaded {
		metrics.RegistryUsers.Inc()
	}
	return tx
}

// TryGet returns the user's channel only if the user has subscribed before.
func (h *Hub) TryGet(userID int64) (*Broadcaster[Event], bool) {
	return h.users.Load(userID)
}

// Len returns the number of users with a channel.
func (h *Hub) Len() int {
	return h.users.Size()
}

// Deliver sends ev to every user in users that has a channel and returns the
// ids it was sent to. Users that never subscribed are skipped. Sending never
// blocks.
func (h *Hub) Deliver(ev Event, users UserSet) []int64 {
	var sent []int64
	for _, id := range users.Sorted() {
		tx, ok := h.TryGet(id)
		if !ok {
			continue
		}
		tx.Send(ev)
		sent = append(sent, id)
	}
	return sent
}
