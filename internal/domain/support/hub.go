// Package support relays live support chat between customers and admins
// and pushes account events such as role changes to connected users.
//
// Delivery is at-least-once while a subscriber is connected. There are no
// sequence numbers and nothing is replayed on reconnect.
package support

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event names on the wire.
const (
	EventSendSupportMessage    = "send_support_message"
	EventAdminSupportMessage   = "admin_support_message"
	EventReceiveSupportMessage = "receive_support_message"
	EventRoleUpdated           = "role_updated"
	EventError                 = "error"
)

// MaxMessageLength bounds a chat message, in characters.
const MaxMessageLength = 2000

// AdminRoom receives every support message.
const AdminRoom = "admin"

// UserRoom returns the room of a single user.
func UserRoom(userID string) string { return "user:" + userID }

var (
	ErrEmptyMessage    = errors.New("message required")
	ErrMessageTooLong  = errors.Errorf("message exceeds %d characters", MaxMessageLength)
	ErrMissingCustomer = errors.New("customer id required")
)

// Message is a relayed support chat message.
type Message struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Message    string    `json:"message"`
	IsAdmin    bool      `json:"isAdmin"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoleUpdate tells a user that an admin changed their role.
type RoleUpdate struct {
	UserID  string `json:"userId"`
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Event is delivered to subscribers. Exactly one payload is set.
type Event struct {
	Name    string
	Message *Message
	Role    *RoleUpdate
}

// Sender identifies who sends a chat message.
type Sender struct {
	ID   string
	Name string
}

// ActiveCustomer is a customer with an open support chat.
type ActiveCustomer struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// Subscriber receives the events of the rooms it joined. Its channel is
// closed when it unsubscribes or falls behind by more than its buffer.
type Subscriber struct {
	id      string
	events  chan Event
	rooms   []string
	closed  bool
	dropped bool
}

// ID identifies the subscriber in logs.
func (s *Subscriber) ID() string { return s.id }

// Events returns the event channel.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Hub fans events out to room subscribers.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*Subscriber]struct{}
	active map[string]ActiveCustomer
	buffer int
	now    func() time.Time

	relayed metric.Int64Counter
	dropped metric.Int64Counter
}

// NewHub creates a Hub whose subscribers buffer up to buffer events.
func NewHub(buffer int, meter metric.Meter) (*Hub, error) {
	relayed, err := meter.Int64Counter("storefront.support.messages_relayed",
		metric.WithDescription("Support chat messages relayed"))
	if err != nil {
		return nil, errors.Wrap(err, "create relayed counter")
	}
	dropped, err := meter.Int64Counter("storefront.support.subscribers_dropped",
		metric.WithDescription("Subscribers closed for falling behind"))
	if err != nil {
		return nil, errors.Wrap(err, "create dropped counter")
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		rooms:   make(map[string]map[*Subscriber]struct{}),
		active:  make(map[string]ActiveCustomer),
		buffer:  buffer,
		now:     time.Now,
		relayed: relayed,
		dropped: dropped,
	}, nil
}

// Subscribe joins the given rooms.
func (h *Hub) Subscribe(rooms ...string) *Subscriber {
	s := &Subscriber{
		id:     uuid.NewString(),
		events: make(chan Event, h.buffer),
		rooms:  slices.Compact(slices.Sorted(slices.Values(rooms))),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range s.rooms {
		members, ok := h.rooms[r]
		if !ok {
			members = make(map[*Subscriber]struct{})
			h.rooms[r] = members
		}
		members[s] = struct{}{}
	}
	return s
}

// Unsubscribe leaves all rooms and closes the event channel. It reports
// whether the hub had already dropped the subscriber for falling behind.
func (h *Hub) Unsubscribe(s *Subscriber) (dropped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
	return s.dropped
}

// SendCustomerMessage relays a customer's message to their own room and to
// the admins.
func (h *Hub) SendCustomerMessage(ctx context.Context, from Sender, text string) (Message, error) {
	text, err := normalize(text)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		ID:         uuid.NewString(),
		CustomerID: from.ID,
		SenderID:   from.ID,
		SenderName: cmp.Or(from.Name, "Customer"),
		Message:    text,
		Timestamp:  h.now(),
	}

	h.mu.Lock()
	h.active[from.ID] = ActiveCustomer{ID: from.ID, Name: msg.SenderName, LastMessageAt: msg.Timestamp}
	h.publishLocked(Event{Name: EventReceiveSupportMessage, Message: &msg}, UserRoom(from.ID), AdminRoom)
	h.mu.Unlock()

	h.relayed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("admin", false)))
	return msg, nil
}

// SendAdminMessage relays an admin reply to the customer and to the admins.
func (h *Hub) SendAdminMessage(ctx context.Context, from Sender, customerID, text string) (Message, error) {
	if customerID == "" {
		return Message{}, ErrMissingCustomer
	}
	text, err := normalize(text)
	if err != nil {
		return Message{}, err
	}
	msg := Message{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		SenderID:   from.ID,
		SenderName: cmp.Or(from.Name, "Support"),
		Message:    text,
		IsAdmin:    true,
		Timestamp:  h.now(),
	}

	h.mu.Lock()
	h.publishLocked(Event{Name: EventReceiveSupportMessage, Message: &msg}, UserRoom(customerID), AdminRoom)
	h.mu.Unlock()

	h.relayed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("admin", true)))
	return msg, nil
}

// PublishRoleUpdate notifies the user's connections of a role change.
func (h *Hub) PublishRoleUpdate(u RoleUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(Event{Name: EventRoleUpdated, Role: &u}, UserRoom(u.UserID))
}

// ActiveCustomers returns customers with an open chat, most recent first.
func (h *Hub) ActiveCustomers() []ActiveCustomer {
	h.mu.Lock()
	out := make([]ActiveCustomer, 0, len(h.active))
	for _, c := range h.active {
		out = append(out, c)
	}
	h.mu.Unlock()

	slices.SortFunc(out, func(a, b ActiveCustomer) int {
		if c := b.LastMessageAt.Compare(a.LastMessageAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// CloseChat removes a customer from the active list.
func (h *Hub) CloseChat(customerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.active, customerID)
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, members := range h.rooms {
		for s := range members {
			h.removeLocked(s)
		}
	}
}

func (h *Hub) publishLocked(ev Event, rooms ...string) {
	seen := make(map[*Subscriber]struct{})
	for _, r := range rooms {
		for s := range h.rooms[r] {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			select {
			case s.events <- ev:
			default:
				s.dropped = true
				h.removeLocked(s)
				h.dropped.Add(context.Background(), 1)
			}
		}
	}
}

func (h *Hub) removeLocked(s *Subscriber) {
	if s.closed {
		return
	}
	s.closed = true
	for _, r := range s.rooms {
		members := h.rooms[r]
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, r)
		}
	}
	close(s.events)
}

func normalize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return text, nil
}
