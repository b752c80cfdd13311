package support

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func newTestHub(t *testing.T, buffer int) *Hub {
	t.Helper()
	h, err := NewHub(buffer, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return h
}

func drain(s *Subscriber) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_CustomerMessageRouting(t *testing.T) {
	h := newTestHub(t, 8)
	ctx := context.Background()

	alice := h.Subscribe(UserRoom("alice"))
	bob := h.Subscribe(UserRoom("bob"))
	admin := h.Subscribe(UserRoom("admin1"), AdminRoom)

	msg, err := h.SendCustomerMessage(ctx, Sender{ID: "alice", Name: "Alice"}, "  where is my order?  ")
	require.NoError(t, err)
	assert.Equal(t, "where is my order?", msg.Message)
	assert.False(t, msg.IsAdmin)

	got := drain(alice)
	require.Len(t, got, 1, "customer receives their own message")
	assert.Equal(t, EventReceiveSupportMessage, got[0].Name)
	assert.Equal(t, msg.ID, got[0].Message.ID)

	assert.Len(t, drain(admin), 1)
	assert.Empty(t, drain(bob), "other customers see nothing")
}

func TestHub_AdminReplyRouting(t *testing.T) {
	h := newTestHub(t, 8)
	ctx := context.Background()

	alice := h.Subscribe(UserRoom("alice"))
	bob := h.Subscribe(UserRoom("bob"))
	admin1 := h.Subscribe(UserRoom("admin1"), AdminRoom)
	admin2 := h.Subscribe(AdminRoom)

	_, err := h.SendAdminMessage(ctx, Sender{ID: "admin1"}, "", "hello")
	require.ErrorIs(t, err, ErrMissingCustomer)

	msg, err := h.SendAdminMessage(ctx, Sender{ID: "admin1"}, "alice", "It ships today")
	require.NoError(t, err)
	assert.True(t, msg.IsAdmin)
	assert.Equal(t, "Support", msg.SenderName)
	assert.Equal(t, "alice", msg.CustomerID)

	assert.Len(t, drain(alice), 1)
	assert.Empty(t, drain(bob))
	assert.Len(t, drain(admin1), 1, "subscriber in two target rooms gets one copy")
	assert.Len(t, drain(admin2), 1)
}

func TestHub_MessageValidation(t *testing.T) {
	h := newTestHub(t, 8)
	ctx := context.Background()

	_, err := h.SendCustomerMessage(ctx, Sender{ID: "alice"}, "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = h.SendCustomerMessage(ctx, Sender{ID: "alice"}, strings.Repeat("a", MaxMessageLength+1))
	require.ErrorIs(t, err, ErrMessageTooLong)

	assert.Empty(t, h.ActiveCustomers())
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	h := newTestHub(t, 2)
	ctx := context.Background()

	slow := h.Subscribe(AdminRoom)
	fast := h.Subscribe(AdminRoom)

	for i := range 3 {
		_, err := h.SendCustomerMessage(ctx, Sender{ID: "alice"}, "msg")
		require.NoError(t, err, "message %d", i)
		drain(fast)
	}

	got := drain(slow)
	assert.Len(t, got, 2, "buffered events are still delivered")
	_, ok := <-slow.Events()
	assert.False(t, ok, "channel closed after overflow")
	assert.True(t, h.Unsubscribe(slow))

	_, err := h.SendCustomerMessage(ctx, Sender{ID: "alice"}, "still here")
	require.NoError(t, err)
	assert.Len(t, drain(fast), 1)
	assert.False(t, h.Unsubscribe(fast))
}

func TestHub_ReconnectHasNoReplay(t *testing.T) {
	h := newTestHub(t, 8)
	ctx := context.Background()

	first := h.Subscribe(UserRoom("alice"))
	_, err := h.SendAdminMessage(ctx, Sender{ID: "a"}, "alice", "one")
	require.NoError(t, err)
	h.Unsubscribe(first)

	_, err = h.SendAdminMessage(ctx, Sender{ID: "a"}, "alice", "missed")
	require.NoError(t, err)

	second := h.Subscribe(UserRoom("alice"))
	assert.Empty(t, drain(second))

	_, err = h.SendAdminMessage(ctx, Sender{ID: "a"}, "alice", "two")
	require.NoError(t, err)
	got := drain(second)
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Message.Message)
}

func TestHub_RoleUpdate(t *testing.T) {
	h := newTestHub(t, 8)

	alice := h.Subscribe(UserRoom("alice"))
	admin := h.Subscribe(AdminRoom)

	h.PublishRoleUpdate(RoleUpdate{UserID: "alice", Role: "delivery", Message: "You are now a delivery partner"})

	got := drain(alice)
	require.Len(t, got, 1)
	assert.Equal(t, EventRoleUpdated, got[0].Name)
	assert.Equal(t, "delivery", got[0].Role.Role)
	assert.Empty(t, drain(admin))
}

func TestHub_ActiveCustomers(t *testing.T) {
	h := newTestHub(t, 8)
	ctx := context.Background()

	_, err := h.SendCustomerMessage(ctx, Sender{ID: "alice", Name: "Alice"}, "hi")
	require.NoError(t, err)
	_, err = h.SendCustomerMessage(ctx, Sender{ID: "bob"}, "hello")
	require.NoError(t, err)

	active := h.ActiveCustomers()
	require.Len(t, active, 2)
	assert.Equal(t, "bob", active[0].ID, "most recent first")
	assert.Equal(t, "Customer", active[0].Name)
	assert.Equal(t, "Alice", active[1].Name)

	h.CloseChat("bob")
	active = h.ActiveCustomers()
	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].ID)
}

func TestHub_Close(t *testing.T) {
	h := newTestHub(t, 8)
	a := h.Subscribe(UserRoom("alice"), AdminRoom)
	b := h.Subscribe(AdminRoom)

	h.Close()

	_, ok := <-a.Events()
	assert.False(t, ok)
	_, ok = <-b.Events()
	assert.False(t, ok)
	assert.False(t, h.Unsubscribe(a), "unsubscribe after close is a no-op")
}
