package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"vouch/internal/platform/metrics"
)

type fakeChannel struct {
	mu    sync.Mutex
	name  string
	fail  error
	sends []Event
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, ev)
	return c.fail
}

func (c *fakeChannel) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func testEvent() Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       KindPurchaseApproved,
		ClaimID:    uuid.New(),
		Recipient:  "buyer@example.com",
		ResourceID: "course-101",
	}
}

func TestFanoutDispatchesAllChannels(t *testing.T) {
	chat := &fakeChannel{name: "chatops"}
	mail := &fakeChannel{name: "email"}
	f := NewFanout([]Channel{chat, mail}, slog.Default(), metrics.NewForTesting())

	results := f.Dispatch(context.Background(), testEvent(), nil)

	require.Len(t, results, 2)
	for _, res := range results {
		require.Equal(t, DeliverySent, res.Status)
		require.NoError(t, res.Err)
	}
	require.Equal(t, 1, chat.sendCount())
	require.Equal(t, 1, mail.sendCount())
}

func TestFanoutOneChannelFailingDoesNotSuppressOthers(t *testing.T) {
	chat := &fakeChannel{name: "chatops"}
	mail := &fakeChannel{name: "email", fail: errors.New("provider down")}
	f := NewFanout([]Channel{chat, mail}, slog.Default(), metrics.NewForTesting())

	results := f.Dispatch(context.Background(), testEvent(), nil)

	byChannel := make(map[string]ChannelResult, len(results))
	for _, res := range results {
		byChannel[res.Channel] = res
	}
	require.Equal(t, DeliverySent, byChannel["chatops"].Status)
	require.Equal(t, DeliveryFailed, byChannel["email"].Status)
	require.Error(t, byChannel["email"].Err)
	require.Equal(t, 1, chat.sendCount(), "chatops still delivered")
}

func TestFanoutSkipsChannelsAlreadySent(t *testing.T) {
	chat := &fakeChannel{name: "chatops"}
	mail := &fakeChannel{name: "email"}
	f := NewFanout([]Channel{chat, mail}, slog.Default(), metrics.NewForTesting())

	results := f.Dispatch(context.Background(), testEvent(), map[string]bool{"chatops": true})

	require.Len(t, results, 1)
	require.Equal(t, "email", results[0].Channel)
	require.Equal(t, 0, chat.sendCount())
	require.Equal(t, 1, mail.sendCount())
}
