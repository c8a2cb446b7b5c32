package http

import (
	"context"
	"errors"
	"testing"

	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/events"

	"github.com/google/uuid"
)

func event(t *testing.T, table string, typ events.Type, rowID string, row any) events.Event {
	t.Helper()
	ev, err := events.New(table, typ, rowID, row)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return ev
}

func TestStreamFilterHidesMessagesFromNonMembers(t *testing.T) {
	ctx := context.Background()
	channelID := uuid.New()
	outsider := uuid.New()
	lookups := 0
	filter := newStreamFilter(outsider, func(_ context.Context, ch, user uuid.UUID) (bool, error) {
		lookups++
		return false, nil
	})

	msg := event(t, events.TableMessages, events.Insert, uuid.NewString(), dto.Message{
		ID: uuid.NewString(), ChannelID: channelID.String(), Content: "secret plaintext",
	})
	if filter.allow(ctx, msg) {
		t.Fatal("plaintext message streamed to a non-member")
	}
	del := event(t, events.TableMessages, events.Delete, msg.RowID, dto.Message{
		ID: msg.RowID, ChannelID: channelID.String(), Content: "secret plaintext",
	})
	if filter.allow(ctx, del) {
		t.Fatal("deleted message row streamed to a non-member")
	}
	if lookups != 1 {
		t.Fatalf("expected one cached membership lookup, got %d", lookups)
	}

	// An approved join arrives as the subscriber's own key row.
	key := event(t, events.TableChannelKeys, events.Insert, channelID.String()+":"+outsider.String(), dto.WrappedKey{
		ChannelID: channelID.String(), UserID: outsider.String(),
	})
	if !filter.allow(ctx, key) {
		t.Fatal("own key row not delivered")
	}
	if !filter.allow(ctx, msg) {
		t.Fatal("message hidden after membership was granted")
	}

	gone := event(t, events.TableChannels, events.Delete, channelID.String(), dto.Channel{ID: channelID.String()})
	if !filter.allow(ctx, gone) {
		t.Fatal("channel delete not delivered")
	}
	if filter.allow(ctx, msg) {
		t.Fatal("message delivered after channel was deleted")
	}
}

func TestStreamFilterKeyRowsGoToRecipientOnly(t *testing.T) {
	ctx := context.Background()
	me := uuid.New()
	filter := newStreamFilter(me, func(context.Context, uuid.UUID, uuid.UUID) (bool, error) { return true, nil })

	other := event(t, events.TableChannelKeys, events.Insert, "x", dto.WrappedKey{ChannelID: uuid.NewString(), UserID: uuid.NewString()})
	if filter.allow(ctx, other) {
		t.Fatal("foreign key row delivered")
	}
	if !filter.allow(ctx, event(t, events.TableChannels, events.Insert, "c", dto.Channel{ID: uuid.NewString()})) {
		t.Fatal("channel metadata should reach every subscriber")
	}
}

func TestStreamFilterRetriesFailedLookup(t *testing.T) {
	ctx := context.Background()
	channelID := uuid.New()
	fail := true
	filter := newStreamFilter(uuid.New(), func(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
		if fail {
			return false, errors.New("db down")
		}
		return true, nil
	})
	msg := event(t, events.TableMessages, events.Insert, "m", dto.Message{ID: "m", ChannelID: channelID.String()})
	if filter.allow(ctx, msg) {
		t.Fatal("lookup error must deny")
	}
	fail = false
	if !filter.allow(ctx, msg) {
		t.Fatal("expected retry after lookup error")
	}
}
