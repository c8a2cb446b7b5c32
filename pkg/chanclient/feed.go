package chanclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/events"
)

// EventConsumer receives row changes from the realtime feed. Delivery is
// at-least-once, so implementations must tolerate repeats.
type EventConsumer interface {
	OnInsert(ev events.Event)
	OnDelete(ev events.Event)
}

// Feed is an EventConsumer that keeps an ordered local view of channels and
// messages, keyed by row id. Repeated events are dropped, and deleted rows
// stay tombstoned so a late redelivered insert cannot bring them back.
type Feed struct {
	mu       sync.RWMutex
	channels map[string]dto.Channel
	messages map[string]dto.Message
	keys     map[string]dto.WrappedKey
	seen     *recentSet
	deleted  *recentSet

	// OnChange, when set, is called after every applied event.
	OnChange func(events.Event)
}

func NewFeed() *Feed {
	return &Feed{
		channels: make(map[string]dto.Channel),
		messages: make(map[string]dto.Message),
		keys:     make(map[string]dto.WrappedKey),
		seen:     newRecentSet(maxSeenEvents),
		deleted:  newRecentSet(maxTombstones),
	}
}

// Seed loads a snapshot fetched over the API before streaming starts.
func (f *Feed) Seed(channels []dto.Channel, messages []dto.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range channels {
		f.channels[c.ID] = c
	}
	for _, m := range messages {
		f.messages[m.ID] = m
	}
}

const (
	maxSeenEvents = 10000
	maxTombstones = 10000
)

// recentSet remembers the last size keys, evicting the oldest first.
type recentSet struct {
	keys  map[string]struct{}
	order []string
	next  int
}

func newRecentSet(size int) *recentSet {
	return &recentSet{keys: make(map[string]struct{}, size), order: make([]string, 0, size)}
}

func (r *recentSet) has(key string) bool {
	_, ok := r.keys[key]
	return ok
}

// add reports whether key was new.
func (r *recentSet) add(key string) bool {
	if r.has(key) {
		return false
	}
	if len(r.order) < cap(r.order) {
		r.order = append(r.order, key)
	} else {
		delete(r.keys, r.order[r.next])
		r.order[r.next] = key
		r.next = (r.next + 1) % len(r.order)
	}
	r.keys[key] = struct{}{}
	return true
}

func tombstone(table, rowID string) string { return table + "/" + rowID }

func (f *Feed) firstDelivery(ev events.Event) bool {
	return f.seen.add(ev.ID.String())
}

func (f *Feed) gone(table, rowID string) bool {
	return f.deleted.has(tombstone(table, rowID))
}

func (f *Feed) OnInsert(ev events.Event) {
	f.mu.Lock()
	applied := f.firstDelivery(ev)
	if applied {
		switch ev.Table {
		case events.TableChannels:
			var c dto.Channel
			if json.Unmarshal(ev.Row, &c) == nil && !f.gone(events.TableChannels, c.ID) {
				if old, ok := f.channels[c.ID]; ok {
					c.Joined = c.Joined || old.Joined
				}
				f.channels[c.ID] = c
			}
		case events.TableMessages:
			var m dto.Message
			if json.Unmarshal(ev.Row, &m) == nil && !f.gone(events.TableMessages, m.ID) && !f.gone(events.TableChannels, m.ChannelID) {
				f.messages[m.ID] = m
			}
		case events.TableChannelKeys:
			var k dto.WrappedKey
			if json.Unmarshal(ev.Row, &k) == nil && !f.gone(events.TableChannels, k.ChannelID) {
				f.keys[k.ChannelID] = k
				if c, ok := f.channels[k.ChannelID]; ok {
					c.Joined = true
					f.channels[k.ChannelID] = c
				}
			}
		}
	}
	f.mu.Unlock()
	if applied && f.OnChange != nil {
		f.OnChange(ev)
	}
}

func (f *Feed) OnDelete(ev events.Event) {
	f.mu.Lock()
	applied := f.firstDelivery(ev)
	if applied {
		switch ev.Table {
		case events.TableChannels:
			f.deleted.add(tombstone(events.TableChannels, ev.RowID))
			delete(f.channels, ev.RowID)
			delete(f.keys, ev.RowID)
			for id, m := range f.messages {
				if m.ChannelID == ev.RowID {
					delete(f.messages, id)
				}
			}
		case events.TableMessages:
			f.deleted.add(tombstone(events.TableMessages, ev.RowID))
			delete(f.messages, ev.RowID)
		}
	}
	f.mu.Unlock()
	if applied && f.OnChange != nil {
		f.OnChange(ev)
	}
}

// Channels returns channels sorted by slug.
func (f *Feed) Channels() []dto.Channel {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]dto.Channel, 0, len(f.channels))
	for _, c := range f.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Messages returns a channel's messages oldest first.
func (f *Feed) Messages(channelID string) []dto.Message {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []dto.Message
	for _, m := range f.messages {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (f *Feed) Message(id string) (dto.Message, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.messages[id]
	return m, ok
}

// Key returns the wrapped key row delivered for channelID, if any.
func (f *Feed) Key(channelID string) (dto.WrappedKey, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	k, ok := f.keys[channelID]
	return k, ok
}

// Stream reads the server-sent event feed and dispatches each event to
// consumer until ctx ends or the connection drops.
func (c *Client) Stream(ctx context.Context, consumer EventConsumer) error {
	if c.token == "" {
		return ErrNotLoggedIn
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)

	// The stream is long-lived; only ctx bounds it.
	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if err := dispatch(consumer, data.String()); err != nil {
					return err
				}
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return scanner.Err()
}

func dispatch(consumer EventConsumer, payload string) error {
	var ev events.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	switch ev.Type {
	case events.Insert:
		consumer.OnInsert(ev)
	case events.Delete:
		consumer.OnDelete(ev)
	}
	return nil
}

// StreamWithRetry keeps Stream running, reconnecting with a capped backoff
// until ctx ends.
func (c *Client) StreamWithRetry(ctx context.Context, consumer EventConsumer, onError func(error)) {
	backoff := 500 * time.Millisecond
	for ctx.Err() == nil {
		start := time.Now()
		err := c.Stream(ctx, consumer)
		if ctx.Err() != nil {
			return
		}
		if onError != nil && err != nil {
			onError(err)
		}
		if time.Since(start) > time.Minute {
			backoff = 500 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
