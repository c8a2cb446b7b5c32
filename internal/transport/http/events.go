package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"e2ee-channels/internal/events"
	"e2ee-channels/internal/httpx"
	"e2ee-channels/internal/observability/middleware"

	"github.com/google/uuid"
)

// membershipFunc reports whether userID holds a key row for channelID.
type membershipFunc func(ctx context.Context, channelID, userID uuid.UUID) (bool, error)

// streamFilter decides which events one subscriber may see. Wrapped key rows
// go to their recipient only and message rows to channel members only.
// Membership is cached per stream and kept current from the subscriber's own
// key and channel events.
type streamFilter struct {
	userID  uuid.UUID
	member  membershipFunc
	members map[uuid.UUID]bool
}

func newStreamFilter(userID uuid.UUID, member membershipFunc) *streamFilter {
	return &streamFilter{userID: userID, member: member, members: make(map[uuid.UUID]bool)}
}

type rowRef struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

func (f *streamFilter) allow(ctx context.Context, ev events.Event) bool {
	switch ev.Table {
	case events.TableChannelKeys:
		var row rowRef
		if err := json.Unmarshal(ev.Row, &row); err != nil || row.UserID != f.userID.String() {
			return false
		}
		if channelID, err := uuid.Parse(row.ChannelID); err == nil {
			if ev.Type == events.Insert {
				f.members[channelID] = true
			} else {
				delete(f.members, channelID)
			}
		}
		return true
	case events.TableChannels:
		if ev.Type == events.Delete {
			if channelID, err := uuid.Parse(ev.RowID); err == nil {
				delete(f.members, channelID)
			}
		}
		return true
	case events.TableMessages:
		var row rowRef
		if err := json.Unmarshal(ev.Row, &row); err != nil {
			return false
		}
		channelID, err := uuid.Parse(row.ChannelID)
		if err != nil {
			return false
		}
		return f.isMember(ctx, channelID)
	default:
		return true
	}
}

func (f *streamFilter) isMember(ctx context.Context, channelID uuid.UUID) bool {
	if ok, cached := f.members[channelID]; cached {
		return ok
	}
	ok, err := f.member(ctx, channelID, f.userID)
	if err != nil {
		// Not cached, so the next event retries the lookup.
		return false
	}
	f.members[channelID] = ok
	return ok
}

// streamEvents serves the row-change feed as server-sent events. Each event
// carries its id so reconnecting clients can dedupe.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	userID := caller(r)
	log := middleware.Logger(r.Context()).With("user_id", userID)
	filter := newStreamFilter(userID, h.svc.IsMember)

	stream, cancel := h.bus.Subscribe(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	log.Info("event stream opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Info("event stream closed")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if !filter.allow(r.Context(), ev) {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Warn("event encode failed", "error", err, "event_id", ev.ID)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
