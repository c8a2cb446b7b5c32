// Package events carries row-change notifications from the service to
// realtime subscribers. Delivery is at-least-once; consumers dedupe by RowID.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	Insert Type = "insert"
	Delete Type = "delete"
)

const (
	TableChannels     = "channels"
	TableChannelKeys  = "channel_keys"
	TableJoinRequests = "join_requests"
	TableMessages     = "messages"
)

type Event struct {
	ID    uuid.UUID       `json:"id"`
	Table string          `json:"table"`
	Type  Type            `json:"type"`
	RowID string          `json:"rowId"`
	Row   json.RawMessage `json:"row"`
	At    time.Time       `json:"at"`
}

func New(table string, typ Type, rowID string, row any) (Event, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:    uuid.New(),
		Table: table,
		Type:  typ,
		RowID: rowID,
		Row:   raw,
		At:    time.Now().UTC(),
	}, nil
}

type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a stream of events and a cancel function releasing it.
	// The stream is closed after cancel or when ctx ends.
	Subscribe(ctx context.Context) (<-chan Event, func())
	Close() error
}
