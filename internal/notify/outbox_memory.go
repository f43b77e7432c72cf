package notify

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"vouch/pkg/platform/sentinel"
)

// InMemoryOutbox backs the dispatcher in tests and in deployments without
// Postgres. Records survive only for the process lifetime.
type InMemoryOutbox struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{records: make(map[string]Record)}
}

func (o *InMemoryOutbox) Enqueue(_ context.Context, ev Event, now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.records[ev.ID]; ok {
		return sentinel.ErrConflict
	}
	o.records[ev.ID] = Record{
		Event:         ev,
		CreatedAt:     now,
		NextAttempt:   now,
		State:         StatePending,
		ChannelStatus: make(map[string]DeliveryStatus),
	}
	return nil
}

func (o *InMemoryOutbox) Due(_ context.Context, now time.Time, limit int) ([]Record, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var due []Record
	for _, rec := range o.records {
		if rec.State == StatePending && !rec.NextAttempt.After(now) {
			due = append(due, copyRecord(rec))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (o *InMemoryOutbox) Update(_ context.Context, rec Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.records[rec.Event.ID]; !ok {
		return sentinel.ErrNotFound
	}
	o.records[rec.Event.ID] = copyRecord(rec)
	return nil
}

// Get returns a record by event ID, for test assertions.
func (o *InMemoryOutbox) Get(id string) (Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.records[id]
	if !ok {
		return Record{}, false
	}
	return copyRecord(rec), true
}

func copyRecord(rec Record) Record {
	out := rec
	out.ChannelStatus = maps.Clone(rec.ChannelStatus)
	if out.ChannelStatus == nil {
		out.ChannelStatus = make(map[string]DeliveryStatus)
	}
	return out
}
