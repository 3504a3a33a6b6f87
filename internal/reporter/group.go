package reporter

import (
	"time"

	"github.com/nao1215/lure/internal/model"
)

// Group is the set of pending events sharing one GroupKey.
type Group struct {
	Key    model.GroupKey
	Events []*model.Event
}

// IDs returns the event ids of the group.
func (g *Group) IDs() []int64 {
	ids := make([]int64, 0, len(g.Events))
	for _, e := range g.Events {
		ids = append(ids, e.ID)
	}
	return ids
}

// FirstSeen returns the earliest event timestamp.
func (g *Group) FirstSeen() time.Time {
	var first time.Time
	for _, e := range g.Events {
		if first.IsZero() || e.Timestamp.Before(first) {
			first = e.Timestamp
		}
	}
	return first
}

// LastSeen returns the latest event timestamp.
func (g *Group) LastSeen() time.Time {
	var last time.Time
	for _, e := range g.Events {
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return last
}

// Sessions returns the number of distinct connections in the group.
func (g *Group) Sessions() int {
	seen := make(map[string]struct{}, len(g.Events))
	for _, e := range g.Events {
		seen[e.SessionID] = struct{}{}
	}
	return len(seen)
}

// GroupEvents partitions events by GroupKey, keeping the order in which
// each key first appears.
func GroupEvents(events []*model.Event) []*Group {
	index := make(map[model.GroupKey]*Group)
	var groups []*Group
	for _, e := range events {
		key := e.Key()
		g, ok := index[key]
		if !ok {
			g = &Group{Key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.Events = append(g.Events, e)
	}
	return groups
}

// distinct returns up to limit distinct non-empty values selected by field,
// in first-seen order, and the total number of distinct values.
func distinct(events []*model.Event, limit int, field func(*model.Event) string) ([]string, int) {
	seen := make(map[string]struct{})
	var values []string
	for _, e := range events {
		v := field(e)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		if len(values) < limit {
			values = append(values, v)
		}
	}
	return values, len(seen)
}
