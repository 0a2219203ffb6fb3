package pending

import "sync"

// EventType tags a mirror change notification.
type EventType int

const (
	EventAdded EventType = iota
	EventRemoved
)

// Event is one mirror change, delivered to subscribers.
type Event struct {
	Type   EventType
	Record Record
}

// Mirror is the in-memory observable projection of the durable queue.
// It is a read-optimized view, not authoritative: only the owning Queue
// mutates it, and on process start it must be rebuilt from the durable
// store (Queue.Init) before being trusted.
type Mirror struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
	errs    map[string]string
	subs    map[int]chan Event
	nextSub int
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{
		records: make(map[string]Record),
		errs:    make(map[string]string),
		subs:    make(map[int]chan Event),
	}
}

func (m *Mirror) add(rec Record) {
	m.mu.Lock()
	if _, exists := m.records[rec.ID]; !exists {
		m.order = append(m.order, rec.ID)
	}
	m.records[rec.ID] = rec
	m.mu.Unlock()
	m.notify(Event{Type: EventAdded, Record: rec})
}

func (m *Mirror) remove(id string) {
	m.mu.Lock()
	rec, exists := m.records[id]
	if exists {
		delete(m.records, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if exists {
		m.notify(Event{Type: EventRemoved, Record: rec})
	}
}

// Contains reports whether id is mirrored.
func (m *Mirror) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[id]
	return ok
}

// PendingItems returns the UI-facing listing: every mirrored record
// except legacy placeholder kinds, in insertion order.
func (m *Mirror) PendingItems() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, id := range m.order {
		rec := m.records[id]
		if rec.Kind.Placeholder() {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// All returns every mirrored record, placeholders included.
func (m *Mirror) All() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id])
	}
	return out
}

// SetError records the latest sync failure for id. One entry per id;
// the latest error wins.
func (m *Mirror) SetError(id, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[id] = msg
}

// ClearError drops any stored failure for id.
func (m *Mirror) ClearError(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errs, id)
}

// SyncErrors returns a copy of the per-record error state.
func (m *Mirror) SyncErrors() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.errs))
	for k, v := range m.errs {
		out[k] = v
	}
	return out
}

// Subscribe returns a channel of mirror change events and a cancel
// function. Slow subscribers drop events rather than block the queue.
func (m *Mirror) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, 16)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *Mirror) notify(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
