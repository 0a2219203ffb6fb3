package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadbook/roadbook/kvstore"
)

// ErrPlaceholderProtected is returned when a legacy placeholder record
// is dequeued without the force flag. Placeholders are internal
// bookkeeping and must not be removable from default list/clear paths.
var ErrPlaceholderProtected = errors.New("placeholder record requires forced removal")

// ErrNotFound is returned when no queued record matches the given id.
var ErrNotFound = errors.New("pending record not found")

const (
	sessionsKey = "pending:sessions"
	weatherKey  = "pending:weather"
	routesKey   = "pending:routes"
	lastSyncKey = "pending:last_sync"
)

// Queue is the durable pending-record queue. The kvstore is
// authoritative; every mutation is mirrored into the observable Mirror
// after the durable write succeeds.
type Queue struct {
	store  kvstore.Store
	mirror *Mirror
	log    zerolog.Logger
	mu     sync.Mutex // serializes list read-modify-write
}

// NewQueue creates a Queue over store, projecting into mirror.
func NewQueue(store kvstore.Store, mirror *Mirror, logger zerolog.Logger) *Queue {
	return &Queue{
		store:  store,
		mirror: mirror,
		log:    logger.With().Str("component", "pending").Logger(),
	}
}

// listKey maps a kind to its durable list key. Exhaustive on Kind.
func listKey(k Kind) (string, error) {
	switch k {
	case KindDriveSession:
		return sessionsKey, nil
	case KindWeatherRequest:
		return weatherKey, nil
	case KindRouteRequest:
		return routesKey, nil
	}
	return "", fmt.Errorf("unknown record kind %q", k)
}

// Init rebuilds the mirror from the durable lists, adding any durable
// record not yet mirrored. Call once on process start, before the
// mirror is handed to observers.
func (q *Queue) Init(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, kind := range []Kind{KindDriveSession, KindWeatherRequest, KindRouteRequest} {
		records, err := q.readList(ctx, kind)
		if err != nil {
			return fmt.Errorf("init pending queue: %w", err)
		}
		for _, rec := range records {
			if !q.mirror.Contains(rec.ID) {
				q.mirror.add(rec)
			}
		}
	}
	return nil
}

// Enqueue appends rec to its kind's durable list, or replaces the
// existing record with the same id in place.
func (q *Queue) Enqueue(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	records, err := q.readList(ctx, rec.Kind)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", rec.ID, err)
	}

	replaced := false
	for i := range records {
		if records[i].ID == rec.ID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	if err := q.writeList(ctx, rec.Kind, records); err != nil {
		return fmt.Errorf("enqueue %s: %w", rec.ID, err)
	}

	q.mirror.add(rec)
	return nil
}

// Dequeue removes the record with id from durable storage and the
// mirror. Placeholder kinds require force. Removing a drive session
// cascades to the legacy placeholder records sharing its parent id.
func (q *Queue) Dequeue(ctx context.Context, id string, force bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, kind := range []Kind{KindDriveSession, KindWeatherRequest, KindRouteRequest} {
		records, err := q.readList(ctx, kind)
		if err != nil {
			return fmt.Errorf("dequeue %s: %w", id, err)
		}
		for i := range records {
			if records[i].ID != id {
				continue
			}
			if records[i].Kind.Placeholder() && !force {
				return ErrPlaceholderProtected
			}

			records = append(records[:i], records[i+1:]...)
			if err := q.writeList(ctx, kind, records); err != nil {
				return fmt.Errorf("dequeue %s: %w", id, err)
			}
			q.mirror.remove(id)

			if kind == KindDriveSession {
				if err := q.removeChildren(ctx, id); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return fmt.Errorf("dequeue %s: %w", id, ErrNotFound)
}

// removeChildren drops placeholder records whose ParentID is parentID.
// Must hold q.mu.
func (q *Queue) removeChildren(ctx context.Context, parentID string) error {
	for _, kind := range []Kind{KindWeatherRequest, KindRouteRequest} {
		records, err := q.readList(ctx, kind)
		if err != nil {
			return fmt.Errorf("remove sub-requests of %s: %w", parentID, err)
		}
		var kept []Record
		var removed []Record
		for _, rec := range records {
			if rec.ParentID == parentID {
				removed = append(removed, rec)
				continue
			}
			kept = append(kept, rec)
		}
		if len(removed) == 0 {
			continue
		}
		if err := q.writeList(ctx, kind, kept); err != nil {
			return fmt.Errorf("remove sub-requests of %s: %w", parentID, err)
		}
		for _, rec := range removed {
			q.mirror.remove(rec.ID)
		}
	}
	return nil
}

// ListAll reads the full durable queue: drive sessions first, then the
// legacy placeholder lists, each in stored order.
func (q *Queue) ListAll(ctx context.Context) ([]Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Record
	for _, kind := range []Kind{KindDriveSession, KindWeatherRequest, KindRouteRequest} {
		records, err := q.readList(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("list pending records: %w", err)
		}
		out = append(out, records...)
	}
	return out, nil
}

// MarkSynced stamps now as the last successful sync time.
func (q *Queue) MarkSynced(ctx context.Context) error {
	ms := time.Now().UnixMilli()
	return q.store.Set(ctx, lastSyncKey, fmt.Sprintf("%d", ms))
}

// LastSync returns the last successful sync time, with false when no
// sync has completed yet.
func (q *Queue) LastSync(ctx context.Context) (time.Time, bool) {
	raw, found, err := q.store.Get(ctx, lastSyncKey)
	if err != nil || !found {
		return time.Time{}, false
	}
	var ms int64
	if _, err := fmt.Sscanf(raw, "%d", &ms); err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (q *Queue) readList(ctx context.Context, kind Kind) ([]Record, error) {
	key, err := listKey(kind)
	if err != nil {
		return nil, err
	}
	raw, found, err := q.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", kind, err)
	}
	return records, nil
}

func (q *Queue) writeList(ctx context.Context, kind Kind, records []Record) error {
	key, err := listKey(kind)
	if err != nil {
		return err
	}
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode %s list: %w", kind, err)
	}
	return q.store.Set(ctx, key, string(data))
}
