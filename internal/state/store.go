// Package state holds the process-wide telemetry store: one record per
// (kind, name) device, fields fixed by the kind's schema at build time.
// Boards are the only writers, one board per key; readers get deep-copy
// snapshots. Consistency is per-key linearized, no global epoch.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/proplab/standd/internal/device"
)

var ErrSchema = errors.New("state schema violation")

// DefaultStaleFactor multiplies a board's nominal poll interval to get
// the age past which a field is reported stale.
const DefaultStaleFactor = 3.0

type Key struct {
	Kind device.Kind
	Name string
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.Kind, k.Name) }

type fieldValue struct {
	value     any
	updatedAt time.Time
}

type record struct {
	mu      sync.Mutex
	fields  map[string]*fieldValue
	nominal time.Duration // owning board's poll interval
}

// Sample is one field in a snapshot. A zero UpdatedAt means the field
// has never been decoded; Stale means it was seen but stopped updating.
type Sample struct {
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
	Stale     bool      `json:"stale,omitempty"`
}

type Snapshot map[string]map[string]map[string]Sample

// Update is pushed to subscribers after a successful Set.
type Update struct {
	Kind      device.Kind
	Name      string
	Field     string
	Value     any
	Timestamp time.Time
}

type subscription struct {
	kind device.Kind // empty = any
	name string      // empty = any
	ch   chan Update
}

type Store struct {
	mu          sync.RWMutex
	records     map[Key]*record
	staleFactor float64

	subMu   sync.Mutex
	subs    map[int]*subscription
	nextSub int
}

func NewStore(staleFactor float64) *Store {
	if staleFactor <= 0 {
		staleFactor = DefaultStaleFactor
	}
	return &Store{
		records:     make(map[Key]*record),
		staleFactor: staleFactor,
		subs:        make(map[int]*subscription),
	}
}

// Register creates the record for one device with all fields unknown.
// Called by the registry at build time only.
func (s *Store) Register(kind device.Kind, name string, nominal time.Duration) error {
	fields := device.Fields(kind)
	if fields == nil {
		return fmt.Errorf("%w: unknown kind %q", ErrSchema, kind)
	}
	key := Key{Kind: kind, Name: name}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return fmt.Errorf("%w: duplicate device %s", ErrSchema, key)
	}
	rec := &record{fields: make(map[string]*fieldValue, len(fields)), nominal: nominal}
	for _, f := range fields {
		rec.fields[f] = &fieldValue{}
	}
	s.records[key] = rec
	return nil
}

func (s *Store) lookup(kind device.Kind, name string) *record {
	s.mu.RLock()
	rec := s.records[Key{Kind: kind, Name: name}]
	s.mu.RUnlock()
	return rec
}

// Get returns the current value for one field; nil until the first
// successful decode. An unregistered triple is a schema error.
func (s *Store) Get(kind device.Kind, name, field string) (any, error) {
	rec := s.lookup(kind, name)
	if rec == nil {
		return nil, fmt.Errorf("%w: no device %s/%s", ErrSchema, kind, name)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	fv, ok := rec.fields[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s has no field %q", ErrSchema, kind, name, field)
	}
	return fv.value, nil
}

// Set writes one field. Never creates fields: an undefined triple is a
// schema violation surfaced to the caller.
func (s *Store) Set(kind device.Kind, name, field string, value any, ts time.Time) error {
	rec := s.lookup(kind, name)
	if rec == nil {
		return fmt.Errorf("%w: no device %s/%s", ErrSchema, kind, name)
	}
	rec.mu.Lock()
	fv, ok := rec.fields[field]
	if !ok {
		rec.mu.Unlock()
		return fmt.Errorf("%w: %s/%s has no field %q", ErrSchema, kind, name, field)
	}
	fv.value = value
	fv.updatedAt = ts
	rec.mu.Unlock()

	s.notify(Update{Kind: kind, Name: name, Field: field, Value: value, Timestamp: ts})
	return nil
}

// Snapshot returns a point-in-time deep copy of the whole store. It
// may mix ticks from different boards; per-device field sets are
// internally consistent.
func (s *Store) Snapshot() Snapshot {
	now := time.Now()
	snap := make(Snapshot)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, rec := range s.records {
		rec.mu.Lock()
		byName := snap[string(key.Kind)]
		if byName == nil {
			byName = make(map[string]map[string]Sample)
			snap[string(key.Kind)] = byName
		}
		fields := make(map[string]Sample, len(rec.fields))
		for f, fv := range rec.fields {
			fields[f] = Sample{
				Value:     fv.value,
				UpdatedAt: fv.updatedAt,
				Stale:     s.isStale(rec, fv, now),
			}
		}
		byName[key.Name] = fields
		rec.mu.Unlock()
	}
	return snap
}

func (s *Store) isStale(rec *record, fv *fieldValue, now time.Time) bool {
	if fv.updatedAt.IsZero() || rec.nominal <= 0 {
		return false
	}
	limit := time.Duration(float64(rec.nominal) * s.staleFactor)
	return now.Sub(fv.updatedAt) > limit
}

// Subscribe delivers updates for one device, one kind (name empty), or
// everything (both empty). Delivery is non-blocking: a slow consumer
// loses updates rather than stalling a board's poll loop.
func (s *Store) Subscribe(kind device.Kind, name string, buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{kind: kind, name: name, ch: make(chan Update, buffer)}

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.ch)
		}
		s.subMu.Unlock()
	}
	return sub.ch, cancel
}

func (s *Store) notify(u Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		if sub.kind != "" && sub.kind != u.Kind {
			continue
		}
		if sub.name != "" && sub.name != u.Name {
			continue
		}
		select {
		case sub.ch <- u:
		default: // drop for slow consumers
		}
	}
}
