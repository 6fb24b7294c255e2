// Package registry holds the registered component descriptions and keeps one
// index table per queryable field consistent with them.
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/c360studio/discoverer/description"
	"github.com/c360studio/discoverer/query"
)

// Ref references a stored component either by slot index or by id.
type Ref struct {
	ID      string
	Index   int
	byIndex bool
}

// ByID references the live component with the given id.
func ByID(id string) Ref { return Ref{ID: id} }

// ByIndex references the component held in a slot.
func ByIndex(index int) Ref { return Ref{Index: index, byIndex: true} }

// IsIndex reports whether the reference uses a slot index.
func (r Ref) IsIndex() bool { return r.byIndex }

func (r Ref) String() string {
	if r.byIndex {
		return fmt.Sprintf("#%d", r.Index)
	}
	return r.ID
}

// Store is the slot table plus every index table, guarded by one RW lock.
// Slot indices increase monotonically and are never reused.
type Store struct {
	mu     sync.RWMutex
	next   int
	slots  map[int]*description.ComponentDescription
	byID   map[string]int
	tables map[tableKey]*table
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{
		slots:  make(map[int]*description.ComponentDescription),
		byID:   make(map[string]int),
		tables: make(map[tableKey]*table),
	}
	for _, f := range query.Fields() {
		for _, facet := range f.Facets() {
			s.tables[tableKey{f, facet}] = newTable()
		}
	}
	return s
}

// Add stores a copy of d in a fresh slot and indexes it.
func (s *Store) Add(d *description.ComponentDescription) (int, error) {
	if d == nil || d.ID == "" {
		return 0, fmt.Errorf("add: %w", description.ErrInvalidData)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[idKey(d.ID)]; ok {
		return 0, fmt.Errorf("add %s: %w", d.ID, ErrDuplicate)
	}
	return s.insertLocked(d.Clone()), nil
}

// Entry is a stored description together with its slot index.
type Entry struct {
	Index       int
	Description *description.ComponentDescription
}

// Replace removes any live component with the same id and stores d in a
// fresh slot, atomically. The replaced entry is returned, or nil.
func (s *Store) Replace(d *description.ComponentDescription) (int, *Entry, error) {
	if d == nil || d.ID == "" {
		return 0, nil, fmt.Errorf("replace: %w", description.ErrInvalidData)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var old *Entry
	if slot, ok := s.byID[idKey(d.ID)]; ok {
		old = &Entry{Index: slot, Description: s.removeLocked(slot)}
	}
	return s.insertLocked(d.Clone()), old, nil
}

// Update reindexes the live component with d's id, keeping its slot index.
func (s *Store) Update(d *description.ComponentDescription) (int, error) {
	if d == nil || d.ID == "" {
		return 0, fmt.Errorf("update: %w", description.ErrInvalidData)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.byID[idKey(d.ID)]
	if !ok {
		return 0, fmt.Errorf("update %s: %w", d.ID, ErrNotFound)
	}
	s.unindexLocked(slot, s.slots[slot])
	stored := d.Clone()
	s.slots[slot] = stored
	s.indexLocked(slot, stored)
	return slot, nil
}

// Apply merges or replaces the delta's collections into the live component
// and reindexes it in place. The updated description is returned.
func (s *Store) Apply(delta *description.Delta, mode description.UpdateMode) (*description.ComponentDescription, error) {
	if err := delta.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.byID[idKey(delta.ID)]
	if !ok {
		return nil, fmt.Errorf("apply %s: %w", delta.ID, ErrNotFound)
	}
	current := s.slots[slot]
	s.unindexLocked(slot, current)
	current.Apply(delta, mode)
	s.indexLocked(slot, current)
	return current.Clone(), nil
}

// Remove drops the referenced component and every index entry pointing at
// it. It returns the removed description, or nil when nothing matched.
func (s *Store) Remove(ref Ref) *description.ComponentDescription {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.resolveLocked(ref)
	if !ok {
		return nil
	}
	return s.removeLocked(slot)
}

// IndexOf resolves a reference to its live slot index.
func (s *Store) IndexOf(ref Ref) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(ref)
}

// Get returns a copy of the referenced component, or nil.
func (s *Store) Get(ref Ref) *description.ComponentDescription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.resolveLocked(ref)
	if !ok {
		return nil
	}
	return s.slots[slot].Clone()
}

// PruneSubscriber removes id from the subscriber list of every component and
// returns the ids of the components that changed.
func (s *Store) PruneSubscriber(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for _, slot := range s.sortedSlotsLocked() {
		d := s.slots[slot]
		if !d.Subscribers.Has(id) {
			continue
		}
		s.unindexLocked(slot, d)
		d.Subscribers.Delete(id)
		s.indexLocked(slot, d)
		changed = append(changed, d.ID)
	}
	return changed
}

// Search returns the sorted slot indices matching node.
func (s *Store) Search(node query.Node) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return node.Search(indexView{s}).Sorted()
}

// Find returns copies of the components matching node, in slot order.
func (s *Store) Find(node query.Node) []*description.ComponentDescription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slots := node.Search(indexView{s}).Sorted()
	out := make([]*description.ComponentDescription, 0, len(slots))
	for _, slot := range slots {
		out = append(out, s.slots[slot].Clone())
	}
	return out
}

// Len returns the number of live components.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Snapshot returns copies of every live component, in slot order.
func (s *Store) Snapshot() []*description.ComponentDescription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*description.ComponentDescription, 0, len(s.slots))
	for _, slot := range s.sortedSlotsLocked() {
		out = append(out, s.slots[slot].Clone())
	}
	return out
}

// Tx is the view of a store handed to WithLock callbacks. It must not be
// used after the callback returns.
type Tx struct {
	s *Store
}

// Get returns a copy of the referenced component, or nil.
func (tx Tx) Get(ref Ref) *description.ComponentDescription {
	slot, ok := tx.s.resolveLocked(ref)
	if !ok {
		return nil
	}
	return tx.s.slots[slot].Clone()
}

// Remove drops the referenced component and returns it, or nil.
func (tx Tx) Remove(ref Ref) *description.ComponentDescription {
	slot, ok := tx.s.resolveLocked(ref)
	if !ok {
		return nil
	}
	return tx.s.removeLocked(slot)
}

// WithLock runs fn while holding the write lock, so that a check followed by
// a removal cannot interleave with other mutations.
func (s *Store) WithLock(fn func(tx Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(Tx{s})
}

// CheckConsistency verifies that the id map and every index table agree with
// the slot table in both directions.
func (s *Store) CheckConsistency() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.byID) != len(s.slots) {
		return fmt.Errorf("id map holds %d entries for %d slots", len(s.byID), len(s.slots))
	}
	for id, slot := range s.byID {
		d, ok := s.slots[slot]
		if !ok {
			return fmt.Errorf("id %s points at empty slot %d", id, slot)
		}
		if idKey(d.ID) != id {
			return fmt.Errorf("id %s points at slot %d holding %s", id, slot, d.ID)
		}
	}
	for slot := range s.slots {
		if slot >= s.next {
			return fmt.Errorf("slot %d not below next index %d", slot, s.next)
		}
	}

	for k, t := range s.tables {
		want := make(map[string]map[int]struct{})
		for slot, d := range s.slots {
			for _, key := range k.field.Keys(d, k.facet) {
				if want[key] == nil {
					want[key] = make(map[int]struct{})
				}
				want[key][slot] = struct{}{}
			}
		}
		for key, slots := range t.keys {
			for slot := range slots {
				if _, ok := s.slots[slot]; !ok {
					return fmt.Errorf("%s/%d key %q references dead slot %d", k.field, k.facet, key, slot)
				}
			}
		}
		if !reflect.DeepEqual(want, t.keys) {
			return fmt.Errorf("%s/%d index does not match stored components", k.field, k.facet)
		}
	}
	return nil
}

func (s *Store) insertLocked(d *description.ComponentDescription) int {
	slot := s.next
	s.next++
	s.slots[slot] = d
	s.byID[idKey(d.ID)] = slot
	s.indexLocked(slot, d)
	return slot
}

func (s *Store) removeLocked(slot int) *description.ComponentDescription {
	d, ok := s.slots[slot]
	if !ok {
		return nil
	}
	s.unindexLocked(slot, d)
	delete(s.slots, slot)
	if key := idKey(d.ID); s.byID[key] == slot {
		delete(s.byID, key)
	}
	return d
}

func (s *Store) indexLocked(slot int, d *description.ComponentDescription) {
	for k, t := range s.tables {
		t.add(slot, k.field.Keys(d, k.facet))
	}
}

func (s *Store) unindexLocked(slot int, d *description.ComponentDescription) {
	for k, t := range s.tables {
		t.remove(slot, k.field.Keys(d, k.facet))
	}
}

func (s *Store) resolveLocked(ref Ref) (int, bool) {
	if ref.byIndex {
		_, ok := s.slots[ref.Index]
		return ref.Index, ok
	}
	slot, ok := s.byID[idKey(ref.ID)]
	return slot, ok
}

func (s *Store) sortedSlotsLocked() []int {
	out := make([]int, 0, len(s.slots))
	for slot := range s.slots {
		out = append(out, slot)
	}
	sort.Ints(out)
	return out
}

// indexView exposes the index tables to query.Node.Search. Callers hold the
// read lock.
type indexView struct {
	s *Store
}

func (v indexView) Lookup(f query.Field, facet query.Facet, key string) []int {
	t, ok := v.s.tables[tableKey{f, facet}]
	if !ok {
		return nil
	}
	return t.lookup(key)
}

func (v indexView) Keys(f query.Field, facet query.Facet) []string {
	t, ok := v.s.tables[tableKey{f, facet}]
	if !ok {
		return nil
	}
	return t.list()
}

func (v indexView) Slots() []int {
	return v.s.sortedSlotsLocked()
}

// idKey is the id map key for id. Ids compare the way the id index
// matches them: trimmed and case-folded.
func idKey(id string) string {
	return query.Normalize(strings.TrimSpace(id))
}
