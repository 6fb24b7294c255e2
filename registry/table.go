package registry

import (
	"sort"

	"github.com/c360studio/discoverer/query"
)

// tableKey identifies one index table.
type tableKey struct {
	field query.Field
	facet query.Facet
}

// table maps normalized keys to the slots holding them. Keys whose slot set
// becomes empty are deleted.
type table struct {
	keys map[string]map[int]struct{}
}

func newTable() *table {
	return &table{keys: make(map[string]map[int]struct{})}
}

// add records slot under every key. Repeated adds are no-ops.
func (t *table) add(slot int, keys []string) {
	for _, key := range keys {
		slots, ok := t.keys[key]
		if !ok {
			slots = make(map[int]struct{})
			t.keys[key] = slots
		}
		slots[slot] = struct{}{}
	}
}

// remove drops slot from every key. Missing entries are ignored.
func (t *table) remove(slot int, keys []string) {
	for _, key := range keys {
		slots, ok := t.keys[key]
		if !ok {
			continue
		}
		delete(slots, slot)
		if len(slots) == 0 {
			delete(t.keys, key)
		}
	}
}

func (t *table) lookup(key string) []int {
	slots := t.keys[key]
	if len(slots) == 0 {
		return nil
	}
	out := make([]int, 0, len(slots))
	for slot := range slots {
		out = append(out, slot)
	}
	sort.Ints(out)
	return out
}

func (t *table) list() []string {
	out := make([]string, 0, len(t.keys))
	for key := range t.keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
