// Package journal persists registry mutations so the registry can be rebuilt
// after a restart. Each mutation is one line of the form
//
//	entry:addComp:{...description json...}
//	entry:removeComp:{...description json...}
package journal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/c360studio/discoverer/description"
)

// Op is the kind of mutation recorded by an entry.
type Op string

// Journal operations.
const (
	OpAdd    Op = "addComp"
	OpRemove Op = "removeComp"
)

const entryPrefix = "entry:"

// ErrMalformedEntry is returned for lines that cannot be parsed.
var ErrMalformedEntry = errors.New("malformed journal entry")

// Log is a durable, append-only record of registry mutations.
type Log interface {
	// Append records one mutation.
	Append(ctx context.Context, op Op, d *description.ComponentDescription) error
	// ReadAll returns every recorded line, in append order.
	ReadAll(ctx context.Context) (string, error)
	// Truncate discards every recorded line.
	Truncate(ctx context.Context) error
}

// Entry is one parsed journal line.
type Entry struct {
	Op          Op
	Description *description.ComponentDescription
}

// FormatEntry renders one journal line, without the trailing newline.
func FormatEntry(op Op, d *description.ComponentDescription) (string, error) {
	switch op {
	case OpAdd, OpRemove:
	default:
		return "", fmt.Errorf("%w: unknown op %q", ErrMalformedEntry, op)
	}
	data, err := description.Encode(d)
	if err != nil {
		return "", fmt.Errorf("format entry: %w", err)
	}
	return entryPrefix + string(op) + ":" + string(data), nil
}

// ParseEntry parses one journal line.
func ParseEntry(line string) (Entry, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), entryPrefix)
	if !ok {
		return Entry{}, fmt.Errorf("%w: missing %q prefix", ErrMalformedEntry, entryPrefix)
	}
	op, payload, ok := strings.Cut(rest, ":")
	if !ok {
		return Entry{}, fmt.Errorf("%w: missing op", ErrMalformedEntry)
	}
	switch Op(op) {
	case OpAdd, OpRemove:
	default:
		return Entry{}, fmt.Errorf("%w: unknown op %q", ErrMalformedEntry, op)
	}
	d, err := description.Decode([]byte(payload))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return Entry{Op: Op(op), Description: d}, nil
}

// Replay nets out a journal: for every id the last entry wins, an add keeps
// the component and a remove drops it. Survivors are returned in the order
// of their surviving add. Malformed lines are skipped and reported in the
// returned error alongside the survivors.
func Replay(raw string) ([]*description.ComponentDescription, error) {
	type survivor struct {
		pos int
		d   *description.ComponentDescription
	}
	live := make(map[string]survivor)
	var errs []error

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	pos := 0
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		pos++
		entry, err := ParseEntry(line)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", pos, err))
			continue
		}
		switch entry.Op {
		case OpAdd:
			live[idKey(entry.Description.ID)] = survivor{pos: pos, d: entry.Description}
		case OpRemove:
			delete(live, idKey(entry.Description.ID))
		}
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("scan journal: %w", err))
	}

	ordered := make([]survivor, 0, len(live))
	for _, s := range live {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].pos < ordered[j].pos })

	out := make([]*description.ComponentDescription, len(ordered))
	for i, s := range ordered {
		out[i] = s.d
	}
	return out, errors.Join(errs...)
}

// MemoryLog keeps the journal in memory. It backs tests and deployments that
// run without durable recovery.
type MemoryLog struct {
	mu    sync.Mutex
	lines []string
}

// NewMemoryLog creates an empty in-memory journal.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements Log.
func (m *MemoryLog) Append(_ context.Context, op Op, d *description.ComponentDescription) error {
	line, err := FormatEntry(op, d)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)
	return nil
}

// ReadAll implements Log.
func (m *MemoryLog) ReadAll(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.lines) == 0 {
		return "", nil
	}
	return strings.Join(m.lines, "\n") + "\n", nil
}

// Truncate implements Log.
func (m *MemoryLog) Truncate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = nil
	return nil
}

// Len returns the number of recorded lines.
func (m *MemoryLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

// idKey matches ids the way the registry does: trimmed and case-folded.
func idKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
