package subscription

import (
	"fmt"
	"time"
)

// Table is an owned subscription table. Entries are followed by exactly one
// NameLast record which bounds every iteration.
//
// A Table is not safe for concurrent use; the main loop is its only writer.
type Table struct {
	entries []Subscription
}

// NewTable builds a table from the given records. Every record starts
// uninitialized with reporting disabled.
func NewTable(subs ...Subscription) (*Table, error) {
	entries := make([]Subscription, 0, len(subs)+1)
	seen := make(map[Name]struct{}, len(subs))

	for _, s := range subs {
		if s.Name == NameLast {
			return nil, fmt.Errorf("%w: %q", ErrReservedName, s.Name)
		}
		if _, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, s.Name)
		}
		seen[s.Name] = struct{}{}

		s.Initialized = false
		s.DisableReporting = true
		entries = append(entries, s)
	}

	entries = append(entries, Subscription{
		Name:             NameLast,
		DisableReporting: true,
		ReadOnly:         true,
	})

	return &Table{entries: entries}, nil
}

// Default returns the table of the stock node: supply voltage 'v' and die
// temperature 't', both read-only.
func Default(interval time.Duration) *Table {
	t, _ := NewTable(
		Subscription{Name: 'v', ReadOnly: true, ReportInterval: interval, EnableOnInit: true},
		Subscription{Name: 't', ReadOnly: true, ReportInterval: interval, EnableOnInit: true},
	)
	return t
}

// Find returns the live record for name.
func (t *Table) Find(name Name) (*Subscription, error) {
	if name != NameLast {
		for i := 0; t.entries[i].Name != NameLast; i++ {
			if t.entries[i].Name == name {
				return &t.entries[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// SetValue stores a new current value. It never transmits; deciding whether
// to report is the caller's job.
//
// The first local value marks the record initialized and, for EnableOnInit
// records, enables reporting. A remote write to a writable record is passed to
// its OnSetValue handler.
func (t *Table) SetValue(name Name, value int32, origin Origin) error {
	s, err := t.Find(name)
	if err != nil {
		return err
	}

	s.CurrentValue = value

	if origin == OriginLocal && !s.Initialized {
		s.Initialized = true
		if s.EnableOnInit {
			s.DisableReporting = false
		}
	}

	if origin == OriginRemote && !s.ReadOnly && s.OnSetValue != nil {
		s.OnSetValue(name, value)
	}

	return nil
}

// Each calls fn for every live record until fn returns false.
func (t *Table) Each(fn func(*Subscription) bool) {
	for i := 0; t.entries[i].Name != NameLast; i++ {
		if !fn(&t.entries[i]) {
			return
		}
	}
}

// Len returns the number of live records.
func (t *Table) Len() int {
	return len(t.entries) - 1
}

// Names returns the live sensor names in table order.
func (t *Table) Names() []Name {
	names := make([]Name, 0, t.Len())
	t.Each(func(s *Subscription) bool {
		names = append(names, s.Name)
		return true
	})
	return names
}
