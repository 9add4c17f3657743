package entry

import "sort"

// Catalog is the engine's ordered map of ready entries, keyed by name, with
// names sorted in creation order (spec.md §3). It is not safe for
// concurrent use: every method must be called with the engine's queue mutex
// held, same as the rest of the catalog's invariants.
type Catalog struct {
	order   []string
	entries map[string]*Entry
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]*Entry)}
}

// Insert adds or replaces the entry under e.Name, keeping order sorted.
func (c *Catalog) Insert(e *Entry) {
	if _, exists := c.entries[e.Name]; !exists {
		i := sort.SearchStrings(c.order, e.Name)
		c.order = append(c.order, "")
		copy(c.order[i+1:], c.order[i:])
		c.order[i] = e.Name
	}
	c.entries[e.Name] = e
}

// Remove deletes the entry named name, if present.
func (c *Catalog) Remove(name string) {
	if _, exists := c.entries[name]; !exists {
		return
	}
	delete(c.entries, name)
	i := sort.SearchStrings(c.order, name)
	if i < len(c.order) && c.order[i] == name {
		c.order = append(c.order[:i], c.order[i+1:]...)
	}
}

// Get returns the entry named name, or nil if absent.
func (c *Catalog) Get(name string) *Entry {
	return c.entries[name]
}

// Tail returns the entry with the greatest name, or nil if the catalog is
// empty. Used by the merge policy, which only ever merges into the tail.
func (c *Catalog) Tail() *Entry {
	if len(c.order) == 0 {
		return nil
	}
	return c.entries[c.order[len(c.order)-1]]
}

// Next returns the least ready entry strictly greater than previous (or the
// least ready entry overall, if previous is empty), or nil if none
// qualifies. This realizes nextEntry from spec.md §4.1: a receiver never
// crosses a non-ready entry.
func (c *Catalog) Next(previous string) *Entry {
	i := 0
	if previous != "" {
		i = sort.SearchStrings(c.order, previous)
		if i < len(c.order) && c.order[i] == previous {
			i++
		}
	}
	for ; i < len(c.order); i++ {
		e := c.entries[c.order[i]]
		if e.Ready {
			return e
		}
	}
	return nil
}

// Len returns the number of cataloged entries.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Each calls fn for every entry in order. fn must not mutate the catalog.
// Iteration stops early if fn returns false.
func (c *Catalog) Each(fn func(*Entry) bool) {
	for _, name := range c.order {
		if !fn(c.entries[name]) {
			return
		}
	}
}

// Names returns a snapshot of the catalog's keys in order, for callers that
// need to mutate the catalog while iterating.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
