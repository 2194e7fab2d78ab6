// Package conntable tracks the live connections of a server session. Entries
// are kept in insertion order; removal swaps the last entry into the freed
// slot, so order is not stable across removals.
package conntable

import (
	"github.com/cyberinferno/netsession/transport"
)

// Policy is the admission collaborator consulted by Add and notified when an
// entry leaves the table.
type Policy interface {
	// Admit reports whether conn may join the table.
	Admit(conn transport.Conn) bool

	// OnRemove is called once for every admitted connection, right before it
	// is removed.
	OnRemove(conn transport.Conn)
}

type admitAll struct{}

// Admit implements Policy.
func (admitAll) Admit(transport.Conn) bool { return true }

// OnRemove implements Policy.
func (admitAll) OnRemove(transport.Conn) {}

// Table is a capacity-bounded set of connections. It is not safe for
// concurrent use; a server session only touches it from its tick goroutine.
type Table struct {
	entries []transport.Conn
	index   map[uint32]int
	max     int
	policy  Policy
}

// New creates a Table holding at most max connections. A nil policy admits
// everything.
//
// Parameters:
//   - max: Capacity ceiling; values below zero are treated as zero
//   - policy: Admission collaborator
//
// Returns:
//   - A new, empty *Table
func New(max int, policy Policy) *Table {
	if max < 0 {
		max = 0
	}

	if policy == nil {
		policy = admitAll{}
	}

	return &Table{
		entries: make([]transport.Conn, 0, max),
		index:   make(map[uint32]int, max),
		max:     max,
		policy:  policy,
	}
}

// Add offers conn to the table. Nil, non-live and duplicate connections are
// refused, as is any connection once the table is full; the policy is only
// asked about connections the table could hold.
//
// Parameters:
//   - conn: The accepted connection
//
// Returns:
//   - true if conn was appended
func (t *Table) Add(conn transport.Conn) bool {
	if conn == nil || !conn.IsLive() {
		return false
	}

	if _, ok := t.index[conn.ID()]; ok {
		return false
	}

	if len(t.entries) >= t.max {
		return false
	}

	if !t.policy.Admit(conn) {
		return false
	}

	t.index[conn.ID()] = len(t.entries)
	t.entries = append(t.entries, conn)
	return true
}

// Remove takes conn out of the table, notifying the policy.
//
// Returns:
//   - true if conn was present
func (t *Table) Remove(conn transport.Conn) bool {
	if conn == nil {
		return false
	}

	i, ok := t.index[conn.ID()]
	if !ok {
		return false
	}

	t.policy.OnRemove(t.entries[i])
	t.removeAt(i)
	return true
}

// SweepStale removes every entry whose connection is no longer live, calling
// the policy's OnRemove for each before removal.
//
// Returns:
//   - The number of removed entries
func (t *Table) SweepStale() int {
	removed := 0
	// Walking backwards means the entry swapped into slot i was already checked.
	for i := len(t.entries) - 1; i >= 0; i-- {
		conn := t.entries[i]
		if conn.IsLive() {
			continue
		}

		t.policy.OnRemove(conn)
		t.removeAt(i)
		removed++
	}

	return removed
}

// ForEachLive calls fn for every entry that is live at the time of its
// visit. The pass works on a snapshot, so fn may remove or disconnect any
// entry: removed entries are skipped and the rest are still visited once.
func (t *Table) ForEachLive(fn func(conn transport.Conn)) {
	for _, conn := range t.Snapshot() {
		if !t.Contains(conn) || !conn.IsLive() {
			continue
		}

		fn(conn)
	}
}

// Clear removes every entry, notifying the policy for each.
func (t *Table) Clear() {
	for i := len(t.entries) - 1; i >= 0; i-- {
		t.policy.OnRemove(t.entries[i])
		t.removeAt(i)
	}
}

// Contains reports whether conn is in the table.
func (t *Table) Contains(conn transport.Conn) bool {
	if conn == nil {
		return false
	}

	_, ok := t.index[conn.ID()]
	return ok
}

// Snapshot returns a copy of the entries in table order.
func (t *Table) Snapshot() []transport.Conn {
	out := make([]transport.Conn, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Cap returns the capacity ceiling.
func (t *Table) Cap() int {
	return t.max
}

func (t *Table) removeAt(i int) {
	last := len(t.entries) - 1
	delete(t.index, t.entries[i].ID())

	if i != last {
		t.entries[i] = t.entries[last]
		t.index[t.entries[i].ID()] = i
	}

	t.entries[last] = nil
	t.entries = t.entries[:last]
}
