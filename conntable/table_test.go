package conntable

import (
	"sort"
	"testing"

	"github.com/cyberinferno/netsession/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	id   uint32
	live bool
}

func (c *stubConn) ID() uint32 { return c.id }
func (c *stubConn) RemoteAddr() string { return "127.0.0.1:9" }
func (c *stubConn) IsLive() bool { return c.live }

func (c *stubConn) State() transport.State {
	if c.live {
		return transport.Connected
	}
	return transport.Disconnected
}

type recordingPolicy struct {
	admit   func(transport.Conn) bool
	asked   int
	removed []uint32
}

func (p *recordingPolicy) Admit(c transport.Conn) bool {
	p.asked++
	if p.admit == nil {
		return true
	}
	return p.admit(c)
}

func (p *recordingPolicy) OnRemove(c transport.Conn) {
	p.removed = append(p.removed, c.ID())
}

func conns(n int) []*stubConn {
	out := make([]*stubConn, n)
	for i := range out {
		out[i] = &stubConn{id: uint32(i + 1), live: true}
	}
	return out
}

func ids(t *Table) []uint32 {
	var out []uint32
	for _, c := range t.Snapshot() {
		out = append(out, c.ID())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestTable_Add(t *testing.T) {
	t.Run("capacity ceiling holds with an always-admit policy", func(t *testing.T) {
		p := &recordingPolicy{}
		tbl := New(4, p)
		added := 0
		for _, c := range conns(5) {
			if tbl.Add(c) {
				added++
			}
		}
		assert.Equal(t, 4, added)
		assert.Equal(t, 4, tbl.Len())
		assert.Equal(t, 4, p.asked, "policy is not consulted once full")
	})

	t.Run("duplicates are refused", func(t *testing.T) {
		tbl := New(4, nil)
		c := &stubConn{id: 1, live: true}
		assert.True(t, tbl.Add(c))
		assert.False(t, tbl.Add(c))
		assert.Equal(t, 1, tbl.Len())
	})

	t.Run("policy rejection", func(t *testing.T) {
		p := &recordingPolicy{admit: func(c transport.Conn) bool { return c.ID()%2 == 0 }}
		tbl := New(10, p)
		for _, c := range conns(4) {
			tbl.Add(c)
		}
		assert.Equal(t, []uint32{2, 4}, ids(tbl))
	})

	t.Run("nil and stale connections", func(t *testing.T) {
		tbl := New(2, nil)
		assert.False(t, tbl.Add(nil))
		assert.False(t, tbl.Add(&stubConn{id: 3}))
		assert.Equal(t, 0, tbl.Len())
	})

	t.Run("zero and negative capacity", func(t *testing.T) {
		assert.False(t, New(0, nil).Add(&stubConn{id: 1, live: true}))
		tbl := New(-1, nil)
		assert.Equal(t, 0, tbl.Cap())
		assert.False(t, tbl.Add(&stubConn{id: 1, live: true}))
	})
}

func TestTable_SweepStale(t *testing.T) {
	t.Run("empty table", func(t *testing.T) {
		assert.Equal(t, 0, New(4, nil).SweepStale())
	})

	t.Run("all stale", func(t *testing.T) {
		p := &recordingPolicy{}
		tbl := New(4, p)
		cs := conns(4)
		for _, c := range cs {
			require.True(t, tbl.Add(c))
			c.live = false
		}
		assert.Equal(t, 4, tbl.SweepStale())
		assert.Equal(t, 0, tbl.Len())
		assert.ElementsMatch(t, []uint32{1, 2, 3, 4}, p.removed)
	})

	t.Run("mixed keeps every live entry exactly once", func(t *testing.T) {
		p := &recordingPolicy{}
		tbl := New(8, p)
		cs := conns(8)
		for _, c := range cs {
			require.True(t, tbl.Add(c))
		}
		for _, i := range []int{0, 3, 6, 7} {
			cs[i].live = false
		}

		assert.Equal(t, 4, tbl.SweepStale())
		assert.Equal(t, []uint32{2, 3, 5, 6}, ids(tbl))
		assert.ElementsMatch(t, []uint32{1, 4, 7, 8}, p.removed)
		for _, c := range tbl.Snapshot() {
			assert.True(t, c.IsLive())
			assert.True(t, tbl.Contains(c))
		}
	})

	t.Run("adjacent stale entries at the tail", func(t *testing.T) {
		tbl := New(3, nil)
		cs := conns(3)
		for _, c := range cs {
			tbl.Add(c)
		}
		cs[1].live = false
		cs[2].live = false
		assert.Equal(t, 2, tbl.SweepStale())
		assert.Equal(t, []uint32{1}, ids(tbl))
	})
}

func TestTable_ForEachLive(t *testing.T) {
	t.Run("removal mid-pass visits every other live entry once", func(t *testing.T) {
		for removeAt := 0; removeAt < 5; removeAt++ {
			tbl := New(5, nil)
			cs := conns(5)
			for _, c := range cs {
				require.True(t, tbl.Add(c))
			}

			visits := make(map[uint32]int)
			victim := cs[removeAt]
			tbl.ForEachLive(func(c transport.Conn) {
				visits[c.ID()]++
				if c.ID() == victim.ID() {
					tbl.Remove(c)
				}
			})

			for _, c := range cs {
				assert.Equal(t, 1, visits[c.ID()], "remove at %d, conn %d", removeAt, c.ID())
			}
			assert.Equal(t, 4, tbl.Len())
		}
	})

	t.Run("entry removed before its visit is skipped", func(t *testing.T) {
		tbl := New(3, nil)
		cs := conns(3)
		for _, c := range cs {
			tbl.Add(c)
		}

		var visited []uint32
		tbl.ForEachLive(func(c transport.Conn) {
			visited = append(visited, c.ID())
			if c.ID() == 1 {
				tbl.Remove(cs[2])
			}
		})
		assert.Equal(t, []uint32{1, 2}, visited)
	})

	t.Run("connection going stale during pass is skipped", func(t *testing.T) {
		tbl := New(3, nil)
		cs := conns(3)
		for _, c := range cs {
			tbl.Add(c)
		}

		var visited []uint32
		tbl.ForEachLive(func(c transport.Conn) {
			visited = append(visited, c.ID())
			cs[1].live = false
		})
		assert.Equal(t, []uint32{1, 3}, visited)
		assert.Equal(t, 3, tbl.Len(), "stale entries wait for the sweep")
	})
}

func TestTable_Remove_Clear(t *testing.T) {
	p := &recordingPolicy{}
	tbl := New(4, p)
	cs := conns(4)
	for _, c := range cs {
		tbl.Add(c)
	}

	assert.True(t, tbl.Remove(cs[0]))
	assert.False(t, tbl.Remove(cs[0]))
	assert.False(t, tbl.Remove(nil))
	assert.Equal(t, []uint32{2, 3, 4}, ids(tbl))

	snapshot := tbl.Snapshot()
	assert.Equal(t, uint32(4), snapshot[0].ID(), "last entry swapped into the freed slot")

	tbl.Clear()
	assert.Equal(t, 0, tbl.Len())
	assert.ElementsMatch(t, []uint32{1, 2, 3, 4}, p.removed)
	assert.False(t, tbl.Contains(cs[1]))
}
