package store

import (
	"slices"
	"sort"
)

// revlog is the append-only revision history of one logical id. A published
// revlog is never modified; writers replace it with a longer copy.
type revlog[T any] struct {
	revs []*T
	dead bool
}

func (l *revlog[T]) head() *T {
	return l.revs[len(l.revs)-1]
}

type table[T any] struct {
	rows map[string]*revlog[T]
}

func newTable[T any]() table[T] {
	return table[T]{rows: make(map[string]*revlog[T])}
}

func (t table[T]) clone() table[T] {
	rows := make(map[string]*revlog[T], len(t.rows))
	for id, l := range t.rows {
		rows[id] = l
	}
	return table[T]{rows: rows}
}

func (t table[T]) get(id string) (*T, bool) {
	l, ok := t.rows[id]
	if !ok || l.dead {
		return nil, false
	}
	return l.head(), true
}

func (t table[T]) history(id string) []*T {
	l, ok := t.rows[id]
	if !ok {
		return nil
	}
	return slices.Clone(l.revs)
}

func (t table[T]) put(id string, rec *T) {
	next := &revlog[T]{}
	if old, ok := t.rows[id]; ok {
		next.revs = make([]*T, 0, len(old.revs)+1)
		next.revs = append(next.revs, old.revs...)
	}
	next.revs = append(next.revs, rec)
	t.rows[id] = next
}

func (t table[T]) kill(id string) {
	old, ok := t.rows[id]
	if !ok || old.dead {
		return
	}
	t.rows[id] = &revlog[T]{revs: old.revs, dead: true}
}

// killUpTo kills id unless it has a revision newer than revision.
func (t table[T]) killUpTo(id string, revision int) {
	if l, ok := t.rows[id]; ok && len(l.revs) <= revision {
		t.kill(id)
	}
}

// alive returns live ids in sorted order.
func (t table[T]) alive() []string {
	ids := make([]string, 0, len(t.rows))
	for id, l := range t.rows {
		if !l.dead {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (t table[T]) len() int {
	n := 0
	for _, l := range t.rows {
		if !l.dead {
			n++
		}
	}
	return n
}

// diffTable decides, for every staged record, whether it is new, unchanged
// or a new revision of an existing id, and stamps revision numbers.
func diffTable[T any](cur table[T], staged map[string]*T, hashOf func(*T) string, stamp func(rec *T, revision, supersedes int), counts *Counts) []*T {
	ids := make([]string, 0, len(staged))
	for id := range staged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []*T
	for _, id := range ids {
		rec := staged[id]
		l, ok := cur.rows[id]
		switch {
		case !ok:
			stamp(rec, 1, 0)
			counts.Inserted++
		case !l.dead && hashOf(l.head()) == hashOf(rec):
			counts.Unchanged++
			continue
		default:
			n := len(l.revs)
			stamp(rec, n+1, n)
			counts.Superseded++
		}
		out = append(out, rec)
	}
	return out
}
