package wal

import (
	"github.com/google/btree"
)

// Run is a contiguous region of the master medium, [Start, Start+Size).
type Run struct {
	Start int64
	Size  int64
}

func (r Run) End() int64 {
	return r.Start + r.Size
}

// runs is a set of non-overlapping, non-touching regions ordered by start.
type runs struct {
	tree *btree.BTreeG[Run]
}

func newRuns() *runs {
	return &runs{
		tree: btree.NewG[Run](2, func(a, b Run) bool {
			return a.Start < b.Start
		}),
	}
}

// add inserts r, merging it with every run it overlaps or touches.
func (rs *runs) add(r Run) {
	if r.Size <= 0 {
		return
	}

	if prev, ok := rs.floor(r.Start); ok && prev.End() >= r.Start {
		rs.tree.Delete(prev)
		end := max(prev.End(), r.End())
		r = Run{Start: prev.Start, Size: end - prev.Start}
	}

	var absorbed []Run
	rs.tree.AscendGreaterOrEqual(Run{Start: r.Start}, func(next Run) bool {
		if next.Start > r.End() {
			return false
		}
		absorbed = append(absorbed, next)
		return true
	})
	for _, next := range absorbed {
		rs.tree.Delete(next)
		if next.End() > r.End() {
			r.Size = next.End() - r.Start
		}
	}

	rs.tree.ReplaceOrInsert(r)
}

// floor returns the run with the greatest start not after pos.
func (rs *runs) floor(pos int64) (Run, bool) {
	var found Run
	var ok bool
	rs.tree.DescendLessOrEqual(Run{Start: pos}, func(r Run) bool {
		found, ok = r, true
		return false
	})
	return found, ok
}

// covering returns the run containing pos.
func (rs *runs) covering(pos int64) (Run, bool) {
	r, ok := rs.floor(pos)
	if !ok || r.End() <= pos {
		return Run{}, false
	}
	return r, true
}

// after returns the first run starting after pos.
func (rs *runs) after(pos int64) (Run, bool) {
	var found Run
	var ok bool
	rs.tree.AscendGreaterOrEqual(Run{Start: pos + 1}, func(r Run) bool {
		found, ok = r, true
		return false
	})
	return found, ok
}

func (rs *runs) clear() {
	rs.tree.Clear(false)
}
