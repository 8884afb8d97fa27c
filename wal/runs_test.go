package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuns_Add(t *testing.T) {
	tests := []struct {
		name string
		add  []Run
		want []Run
	}{
		{
			name: "disjoint stay separate",
			add:  []Run{{Start: 100, Size: 10}, {Start: 0, Size: 10}},
			want: []Run{{Start: 0, Size: 10}, {Start: 100, Size: 10}},
		},
		{
			name: "touching merge",
			add:  []Run{{Start: 0, Size: 10}, {Start: 10, Size: 10}},
			want: []Run{{Start: 0, Size: 20}},
		},
		{
			name: "bridge merges neighbours",
			add:  []Run{{Start: 0, Size: 10}, {Start: 30, Size: 10}, {Start: 5, Size: 30}},
			want: []Run{{Start: 0, Size: 40}},
		},
		{
			name: "contained is absorbed",
			add:  []Run{{Start: 0, Size: 100}, {Start: 20, Size: 5}},
			want: []Run{{Start: 0, Size: 100}},
		},
		{
			name: "empty ignored",
			add:  []Run{{Start: 0, Size: 0}},
			want: []Run{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := newRuns()
			for _, r := range tt.add {
				rs.add(r)
			}
			assert.Equal(t, tt.want, collect(rs))
		})
	}
}

func TestRuns_Lookup(t *testing.T) {
	rs := newRuns()
	rs.add(Run{Start: 10, Size: 10})
	rs.add(Run{Start: 50, Size: 10})

	r, ok := rs.covering(15)
	assert.True(t, ok)
	assert.Equal(t, Run{Start: 10, Size: 10}, r)

	_, ok = rs.covering(20)
	assert.False(t, ok)

	r, ok = rs.after(20)
	assert.True(t, ok)
	assert.Equal(t, int64(50), r.Start)

	_, ok = rs.after(50)
	assert.False(t, ok)
}

func collect(rs *runs) []Run {
	out := make([]Run, 0, rs.tree.Len())
	rs.tree.Ascend(func(r Run) bool {
		out = append(out, r)
		return true
	})
	return out
}
