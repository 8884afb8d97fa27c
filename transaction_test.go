package tmstorage

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/davidvella/tmstorage/storage"
	"github.com/davidvella/tmstorage/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mediaConfig struct {
	name    string
	withLog bool
	opts    []Option
}

// undoableConfigs are the setups in which a transaction can be rolled back.
var undoableConfigs = []mediaConfig{
	{name: "buffered"},
	{name: "log", withLog: true, opts: []Option{WithBuffering(false)}},
	{name: "buffered with log", withLog: true},
}

func (c mediaConfig) open(t *testing.T) (*Storage, *memory.Medium, *memory.Medium) {
	t.Helper()

	m := memory.New()
	var log *memory.Medium
	var l storage.Medium
	if c.withLog {
		log = memory.New()
		l = log
	}
	s, err := Open(m, l, c.opts...)
	require.NoError(t, err)
	return s, m, log
}

func TestTransaction_RollbackRestoresStorage(t *testing.T) {
	for _, c := range undoableConfigs {
		t.Run(c.name, func(t *testing.T) {
			s, m, _ := c.open(t)
			id := NewStreamID()
			st, err := s.CreateStream(id, 0)
			require.NoError(t, err)
			_, err = st.Write([]byte("hello"))
			require.NoError(t, err)

			snapshot := m.Bytes()
			extents, err := st.Extents()
			require.NoError(t, err)
			free, err := s.FreeSpaceExtents()
			require.NoError(t, err)

			require.NoError(t, s.StartTransaction())
			_, err = st.WriteAt([]byte("world"), 0)
			require.NoError(t, err)
			require.NoError(t, st.SetLength(3000))
			created, err := s.CreateStream(NewStreamID(), 0)
			require.NoError(t, err)
			_, err = created.Write(fill(1, 2000))
			require.NoError(t, err)
			require.NoError(t, s.RollbackTransaction())

			assert.False(t, s.InTransaction())
			assert.Equal(t, snapshot, m.Bytes())
			assert.Equal(t, int64(5), st.Length())
			assert.Equal(t, []byte("hello"), readAll(t, st))

			gotExtents, err := st.Extents()
			require.NoError(t, err)
			assert.Equal(t, extents, gotExtents)
			gotFree, err := s.FreeSpaceExtents()
			require.NoError(t, err)
			assert.Equal(t, free, gotFree)

			_, err = created.Write([]byte("x"))
			assert.ErrorIs(t, err, ErrStreamClosed)
			found, err := s.ContainsStream(created.ID())
			require.NoError(t, err)
			assert.False(t, found)
			requireTiling(t, s)
		})
	}
}

func TestTransaction_RollbackRestoresDeletedStream(t *testing.T) {
	for _, c := range undoableConfigs {
		t.Run(c.name, func(t *testing.T) {
			s, _, _ := c.open(t)
			id := NewStreamID()
			st, err := s.CreateStream(id, 5)
			require.NoError(t, err)
			_, err = st.Write(fill(3, 700))
			require.NoError(t, err)

			require.NoError(t, s.StartTransaction())
			require.NoError(t, s.DeleteStream(id))
			found, err := s.ContainsStream(id)
			require.NoError(t, err)
			assert.False(t, found)
			require.NoError(t, s.RollbackTransaction())

			st, err = s.OpenStream(id)
			require.NoError(t, err)
			assert.Equal(t, fill(3, 700), readAll(t, st))
			assert.Equal(t, int32(5), st.Tag())
			requireTiling(t, s)
		})
	}
}

func TestTransaction_Nesting(t *testing.T) {
	s, _ := openMemory(t)
	st, err := s.CreateStream(NewStreamID(), 0)
	require.NoError(t, err)

	require.NoError(t, s.StartTransaction())
	require.NoError(t, s.StartTransaction())
	_, err = st.Write([]byte("inner"))
	require.NoError(t, err)

	// Leaving the inner level keeps the outer transaction open.
	require.NoError(t, s.CommitTransaction())
	assert.True(t, s.InTransaction())

	// Rolling back undoes every level at once.
	require.NoError(t, s.RollbackTransaction())
	assert.False(t, s.InTransaction())
	assert.Zero(t, st.Length())

	require.NoError(t, s.RollbackTransaction(), "no transaction to roll back")
	require.NoError(t, s.CommitTransaction(), "no transaction to commit")
	assert.False(t, s.InTransaction())
}

func TestTransaction_RollbackWithoutUndoCommits(t *testing.T) {
	m := memory.New()
	s, err := Open(m, nil, WithBuffering(false))
	require.NoError(t, err)
	id := NewStreamID()
	st, err := s.CreateStream(id, 0)
	require.NoError(t, err)

	before, err := s.Statistics()
	require.NoError(t, err)

	require.NoError(t, s.StartTransaction())
	_, err = st.Write([]byte("durable"))
	require.NoError(t, err)
	require.NoError(t, s.RollbackTransaction())

	after, err := s.Statistics()
	require.NoError(t, err)
	assert.Equal(t, before.TransactionsCommitted+1, after.TransactionsCommitted)
	assert.Zero(t, after.TransactionsRolledBack)
	require.NoError(t, s.Close())

	s = reopen(t, m, nil)
	st, err = s.OpenStream(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), readAll(t, st))
}

func TestTransaction_Hooks(t *testing.T) {
	s, _ := openMemory(t)

	var events []string
	s.OnTransactionChanging(func(state TransactionState) { events = append(events, "changing "+state.String()) })
	s.OnTransactionChanged(func(state TransactionState) { events = append(events, "changed "+state.String()) })

	require.NoError(t, s.StartTransaction())
	_, err := s.CreateStream(NewStreamID(), 0)
	require.NoError(t, err)
	require.NoError(t, s.CommitTransaction())
	assert.Equal(t, []string{"changing start", "changed start", "changing commit", "changed commit"}, events)

	events = nil
	require.NoError(t, s.StartTransaction())
	require.NoError(t, s.StartTransaction())
	require.NoError(t, s.RollbackTransaction())
	assert.Equal(t, []string{"changing start", "changed start", "changing rollback", "changed rollback"}, events)
}

func TestTransactionState_String(t *testing.T) {
	tests := []struct {
		state TransactionState
		want  string
	}{
		{TransactionStart, "start"},
		{TransactionCommit, "commit"},
		{TransactionRollback, "rollback"},
		{TransactionState(9), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

// TestStorage_RandomOperations applies a seeded random mix of operations,
// some inside transactions that are rolled back, and checks the streams
// against an in-memory model and the space layout after every step.
func TestStorage_RandomOperations(t *testing.T) {
	for _, c := range undoableConfigs {
		t.Run(c.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(7, 11))
			s, m, log := c.open(t)
			model := map[StreamID][]byte{}

			ids := func() []StreamID {
				list := make([]StreamID, 0, len(model))
				for id := range model {
					list = append(list, id)
				}
				return list
			}
			pick := func() (StreamID, bool) {
				list := ids()
				if len(list) == 0 {
					return StreamID{}, false
				}
				return list[rng.IntN(len(list))], true
			}

			step := func(model map[StreamID][]byte) {
				switch op := rng.IntN(10); {
				case op < 2 || len(model) == 0:
					id := NewStreamID()
					_, err := s.CreateStream(id, int32(op))
					require.NoError(t, err)
					model[id] = nil
				case op < 6:
					id, _ := pick()
					st, err := s.OpenStream(id)
					require.NoError(t, err)
					data := model[id]
					off := rng.IntN(len(data) + 300)
					p := make([]byte, 1+rng.IntN(3000))
					for i := range p {
						p[i] = byte(rng.IntN(255) + 1)
					}
					_, err = st.WriteAt(p, int64(off))
					require.NoError(t, err)
					if end := off + len(p); end > len(data) {
						data = append(data, make([]byte, end-len(data))...)
					}
					copy(data[off:], p)
					model[id] = data
				case op < 8:
					id, _ := pick()
					st, err := s.OpenStream(id)
					require.NoError(t, err)
					data := model[id]
					length := rng.IntN(2*len(data) + 100)
					require.NoError(t, st.SetLength(int64(length)))
					if length <= len(data) {
						data = data[:length]
					} else {
						data = append(data, make([]byte, length-len(data))...)
					}
					model[id] = data
				default:
					id, _ := pick()
					require.NoError(t, s.DeleteStream(id))
					delete(model, id)
				}
			}

			for i := 0; i < 150; i++ {
				if rng.IntN(5) == 0 {
					require.NoError(t, s.StartTransaction())
					scratch := map[StreamID][]byte{}
					for id, data := range model {
						scratch[id] = bytes.Clone(data)
					}
					saved := model
					model = scratch
					for j := rng.IntN(4) + 1; j > 0; j-- {
						step(model)
					}
					if rng.IntN(2) == 0 {
						require.NoError(t, s.RollbackTransaction())
						model = saved
					} else {
						require.NoError(t, s.CommitTransaction())
					}
				} else {
					step(model)
				}
				requireTiling(t, s)
			}

			check := func(s *Storage) {
				all, err := s.Streams()
				require.NoError(t, err)
				assert.ElementsMatch(t, ids(), all)
				for id, data := range model {
					st, err := s.OpenStream(id)
					require.NoError(t, err)
					require.Equal(t, int64(len(data)), st.Length())
					got := readAll(t, st)
					require.True(t, bytes.Equal(data, got), "stream %s differs", id)
				}
			}
			check(s)

			require.NoError(t, s.Close())
			reopened := reopen(t, m, log, c.opts...)
			check(reopened)
			requireTiling(t, reopened)
		})
	}
}
