package tmstorage

import (
	"fmt"
	"maps"
	"slices"
)

const (
	minTableGrowth = 512
	maxTableGrowth = 50000
)

// table is the stream directory. Slot i lives at byte i*48 of the table
// stream; a slot with a zero id is free. Entries added during a transaction
// stay in pending until saveChanges writes them.
type table struct {
	stream  *Stream
	items   map[StreamID]int
	pending map[StreamID]*streamMetadata
	slots   tableMap
}

func newTable(stream *Stream) (*table, error) {
	t := &table{
		stream:  stream,
		items:   make(map[StreamID]int),
		pending: make(map[StreamID]*streamMetadata),
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *table) slotCount() int {
	return int(t.stream.meta.length / streamMetadataSize)
}

// readAll decodes every slot of the table stream, free slots included.
func (t *table) readAll() ([]*streamMetadata, error) {
	count := t.slotCount()
	buf := make([]byte, count*streamMetadataSize)
	if _, err := t.stream.readAt(buf, 0); err != nil {
		return nil, fmt.Errorf("failed to read stream table: %w", err)
	}

	entries := make([]*streamMetadata, 0, count)
	for i := 0; i < count; i++ {
		m, err := decodeStreamMetadata(i, buf[i*streamMetadataSize:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}
	return entries, nil
}

func (t *table) load() error {
	clear(t.items)
	t.slots.clear()

	entries, err := t.readAll()
	if err != nil {
		return err
	}
	for _, m := range entries {
		if m.id == (StreamID{}) {
			continue
		}
		t.slots.set(m.slot, true)
		t.items[m.id] = m.slot
	}
	return nil
}

func (t *table) read(slot int) (*streamMetadata, error) {
	buf := make([]byte, streamMetadataSize)
	if _, err := t.stream.readAt(buf, int64(slot)*streamMetadataSize); err != nil {
		return nil, fmt.Errorf("failed to read stream table entry %d: %w", slot, err)
	}
	return decodeStreamMetadata(slot, buf)
}

// write persists m into its slot. Streams without a slot are skipped.
func (t *table) write(m *streamMetadata) error {
	if m.slot < 0 {
		return nil
	}
	_, err := t.stream.WriteAt(m.marshal(), int64(m.slot)*streamMetadataSize)
	return err
}

func (t *table) get(id StreamID) (*streamMetadata, bool, error) {
	if m, ok := t.pending[id]; ok {
		return m, true, nil
	}
	slot, ok := t.items[id]
	if !ok {
		return nil, false, nil
	}
	m, err := t.read(slot)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (t *table) contains(id StreamID) bool {
	_, ok := t.items[id]
	return ok
}

// add registers a new entry in the first free slot, growing the table
// stream when the slot lies past its end.
func (t *table) add(id StreamID, tag int32) (*streamMetadata, error) {
	slot := t.slots.firstFree()

	if end := int64(slot+1) * streamMetadataSize; end > t.stream.meta.length {
		if err := t.grow(); err != nil {
			return nil, fmt.Errorf("failed to grow stream table: %w", err)
		}
	}

	m := &streamMetadata{id: id, tag: tag, slot: slot}
	t.pending[id] = m
	t.slots.set(slot, true)
	t.items[id] = slot
	return m, nil
}

func (t *table) grow() error {
	count := t.slotCount()
	count += min(max(count*3/2, minTableGrowth), maxTableGrowth)

	oldLength := t.stream.meta.length
	if err := t.stream.SetLength(int64(count) * streamMetadataSize); err != nil {
		return err
	}

	// Space handed out by the allocator may hold old bytes; free slots must be zero.
	if err := t.stream.fillZeros(oldLength, t.stream.meta.length); err != nil {
		return err
	}
	return t.stream.save()
}

// remove frees the slot of id. The slot is zeroed even for a pending entry
// because closing its stream may already have written metadata into it.
func (t *table) remove(id StreamID) error {
	slot, ok := t.items[id]
	if !ok {
		return ErrStreamNotFound
	}

	delete(t.pending, id)
	zero := make([]byte, streamMetadataSize)
	if _, err := t.stream.WriteAt(zero, int64(slot)*streamMetadataSize); err != nil {
		return err
	}

	t.slots.set(slot, false)
	delete(t.items, id)
	return nil
}

// entries returns pending and persisted entries, system streams included.
func (t *table) entries() ([]*streamMetadata, error) {
	result := slices.SortedFunc(maps.Values(t.pending), func(a, b *streamMetadata) int {
		return a.slot - b.slot
	})

	persisted, err := t.readAll()
	if err != nil {
		return nil, err
	}
	for _, m := range persisted {
		if m.id == (StreamID{}) {
			continue
		}
		if _, ok := t.pending[m.id]; ok {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

func (t *table) saveChanges() error {
	for _, m := range t.pending {
		if err := t.write(m); err != nil {
			return err
		}
	}
	clear(t.pending)
	return nil
}

func (t *table) rollback() error {
	clear(t.pending)
	return t.load()
}
