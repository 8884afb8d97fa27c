package tmstorage

import "weak"

// openStreams indexes open streams without keeping them alive. A stream the
// caller dropped without closing disappears on the next lookup.
type openStreams struct {
	refs map[StreamID]weak.Pointer[Stream]
}

func newOpenStreams() *openStreams {
	return &openStreams{refs: make(map[StreamID]weak.Pointer[Stream])}
}

func (o *openStreams) get(id StreamID) *Stream {
	ref, ok := o.refs[id]
	if !ok {
		return nil
	}
	s := ref.Value()
	if s == nil {
		delete(o.refs, id)
	}
	return s
}

func (o *openStreams) put(s *Stream) {
	o.refs[s.ID()] = weak.Make(s)
}

func (o *openStreams) remove(id StreamID) {
	delete(o.refs, id)
}

// live returns every stream still reachable, evicting the rest.
func (o *openStreams) live() []*Stream {
	streams := make([]*Stream, 0, len(o.refs))
	for id, ref := range o.refs {
		if s := ref.Value(); s != nil {
			streams = append(streams, s)
		} else {
			delete(o.refs, id)
		}
	}
	return streams
}

func (o *openStreams) clear() {
	clear(o.refs)
}
