package messaging

import (
	"slices"
	"sort"

	"dmsync/internal/models"
)

type timelineEntry struct {
	msg *models.Message
	seq uint64
}

// Timeline is the ordered, id-unique message list of one conversation.
// It keeps an id index plus an incrementally maintained view sorted by
// (CreatedAt, insertion sequence). Not safe for concurrent use; a Session
// only touches it from its event loop.
type Timeline struct {
	byID    map[string]*timelineEntry
	order   []*timelineEntry
	nextSeq uint64
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{byID: make(map[string]*timelineEntry)}
}

func entryLess(a, b *timelineEntry) bool {
	if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	}
	return a.seq < b.seq
}

// Len returns the number of messages.
func (t *Timeline) Len() int { return len(t.order) }

// Has reports whether a message with id is present.
func (t *Timeline) Has(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// Get returns the message with id, or nil.
func (t *Timeline) Get(id string) *models.Message {
	if e, ok := t.byID[id]; ok {
		return e.msg
	}
	return nil
}

// Insert adds msg at the position implied by its timestamp. It returns false and
// leaves the timeline untouched when the id is already present.
func (t *Timeline) Insert(msg *models.Message) bool {
	if msg == nil || t.Has(msg.ID) {
		return false
	}
	t.nextSeq++
	t.place(&timelineEntry{msg: msg, seq: t.nextSeq})
	return true
}

func (t *Timeline) place(e *timelineEntry) {
	i := sort.Search(len(t.order), func(i int) bool { return entryLess(e, t.order[i]) })
	t.order = slices.Insert(t.order, i, e)
	t.byID[e.msg.ID] = e
}

// Remove deletes the message with id. It returns false if it was absent.
func (t *Timeline) Remove(id string) bool {
	e, ok := t.byID[id]
	if !ok {
		return false
	}
	t.unplace(e)
	return true
}

func (t *Timeline) unplace(e *timelineEntry) {
	i := sort.Search(len(t.order), func(i int) bool { return !entryLess(t.order[i], e) })
	if i < len(t.order) && t.order[i] == e {
		t.order = slices.Delete(t.order, i, i+1)
	} else {
		// unreachable while the sort invariant holds
		t.order = slices.DeleteFunc(t.order, func(x *timelineEntry) bool { return x == e })
	}
	delete(t.byID, e.msg.ID)
}

// Replace swaps the placeholder tempID for its authoritative counterpart. The
// authoritative copy is placed by its own timestamp and inherits the placeholder's
// insertion sequence. If an entry with the authoritative id already exists (the
// channel delivered it first) that copy is kept and the placeholder is dropped.
// It returns true when the authoritative message was inserted.
func (t *Timeline) Replace(tempID string, msg *models.Message) bool {
	seq := uint64(0)
	if e, ok := t.byID[tempID]; ok {
		seq = e.seq
		t.unplace(e)
	}
	if t.Has(msg.ID) {
		return false
	}
	if seq == 0 {
		t.nextSeq++
		seq = t.nextSeq
	}
	t.place(&timelineEntry{msg: msg, seq: seq})
	return true
}

// Clear removes every message.
func (t *Timeline) Clear() {
	t.byID = make(map[string]*timelineEntry)
	t.order = nil
}

// Snapshot returns detached copies of the messages in timeline order.
func (t *Timeline) Snapshot() []*models.Message {
	out := make([]*models.Message, len(t.order))
	for i, e := range t.order {
		out[i] = e.msg.Clone()
	}
	return out
}

// IDs returns the message ids in timeline order.
func (t *Timeline) IDs() []string {
	out := make([]string, len(t.order))
	for i, e := range t.order {
		out[i] = e.msg.ID
	}
	return out
}
