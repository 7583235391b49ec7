package event

import "time"

// Provenance records where an EventGroup's events came from.
type Provenance struct {
	ConfigName   string
	SourcePath   string
	ScrapeTarget string
	AcquiredAt   time.Time
}

// Group is the owned container of records an Input hands to the pipeline:
// a growable arena, an ordered sequence of Events referencing it, and
// group-wide tags that apply to every Event in the group.
//
// A Group is moved, never cloned, across pipeline stages: it is built by
// exactly one Input, mutated in place by the Processor chain, and
// serialized once by a Flusher.
type Group struct {
	arena     *Arena
	Events    []Event
	GroupTags map[string]string
	Prov      Provenance
}

// NewGroup creates an empty group with the given arena capacity hint.
func NewGroup(arenaCapacityHint int, prov Provenance) *Group {
	return &Group{
		arena:     NewArena(arenaCapacityHint),
		GroupTags: make(map[string]string),
		Prov:      prov,
	}
}

// Arena returns the group's backing arena, for Input/Processor code that
// needs to intern new strings into it.
func (g *Group) Arena() *Arena {
	return g.arena
}

// PutString interns s into the group's arena and returns a View over it.
func (g *Group) PutString(s string) View {
	return g.arena.Put(s)
}

// String resolves a View produced by this group's arena back to a string.
func (g *Group) String(v View) string {
	return g.arena.String(v)
}

// AddEvent appends an Event to the group.
func (g *Group) AddEvent(e Event) {
	g.Events = append(g.Events, e)
}

// Clear empties the event slice in place, used by a Processor that drops
// every event in a group (e.g. a filter matched nothing). The arena is
// left intact since earlier-built views may still be referenced elsewhere
// in the same call stack.
func (g *Group) Clear() {
	g.Events = g.Events[:0]
}

// Len returns the number of events currently in the group.
func (g *Group) Len() int {
	return len(g.Events)
}

// Seal freezes the group's arena against further writes. Called by the
// Process Queue on Push; idempotent.
func (g *Group) Seal() {
	g.arena.Seal()
}

// Sealed reports whether the group's arena has been sealed.
func (g *Group) Sealed() bool {
	return g.arena.Sealed()
}
