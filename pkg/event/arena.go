// Package event implements the in-memory event and event-group model that
// moves through the collection pipeline: events, their owning arena-backed
// groups, and the string views that let an Event reference bytes without
// copying them.
package event

import "fmt"

// View is a byte-range reference into an Arena. It is only valid for the
// lifetime of the Arena that produced it.
type View struct {
	Off uint32
	Len uint32
}

// Empty reports whether the view references zero bytes.
func (v View) Empty() bool {
	return v.Len == 0
}

// Arena is a growable byte buffer that backs every string field of every
// Event in one EventGroup. It is written to while the group is being built
// by an Input or mutated by a Processor, then Sealed once the group enters
// a Process Queue; writes after sealing are a programmer error.
type Arena struct {
	buf    []byte
	sealed bool
}

// NewArena creates an arena with the given initial capacity hint.
func NewArena(capacityHint int) *Arena {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Arena{buf: make([]byte, 0, capacityHint)}
}

// Put copies s into the arena and returns a View over the copy.
func (a *Arena) Put(s string) View {
	if a.sealed {
		panic("event: write to sealed arena")
	}
	off := len(a.buf)
	a.buf = append(a.buf, s...)
	return View{Off: uint32(off), Len: uint32(len(s))}
}

// PutBytes is the []byte equivalent of Put.
func (a *Arena) PutBytes(b []byte) View {
	if a.sealed {
		panic("event: write to sealed arena")
	}
	off := len(a.buf)
	a.buf = append(a.buf, b...)
	return View{Off: uint32(off), Len: uint32(len(b))}
}

// String resolves a View back into a string. The returned string aliases
// the arena's backing array and must not outlive it.
func (a *Arena) String(v View) string {
	if uint64(v.Off)+uint64(v.Len) > uint64(len(a.buf)) {
		panic(fmt.Sprintf("event: view %+v out of range of arena len %d", v, len(a.buf)))
	}
	return string(a.buf[v.Off : v.Off+v.Len])
}

// Bytes resolves a View into the underlying byte slice (aliased, not copied).
func (a *Arena) Bytes(v View) []byte {
	if uint64(v.Off)+uint64(v.Len) > uint64(len(a.buf)) {
		panic(fmt.Sprintf("event: view %+v out of range of arena len %d", v, len(a.buf)))
	}
	return a.buf[v.Off : v.Off+v.Len]
}

// Seal freezes the arena against further writes. Idempotent.
func (a *Arena) Seal() {
	a.sealed = true
}

// Sealed reports whether the arena has been sealed.
func (a *Arena) Sealed() bool {
	return a.sealed
}

// Len returns the number of bytes currently stored in the arena.
func (a *Arena) Len() int {
	return len(a.buf)
}
