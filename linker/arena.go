package linker

import "sync"

// String is a handle to an interned string. The zero handle is the empty string.
type String uint32

// Span is a byte range inside the arena.
type Span struct {
	Off uint32
	Len uint32
}

// End returns the offset one past the last byte.
func (s Span) End() uint32 { return s.Off + s.Len }

// Arena is the shared append-only byte store. It holds interned strings and
// payload bytes for function bodies, data segments and custom sections.
//
// Appends are serialized by one mutex. Callers encode their bytes privately
// and only hold the lock for the copy, so concurrent producers never observe
// or interleave partial writes.
type Arena struct {
	mu      sync.Mutex
	data    []byte
	strings []Span
	index   map[string]String
}

// NewArena creates an arena whose handle 0 is the empty string.
func NewArena() *Arena {
	return &Arena{
		strings: []Span{{}},
		index:   map[string]String{"": 0},
	}
}

// Intern returns the handle for s, adding it on first use.
func (a *Arena) Intern(s string) String {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h, ok := a.index[s]; ok {
		return h
	}
	sp := a.appendLocked([]byte(s))
	h := String(len(a.strings))
	a.strings = append(a.strings, sp)
	a.index[s] = h
	return h
}

// Lookup returns the handle for s without interning it.
func (a *Arena) Lookup(s string) (String, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.index[s]
	return h, ok
}

// Str returns the contents of an interned string.
func (a *Arena) Str(h String) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(h) >= len(a.strings) {
		return ""
	}
	sp := a.strings[h]
	return string(a.data[sp.Off:sp.End()])
}

// NumStrings returns the number of distinct interned strings, including "".
func (a *Arena) NumStrings() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.strings)
}

// Append copies b into the arena and returns its span.
func (a *Arena) Append(b []byte) Span {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appendLocked(b)
}

func (a *Arena) appendLocked(b []byte) Span {
	sp := Span{Off: uint32(len(a.data)), Len: uint32(len(b))}
	a.data = append(a.data, b...)
	return sp
}

// Bytes returns the bytes of sp. The result must not be modified; bytes
// already appended are never moved or rewritten in place.
func (a *Arena) Bytes(sp Span) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data[sp.Off:sp.End():sp.End()]
}

// Len returns the number of bytes held.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}
