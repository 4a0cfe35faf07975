package models

import "sort"

// Header is a single name/value pair taken off a transport message.
type Header struct {
	Name  string
	Value string
}

// Headers is the ordered, case-sensitive header set of a received message.
// It is read-only after construction; all accessors return copies.
type Headers struct {
	pairs []Header
	index map[string]int
}

// NewHeaders builds a header set preserving the given order. When a name
// appears more than once the last value wins but the first position is kept.
func NewHeaders(pairs ...Header) Headers {
	h := Headers{
		pairs: make([]Header, 0, len(pairs)),
		index: make(map[string]int, len(pairs)),
	}
	for _, p := range pairs {
		if i, ok := h.index[p.Name]; ok {
			h.pairs[i].Value = p.Value
			continue
		}
		h.index[p.Name] = len(h.pairs)
		h.pairs = append(h.pairs, p)
	}
	return h
}

// HeadersFromMap builds a header set from a map. Go maps carry no order, so
// names are sorted to keep the result stable.
func HeadersFromMap(m map[string]string) Headers {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]Header, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, Header{Name: k, Value: m[k]})
	}
	return NewHeaders(pairs...)
}

// Lookup returns the value for name and whether it was present.
func (h Headers) Lookup(name string) (string, bool) {
	i, ok := h.index[name]
	if !ok {
		return "", false
	}
	return h.pairs[i].Value, true
}

// Get returns the value for name, or "" when absent.
func (h Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Has reports whether name is present, even with an empty value.
func (h Headers) Has(name string) bool {
	_, ok := h.index[name]
	return ok
}

// Len returns the number of distinct header names.
func (h Headers) Len() int { return len(h.pairs) }

// Pairs returns a copy of the headers in receive order.
func (h Headers) Pairs() []Header {
	out := make([]Header, len(h.pairs))
	copy(out, h.pairs)
	return out
}

// Map returns a copy of the headers as a map.
func (h Headers) Map() map[string]string {
	out := make(map[string]string, len(h.pairs))
	for _, p := range h.pairs {
		out[p.Name] = p.Value
	}
	return out
}
