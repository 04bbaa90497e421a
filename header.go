package simple_response

import (
	"io"
	"strings"
)

var crlf = []byte("\r\n")

type headerField struct {
	name  string
	value string
}

// Headers is an ordered list of header fields. Lookups match names
// case-insensitively; fields are written in insertion order with the
// name spelled as it was added.
//
// The zero value is an empty list ready to use. A nil *Headers is
// treated as empty by the read-only methods.
type Headers struct {
	fields []headerField
}

// NewHeaders builds a Headers from name, value pairs. A trailing
// name without a value is ignored.
func NewHeaders(pairs ...string) *Headers {
	h := &Headers{fields: make([]headerField, 0, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return h
}

// Add appends a field, keeping any existing fields with the same name.
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, headerField{name: name, value: value})
}

// Set replaces the value of the first field named name and removes the
// rest. If there is none, the field is appended.
func (h *Headers) Set(name, value string) {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			h.fields[i].value = value
			h.delFrom(i+1, name)
			return
		}
	}
	h.Add(name, value)
}

// Get returns the value of the first field named name, or "".
func (h *Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup reports the value of the first field named name and whether
// it was present.
func (h *Headers) Lookup(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return f.value, true
		}
	}
	return "", false
}

// Del removes every field named name.
func (h *Headers) Del(name string) {
	h.delFrom(0, name)
}

func (h *Headers) delFrom(start int, name string) {
	kept := h.fields[:start]
	for _, f := range h.fields[start:] {
		if !strings.EqualFold(f.name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.fields)
}

// Each calls fn for every field in order.
func (h *Headers) Each(fn func(name, value string)) {
	if h == nil {
		return
	}
	for _, f := range h.fields {
		fn(f.name, f.value)
	}
}

func (h *Headers) Clone() *Headers {
	if h == nil {
		return &Headers{}
	}
	return &Headers{fields: append([]headerField(nil), h.fields...)}
}

// Write writes every field as "Name: value" followed by eol. A nil eol
// means CRLF. The blank line ending a header block is not written.
func (h *Headers) Write(w io.Writer, eol []byte) (int, error) {
	if eol == nil {
		eol = crlf
	}
	var written int
	for _, f := range h.fieldsOrNil() {
		for _, s := range []string{f.name, ": ", f.value} {
			n, err := io.WriteString(w, s)
			written += n
			if err != nil {
				return written, err
			}
		}
		n, err := w.Write(eol)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (h *Headers) fieldsOrNil() []headerField {
	if h == nil {
		return nil
	}
	return h.fields
}

// hasToken reports whether the comma separated value of the field
// named name contains token, compared case-insensitively.
func (h *Headers) hasToken(name, token string) bool {
	if h == nil {
		return false
	}
	for _, f := range h.fields {
		if !strings.EqualFold(f.name, name) {
			continue
		}
		for _, t := range strings.Split(f.value, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}
