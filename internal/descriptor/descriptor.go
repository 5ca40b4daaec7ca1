// Package descriptor reads and writes breakpoint descriptor strings.
//
// A descriptor is a header character followed by space separated typed
// attributes:
//
//	_"main.c" 42 1
//
// Strings are quote delimited. The backend uses a guard character to escape
// special characters inside strings; escapes are not supported by the reader
// and make parsing fail.
package descriptor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vburojevic/dbgbridge/internal/domain"
)

const (
	// StringDelimiter delimits string attributes.
	StringDelimiter = '"'
	// GuardChar escapes special characters inside string attributes.
	GuardChar = '%'
	// Separator separates attributes.
	Separator = ' '
	// Header is the first character of every descriptor.
	Header = '_'
)

// Kind is the type of one descriptor attribute.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindBoolean
)

// String returns the layout letter for the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "s"
	case KindInteger:
		return "i"
	case KindBoolean:
		return "b"
	default:
		return "?"
	}
}

// ParseKind maps a layout letter or name ("s", "int", "bool"...) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "str", "string":
		return KindString, nil
	case "i", "int", "integer":
		return KindInteger, nil
	case "b", "bool", "boolean":
		return KindBoolean, nil
	}
	return 0, fmt.Errorf("unknown attribute kind %q (use s, i or b)", s)
}

// Attr is one typed attribute of a descriptor.
type Attr struct {
	Kind Kind   `json:"kind"`
	Str  string `json:"string,omitempty"`
	Int  int64  `json:"integer,omitempty"`
	Bool bool   `json:"boolean,omitempty"`
}

// String builds a string attribute.
func String(s string) Attr { return Attr{Kind: KindString, Str: s} }

// Integer builds an integer attribute.
func Integer(n int64) Attr { return Attr{Kind: KindInteger, Int: n} }

// Boolean builds a boolean attribute.
func Boolean(b bool) Attr { return Attr{Kind: KindBoolean, Bool: b} }

// Reader parses attributes from a descriptor, front to back.
type Reader struct {
	rest string
}

// NewReader checks the descriptor header and returns a reader positioned at
// the first attribute.
func NewReader(descriptor string) (*Reader, error) {
	if len(descriptor) == 0 || descriptor[0] != Header {
		return nil, fmt.Errorf("no header found in descriptor %q: %w", descriptor, domain.ErrParse)
	}
	return &Reader{rest: descriptor[1:]}, nil
}

// Remaining returns the unread part of the descriptor.
func (r *Reader) Remaining() string {
	return r.rest
}

// ReadString reads a quote delimited string attribute.
func (r *Reader) ReadString() (string, error) {
	r.trimSeparator()

	if len(r.rest) == 0 || r.rest[0] != StringDelimiter {
		return "", fmt.Errorf("next attribute in descriptor is not a string: %w", domain.ErrParse)
	}

	var sb strings.Builder
	for i := 1; i < len(r.rest); i++ {
		switch c := r.rest[i]; c {
		case GuardChar:
			return "", fmt.Errorf("escape characters in descriptor strings are not supported: %w", domain.ErrParse)
		case StringDelimiter:
			r.rest = r.rest[i+1:]
			return sb.String(), nil
		default:
			sb.WriteByte(c)
		}
	}
	return "", fmt.Errorf("unterminated string attribute in descriptor: %w", domain.ErrParse)
}

// ReadInteger reads a decimal integer attribute.
func (r *Reader) ReadInteger() (int64, error) {
	r.trimSeparator()

	token := r.rest
	if i := strings.IndexByte(r.rest, Separator); i >= 0 {
		token = r.rest[:i]
	}
	n, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %q is not an integer: %w", token, domain.ErrParse)
	}
	r.rest = r.rest[len(token):]
	return n, nil
}

// ReadBoolean reads an integer attribute as a boolean (true iff nonzero).
func (r *Reader) ReadBoolean() (bool, error) {
	n, err := r.ReadInteger()
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// Read reads one attribute of the given kind.
func (r *Reader) Read(kind Kind) (Attr, error) {
	switch kind {
	case KindString:
		s, err := r.ReadString()
		return String(s), err
	case KindInteger:
		n, err := r.ReadInteger()
		return Integer(n), err
	case KindBoolean:
		b, err := r.ReadBoolean()
		return Boolean(b), err
	}
	return Attr{}, fmt.Errorf("unknown attribute kind %d: %w", kind, domain.ErrParse)
}

func (r *Reader) trimSeparator() {
	r.rest = strings.TrimLeft(r.rest, string(Separator))
}

// Decode reads attributes following the given positional layout. Parsing
// stops at the first failure.
func Decode(descriptor string, layout ...Kind) ([]Attr, error) {
	r, err := NewReader(descriptor)
	if err != nil {
		return nil, err
	}
	attrs := make([]Attr, 0, len(layout))
	for i, kind := range layout {
		a, err := r.Read(kind)
		if err != nil {
			return nil, fmt.Errorf("attribute %d: %w", i, err)
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

// DecodeAll reads every attribute without a layout. Quoted attributes are
// strings and everything else is an integer, so booleans come back as
// integers.
func DecodeAll(descriptor string) ([]Attr, error) {
	r, err := NewReader(descriptor)
	if err != nil {
		return nil, err
	}
	var attrs []Attr
	for i := 0; ; i++ {
		r.trimSeparator()
		if r.rest == "" {
			return attrs, nil
		}
		kind := KindInteger
		if r.rest[0] == StringDelimiter {
			kind = KindString
		}
		a, err := r.Read(kind)
		if err != nil {
			return nil, fmt.Errorf("attribute %d: %w", i, err)
		}
		attrs = append(attrs, a)
	}
}
