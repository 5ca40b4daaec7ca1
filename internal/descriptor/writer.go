package descriptor

import (
	"fmt"
	"strconv"
	"strings"
)

// Writer builds a descriptor string attribute by attribute.
type Writer struct {
	sb strings.Builder
}

// NewWriter returns a writer with the header already written.
func NewWriter() *Writer {
	w := &Writer{}
	w.sb.WriteByte(Header)
	return w
}

// WriteString appends a string attribute. The delimiter and guard characters
// are written as guard escapes (%XX), which Reader refuses to parse.
func (w *Writer) WriteString(s string) {
	w.separate()
	w.sb.WriteByte(StringDelimiter)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == StringDelimiter || c == GuardChar {
			fmt.Fprintf(&w.sb, "%c%02X", GuardChar, c)
			continue
		}
		w.sb.WriteByte(c)
	}
	w.sb.WriteByte(StringDelimiter)
}

// WriteInteger appends a decimal integer attribute.
func (w *Writer) WriteInteger(n int64) {
	w.separate()
	w.sb.WriteString(strconv.FormatInt(n, 10))
}

// WriteBoolean appends a boolean attribute as 1 or 0.
func (w *Writer) WriteBoolean(b bool) {
	if b {
		w.WriteInteger(1)
	} else {
		w.WriteInteger(0)
	}
}

// Write appends one attribute.
func (w *Writer) Write(a Attr) {
	switch a.Kind {
	case KindString:
		w.WriteString(a.Str)
	case KindInteger:
		w.WriteInteger(a.Int)
	case KindBoolean:
		w.WriteBoolean(a.Bool)
	}
}

// String returns the descriptor built so far.
func (w *Writer) String() string {
	return w.sb.String()
}

func (w *Writer) separate() {
	if w.sb.Len() > 1 {
		w.sb.WriteByte(Separator)
	}
}

// Encode builds a descriptor from attributes.
func Encode(attrs ...Attr) string {
	w := NewWriter()
	for _, a := range attrs {
		w.Write(a)
	}
	return w.String()
}

// Layout returns the kinds of attrs, usable as the layout for Decode.
func Layout(attrs []Attr) []Kind {
	kinds := make([]Kind, len(attrs))
	for i, a := range attrs {
		kinds[i] = a.Kind
	}
	return kinds
}
