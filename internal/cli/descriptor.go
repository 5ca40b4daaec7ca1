package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vburojevic/dbgbridge/internal/descriptor"
	"github.com/vburojevic/dbgbridge/internal/domain"
)

// DescriptorCmd groups the descriptor codec commands
type DescriptorCmd struct {
	Decode DescriptorDecodeCmd `cmd:"" help:"Decode a descriptor into typed attributes"`
	Encode DescriptorEncodeCmd `cmd:"" help:"Encode kind:value attributes into a descriptor"`
}

// DescriptorDecodeCmd decodes a descriptor string
type DescriptorDecodeCmd struct {
	Descriptor string `arg:"" help:"Descriptor string, e.g. '_\"main.c\" 12 1'"`
	Layout     string `short:"l" help:"Attribute kinds in order, e.g. sib (default: infer strings and integers)"`
}

// Run executes the decode command
func (c *DescriptorDecodeCmd) Run(globals *Globals) error {
	var (
		attrs []descriptor.Attr
		err   error
	)
	if c.Layout == "" {
		attrs, err = descriptor.DecodeAll(c.Descriptor)
	} else {
		var layout []descriptor.Kind
		layout, err = parseLayout(c.Layout)
		if err == nil {
			attrs, err = descriptor.Decode(c.Descriptor, layout...)
		}
	}
	if err != nil {
		return outputError(globals, err)
	}
	return newWriter(globals).WriteDescriptor(c.Descriptor, attrs)
}

func parseLayout(layout string) ([]descriptor.Kind, error) {
	kinds := make([]descriptor.Kind, 0, len(layout))
	for _, r := range layout {
		k, err := descriptor.ParseKind(string(r))
		if err != nil {
			return nil, fmt.Errorf("layout %q: %v: %w", layout, err, domain.ErrParse)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// DescriptorEncodeCmd builds a descriptor from attributes
type DescriptorEncodeCmd struct {
	Attrs []string `arg:"" help:"Attributes as kind:value, e.g. s:main.c i:12 b:true"`
}

// Run executes the encode command
func (c *DescriptorEncodeCmd) Run(globals *Globals) error {
	attrs := make([]descriptor.Attr, 0, len(c.Attrs))
	for _, raw := range c.Attrs {
		a, err := parseAttr(raw)
		if err != nil {
			return outputError(globals, err)
		}
		attrs = append(attrs, a)
	}
	return newWriter(globals).WriteDescriptor(descriptor.Encode(attrs...), attrs)
}

func parseAttr(raw string) (descriptor.Attr, error) {
	kindText, value, ok := strings.Cut(raw, ":")
	if !ok {
		return descriptor.Attr{}, fmt.Errorf("attribute %q is not kind:value: %w", raw, domain.ErrParse)
	}
	kind, err := descriptor.ParseKind(kindText)
	if err != nil {
		return descriptor.Attr{}, fmt.Errorf("%v: %w", err, domain.ErrParse)
	}
	switch kind {
	case descriptor.KindInteger:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return descriptor.Attr{}, fmt.Errorf("attribute %q: %q is not an integer: %w", raw, value, domain.ErrParse)
		}
		return descriptor.Integer(n), nil
	case descriptor.KindBoolean:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return descriptor.Attr{}, fmt.Errorf("attribute %q: %q is not a boolean: %w", raw, value, domain.ErrParse)
		}
		return descriptor.Boolean(b), nil
	}
	return descriptor.String(value), nil
}
