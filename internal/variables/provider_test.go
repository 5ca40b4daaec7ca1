package variables

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/domain"
)

type stubWindow struct {
	rows     []backend.ListWindowRow
	children map[int][]backend.ListWindowRow
	err      error
}

func (w *stubWindow) Name() string { return "stub" }

func (w *stubWindow) Rows(context.Context) ([]backend.ListWindowRow, error) {
	return w.rows, w.err
}

func (w *stubWindow) Children(_ context.Context, ref int) ([]backend.ListWindowRow, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.children[ref], nil
}

func row(sub int, values ...string) backend.ListWindowRow {
	return backend.ListWindowRow{Values: values, SubRef: sub}
}

func TestConverters(t *testing.T) {
	tests := []struct {
		name     string
		convert  RowConverter
		row      backend.ListWindowRow
		expected dap.Variable
	}{
		{
			name:     "local",
			convert:  Locals,
			row:      row(0, "fib", "42", "0x2000'0010", "uint32_t volatile"),
			expected: dap.Variable{Name: "fib", Value: "42", Type: "uint32_t volatile @ 0x2000'0010"},
		},
		{
			name:     "local without location",
			convert:  Locals,
			row:      row(0, "i", "3", "", "int"),
			expected: dap.Variable{Name: "i", Value: "3", Type: "int @ "},
		},
		{
			name:     "static drops module suffix",
			convert:  Statics,
			row:      row(0, "str <Fibonacci\\str>", `"hello"`, "0x100", "char const *"),
			expected: dap.Variable{Name: "str", Value: `"hello"`, Type: "char const * @ 0x100"},
		},
		{
			name:     "register",
			convert:  Registers,
			row:      row(0, "R0", "0x0000002A", "uint32_t"),
			expected: dap.Variable{Name: "R0", Value: "0x0000002A", Type: "uint32_t"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.convert(tt.row)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestConvertersRejectIncompleteRows(t *testing.T) {
	tests := []struct {
		name    string
		convert RowConverter
		row     backend.ListWindowRow
	}{
		{"local without type", Locals, row(0, "fib", "1", "0x10")},
		{"local without value", Locals, row(0, "fib", "", "0x10", "int")},
		{"static without name", Statics, row(0, "", "1", "0x10", "int")},
		{"register without type", Registers, row(0, "R0", "1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.convert(tt.row)
			assert.ErrorIs(t, err, domain.ErrParse)
		})
	}
}

func TestListWindowProvider(t *testing.T) {
	w := &stubWindow{
		rows: []backend.ListWindowRow{
			row(0, "i", "1", "0x10", "int"),
			row(7, "arr", "<array>", "0x20", "int[2]"),
			row(0, "broken"),
		},
		children: map[int][]backend.ListWindowRow{
			7: {row(0, "[0]", "5", "0x20", "int"), row(0, "[1]", "6", "0x24", "int")},
		},
	}
	p := NewListWindowProvider(w, Locals, nil)
	ctx := context.Background()

	vars, err := p.Variables(ctx)
	require.NoError(t, err)
	require.Len(t, vars, 2)
	assert.Equal(t, 0, vars[0].VariablesReference)
	assert.Equal(t, 7, vars[1].VariablesReference)

	sub, err := p.Subvariables(ctx, 7)
	require.NoError(t, err)
	require.Len(t, sub, 2)
	assert.Equal(t, "[1]", sub[1].Name)
	assert.Equal(t, "stub", p.Name())
}

func TestListWindowProviderPropagatesErrors(t *testing.T) {
	boom := errors.New("window closed")
	p := NewListWindowProvider(&stubWindow{err: boom}, Registers, nil)

	_, err := p.Variables(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = p.Subvariables(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
}
