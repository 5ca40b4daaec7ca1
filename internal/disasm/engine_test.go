package disasm

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/domain"
)

// fakeDisassembler returns one block per 4 bytes of the requested range,
// each holding the same instruction text.
type fakeDisassembler struct {
	instruction string
	calls       int
}

func (f *fakeDisassembler) DisassembleRange(_ context.Context, from, to backend.Location, _ backend.ContextRef) ([]backend.DisassembledLocation, error) {
	f.calls++
	if from.Address > to.Address {
		return nil, errors.New("inverted range")
	}
	var blocks []backend.DisassembledLocation
	for addr := from.Address; addr < to.Address; addr += 4 {
		blocks = append(blocks, backend.DisassembledLocation{
			Location:     backend.Location{Zone: from.Zone, Address: addr},
			Instructions: []string{f.instruction},
		})
		if addr > math.MaxUint64-4 {
			break
		}
	}
	return blocks, nil
}

type fakeSources struct {
	ranges map[uint64][]backend.SourceRange
	all    *backend.SourceRange
	err    error
}

func (f *fakeSources) GetSourceRanges(_ context.Context, loc backend.Location) ([]backend.SourceRange, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.all != nil {
		return []backend.SourceRange{*f.all}, nil
	}
	return f.ranges[loc.Address], nil
}

const maxAddress = math.MaxUint64

func TestWindowBounds(t *testing.T) {
	d := &fakeDisassembler{instruction: "0xffffffffffffffff: 0xffffffffffffffff: BL main"}
	e := New(d, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   Request
		lines int
	}{
		{"instruction offset underflows", Request{Anchor: 0, Count: 50, InstructionOffset: -50}, 0},
		{"partial underflow is still empty", Request{Anchor: 0, Count: 50, InstructionOffset: -25}, 0},
		{"end overflows", Request{Anchor: maxAddress, Count: 50}, 0},
		{"start overflows by instructions", Request{Anchor: maxAddress, Count: 50, InstructionOffset: 10}, 0},
		{"start overflows by bytes", Request{Anchor: maxAddress, Count: 50, Offset: 8}, 0},
		{"byte offset underflows", Request{Anchor: 4, Count: 1, Offset: -8}, 0},
		{"zero count", Request{Anchor: 0x100, Count: 0}, 0},
		{"negative count", Request{Anchor: 0x100, Count: -3}, 0},
		{"huge instruction offset", Request{Anchor: 0x100, Count: 1, InstructionOffset: math.MinInt64}, 0},
		{"in range", Request{Anchor: 0x100, Count: 8}, 8},
		{"backwards within range", Request{Anchor: 0x100, Count: 8, InstructionOffset: -4}, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := d.calls
			lines, err := e.Fetch(ctx, tt.req)
			require.NoError(t, err)
			require.NotNil(t, lines)
			assert.Len(t, lines, tt.lines)
			if tt.lines == 0 {
				assert.Equal(t, before, d.calls, "empty windows must not reach the backend")
			}
		})
	}
}

func TestWindow(t *testing.T) {
	e := New(&fakeDisassembler{}, nil)

	start, end, ok := e.Window(Request{Anchor: 0x100, Count: 2, Offset: 8, InstructionOffset: -1})
	require.True(t, ok)
	assert.EqualValues(t, 0x104, start)
	assert.EqualValues(t, 0x10c, end)

	wide := New(&fakeDisassembler{}, nil, WithInstructionWidth(2))
	start, end, ok = wide.Window(Request{Anchor: 0x100, Count: 3, InstructionOffset: -2})
	require.True(t, ok)
	assert.EqualValues(t, 0xfc, start)
	assert.EqualValues(t, 0x102, end)
}

func TestLabels(t *testing.T) {
	d := &fakeDisassembler{instruction: "Abort_Handler:\n" +
		"Prefetch_Handler:\n" +
		"SWI_Handler... +2 symbols not displayed:\n" +
		"0xbeef: 0xeaff 0xfffe     B         Abort_Handler           ; 0x184 ()"}
	e := New(d, &fakeSources{})

	lines, err := e.Fetch(context.Background(), Request{Anchor: 0xbeef, Count: 1})
	require.NoError(t, err)
	require.Len(t, lines, 4)

	address := "0x000000000000beef"
	assert.Equal(t, dap.DisassembledInstruction{Address: address, Instruction: "\t\tAbort_Handler:", Symbol: "Abort_Handler"}, lines[0])
	assert.Equal(t, dap.DisassembledInstruction{Address: address, Instruction: "\t\tPrefetch_Handler:", Symbol: "Prefetch_Handler"}, lines[1])
	assert.Equal(t, dap.DisassembledInstruction{
		Address:     address,
		Instruction: "\t\tSWI_Handler... +2 symbols not displayed:",
		Symbol:      "SWI_Handler... +2 symbols not displayed",
	}, lines[2])
	assert.Equal(t, dap.DisassembledInstruction{
		Address:          address,
		Instruction:      "B         Abort_Handler           ; 0x184 ()",
		InstructionBytes: "0xeaff 0xfffe",
	}, lines[3])

	for _, l := range lines[:3] {
		assert.Empty(t, l.InstructionBytes)
	}
}

func TestHighAddresses(t *testing.T) {
	d := &fakeDisassembler{instruction: "0xdead'beef: 0xeafffffe     B         Abort_Handler           ; 0x184 ()"}
	e := New(d, nil)

	lines, err := e.Fetch(context.Background(), Request{Anchor: maxAddress, Count: 1, InstructionOffset: -1})
	require.NoError(t, err)
	assert.Equal(t, []dap.DisassembledInstruction{{
		Address:          "0xfffffffffffffffb",
		Instruction:      "B         Abort_Handler           ; 0x184 ()",
		InstructionBytes: "0xeafffffe",
	}}, lines)
}

func TestInvalidAddressIsDropped(t *testing.T) {
	e := New(&fakeDisassembler{instruction: "        0xANINVALIDADDRESS: ----           ---"}, nil)

	lines, err := e.Fetch(context.Background(), Request{Anchor: 0xbeef, Count: 1})
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestUnmatchedLinePassesThrough(t *testing.T) {
	e := New(&fakeDisassembler{instruction: "!!!A REALLY WEIRD ASM LINE!!!"}, nil)

	lines, err := e.Fetch(context.Background(), Request{Anchor: 0xbeef, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []dap.DisassembledInstruction{{
		Address:     "0x000000000000beef",
		Instruction: "!!!A REALLY WEIRD ASM LINE!!!",
	}}, lines)
}

func TestSourceOnFirstLineOnly(t *testing.T) {
	for _, filename := range []string{"/test/myfile.c", `C:\myfile.c`} {
		t.Run(filename, func(t *testing.T) {
			r := backend.SourceRange{
				Filename: filename,
				First:    backend.SourceLocation{Filename: filename, Line: 15, Col: 0},
				Last:     backend.SourceLocation{Filename: filename, Line: 16, Col: 10},
			}
			d := &fakeDisassembler{instruction: "Abort_Handler:\n" +
				"0xbeef: 0xeafffffe     B         Abort_Handler           ; 0x184 ()"}
			e := New(d, &fakeSources{all: &r})

			lines, err := e.Fetch(context.Background(), Request{Anchor: 0xbeef, Count: 10})
			require.NoError(t, err)
			require.Len(t, lines, 20)

			assert.Equal(t, dap.DisassembledInstruction{
				Address:     "0x000000000000beef",
				Instruction: "\t\tAbort_Handler:",
				Symbol:      "Abort_Handler",
				Location:    dap.Source{Name: "myfile.c", Path: filename},
				Line:        15,
				Column:      0,
				EndLine:     16,
				EndColumn:   10,
			}, lines[0])

			for i, l := range lines {
				if i%2 == 0 {
					assert.Equal(t, 15, l.Line, "first line of block %d", i/2)
					continue
				}
				assertNoSource(t, l)
			}

			collapsed := New(d, &fakeSources{all: &r}, WithCollapsedSources())
			lines, err = collapsed.Fetch(context.Background(), Request{Anchor: 0xbeef, Count: 10})
			require.NoError(t, err)
			require.Len(t, lines, 20)
			assert.Equal(t, 15, lines[0].Line)
			for _, l := range lines[1:] {
				assertNoSource(t, l)
			}
		})
	}
}

func assertNoSource(t *testing.T, l dap.DisassembledInstruction) {
	t.Helper()
	assert.Equal(t, dap.Source{}, l.Location)
	assert.Zero(t, l.Line)
	assert.Zero(t, l.EndLine)
	assert.Zero(t, l.Column)
	assert.Zero(t, l.EndColumn)
}

func TestSourcePerBlock(t *testing.T) {
	rangeAt := func(line int) []backend.SourceRange {
		return []backend.SourceRange{{
			Filename: "/src/main.c",
			First:    backend.SourceLocation{Line: line, Col: 1},
			Last:     backend.SourceLocation{Line: line, Col: 20},
		}}
	}
	sources := &fakeSources{ranges: map[uint64][]backend.SourceRange{
		0x100: rangeAt(10),
		0x104: rangeAt(10),
		0x108: rangeAt(11),
		0x110: rangeAt(11),
	}}
	d := &fakeDisassembler{instruction: "0x100: 0x4770     BX LR\n0x102: 0xbf00     NOP"}

	tests := []struct {
		name string
		opts []Option
		// want is the source line of each output line.
		want []int
	}{
		{"every block", nil, []int{10, 0, 10, 0, 11, 0, 0, 0, 11, 0}},
		{"collapsed", []Option{WithCollapsedSources()}, []int{10, 0, 0, 0, 11, 0, 0, 0, 11, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(d, sources, tt.opts...)
			lines, err := e.Fetch(context.Background(), Request{Anchor: 0x100, Count: 5})
			require.NoError(t, err)

			got := lo.Map(lines, func(l dap.DisassembledInstruction, _ int) int { return l.Line })
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSourceLookupFailureDegrades(t *testing.T) {
	d := &fakeDisassembler{instruction: "0xbeef: 0xeafffffe     B         Abort_Handler"}
	e := New(d, &fakeSources{err: errors.New("lookup service gone")})

	lines, err := e.Fetch(context.Background(), Request{Anchor: 0xbeef, Count: 2})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Zero(t, lines[0].Line)
}

func TestBackendErrorIsReturned(t *testing.T) {
	e := New(&fakeDisassembler{}, nil)
	// The fake rejects inverted ranges; Range passes them through unchecked.
	_, err := e.Range(context.Background(), backend.Location{Address: 8}, backend.Location{Address: 4}, backend.CurrentInspection())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line  string
		kind  LineKind
		keep  bool
		bytes string
	}{
		{"main:", LineLabel, true, ""},
		{"  loop_start:  ", LineLabel, true, ""},
		{"0x0800'0100: 0x4800           LDR.N     R0, [PC, #0x0]", LineStructured, true, "0x4800"},
		{"0xZZ: 0x00  NOP", LineStructured, false, ""},
		{"        ", LineRaw, false, ""},
		{"; comment: with colon inside", LineRaw, true, ""},
		{"  LDR R0, [PC, #4] ; note:", LineRaw, true, ""},
		{"; section:", LineRaw, true, ""},
		{"SWI_Handler... +2 symbols not displayed:", LineLabel, true, ""},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.line), func(t *testing.T) {
			ins, kind, keep := classify(tt.line)
			assert.Equal(t, tt.keep, keep)
			if keep {
				assert.Equal(t, tt.kind, kind)
				assert.Equal(t, tt.bytes, ins.InstructionBytes)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
	}{
		{"0xbeef", 0xbeef},
		{"0X10", 0x10},
		{"2000'0000", 0x20000000},
		{"0xffffffffffffffff", math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParseAddress(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}

	for _, bad := range []string{"", "0x", "0xANINVALID", "0x1ffffffffffffffff"} {
		_, err := ParseAddress(bad)
		assert.ErrorIs(t, err, domain.ErrParse, bad)
	}
}

func TestFormatAddressAndBasename(t *testing.T) {
	assert.Equal(t, "0x000000000000beef", FormatAddress(0xbeef))
	assert.Equal(t, "main.c", Basename("/a/b/main.c"))
	assert.Equal(t, "main.c", Basename(`C:\proj\main.c`))
	assert.Equal(t, "main.c", Basename("main.c"))
}
