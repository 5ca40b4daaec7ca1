// Package disasm fetches disassembly from the backend and decodes its text
// into client instructions with symbol and source annotations.
package disasm

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/domain"
)

// DefaultInstructionWidth is the assumed size of one instruction in bytes.
const DefaultInstructionWidth = 4

// Disassembler is the backend disassembly service.
type Disassembler interface {
	DisassembleRange(ctx context.Context, from, to backend.Location, ref backend.ContextRef) ([]backend.DisassembledLocation, error)
}

// SourceLookup is the backend source lookup service.
type SourceLookup interface {
	GetSourceRanges(ctx context.Context, loc backend.Location) ([]backend.SourceRange, error)
}

// Request selects a window of instructions around an anchor address.
type Request struct {
	Anchor uint64
	// Count is the number of instructions requested.
	Count int
	// Offset shifts the window start by a number of bytes.
	Offset int64
	// InstructionOffset shifts the window start by a number of instructions.
	InstructionOffset int64
	Zone              int32
	Context           backend.ContextRef
}

// Engine decodes backend disassembly.
type Engine struct {
	disasm  Disassembler
	sources SourceLookup
	width   uint64
	logger  *zap.Logger

	// collapse drops a block's source range when it repeats the previous one.
	collapse bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithInstructionWidth overrides the instruction width used to size windows.
func WithInstructionWidth(bytes int) Option {
	return func(e *Engine) {
		if bytes > 0 {
			e.width = uint64(bytes)
		}
	}
}

// WithCollapsedSources annotates a block only when its source range differs
// from the previous block's, following the DAP rule that a location is
// implied until it changes.
func WithCollapsedSources() Option {
	return func(e *Engine) {
		e.collapse = true
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine. sources may be nil, in which case no line carries
// source information.
func New(d Disassembler, sources SourceLookup, opts ...Option) *Engine {
	e := &Engine{
		disasm:  d,
		sources: sources,
		width:   DefaultInstructionWidth,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Window computes the [start, end) byte range for req. ok is false when the
// window is empty or would leave the 64-bit address space.
func (e *Engine) Window(req Request) (start, end uint64, ok bool) {
	if req.Count <= 0 {
		return 0, 0, false
	}
	start, ok = addSigned(req.Anchor, req.Offset)
	if !ok {
		return 0, 0, false
	}
	if req.InstructionOffset != 0 {
		if abs(req.InstructionOffset) > math.MaxInt64/e.width {
			return 0, 0, false
		}
		start, ok = addSigned(start, req.InstructionOffset*int64(e.width))
		if !ok {
			return 0, 0, false
		}
	}
	if uint64(req.Count) > math.MaxUint64/e.width {
		return 0, 0, false
	}
	span := uint64(req.Count) * e.width
	if start > math.MaxUint64-span {
		return 0, 0, false
	}
	return start, start + span, true
}

// Fetch disassembles the window selected by req. A window outside the
// address space yields no instructions and no backend call.
func (e *Engine) Fetch(ctx context.Context, req Request) ([]dap.DisassembledInstruction, error) {
	start, end, ok := e.Window(req)
	if !ok {
		e.logger.Debug("empty disassembly window",
			zap.Uint64("anchor", req.Anchor),
			zap.Int("count", req.Count),
			zap.Int64("offset", req.Offset),
			zap.Int64("instruction_offset", req.InstructionOffset),
		)
		return []dap.DisassembledInstruction{}, nil
	}

	blocks, err := e.Range(ctx,
		backend.Location{Zone: req.Zone, Address: start},
		backend.Location{Zone: req.Zone, Address: end},
		req.Context,
	)
	if err != nil {
		return nil, err
	}
	return e.Decode(ctx, blocks), nil
}

// Range returns the raw backend blocks for [from, to].
func (e *Engine) Range(ctx context.Context, from, to backend.Location, ref backend.ContextRef) ([]backend.DisassembledLocation, error) {
	return e.disasm.DisassembleRange(ctx, from, to, ref)
}

// Decode classifies every line of blocks. The first line of each block is
// annotated with the block's source range. With WithCollapsedSources a range
// equal to the previous block's is left off.
func (e *Engine) Decode(ctx context.Context, blocks []backend.DisassembledLocation) []dap.DisassembledInstruction {
	out := make([]dap.DisassembledInstruction, 0, len(blocks))
	var prev *backend.SourceRange

	for _, blk := range blocks {
		address := FormatAddress(blk.Location.Address)
		lines := lo.FlatMap(blk.Instructions, func(s string, _ int) []string {
			return strings.Split(s, "\n")
		})

		first := true
		for _, raw := range lines {
			ins, keep := Classify(raw)
			if !keep {
				continue
			}
			ins.Address = address

			if first {
				first = false
				r, found := e.lookupSource(ctx, blk.Location)
				switch {
				case !found:
					prev = nil
				case !e.collapse || prev == nil || !sameRange(*prev, r):
					annotate(&ins, r)
					prev = &r
				}
			}
			out = append(out, ins)
		}
	}
	return out
}

func (e *Engine) lookupSource(ctx context.Context, loc backend.Location) (backend.SourceRange, bool) {
	if e.sources == nil {
		return backend.SourceRange{}, false
	}
	ranges, err := e.sources.GetSourceRanges(ctx, loc)
	if err != nil {
		e.logger.Debug("source lookup failed", zap.Uint64("address", loc.Address), zap.Error(err))
		return backend.SourceRange{}, false
	}
	if len(ranges) == 0 || ranges[0].Filename == "" {
		return backend.SourceRange{}, false
	}
	return ranges[0], true
}

func annotate(ins *dap.DisassembledInstruction, r backend.SourceRange) {
	ins.Location = dap.Source{Name: Basename(r.Filename), Path: r.Filename}
	ins.Line = r.First.Line
	ins.Column = r.First.Col
	ins.EndLine = r.Last.Line
	ins.EndColumn = r.Last.Col
}

func sameRange(a, b backend.SourceRange) bool {
	return a.Filename == b.Filename && a.First == b.First && a.Last == b.Last
}

// Basename returns the last element of a path using either separator.
func Basename(path string) string {
	return path[strings.LastIndexAny(path, `/\`)+1:]
}

// FormatAddress renders an address the way instructions carry it.
func FormatAddress(addr uint64) string {
	return fmt.Sprintf("0x%016x", addr)
}

// ParseAddress parses a hex address with optional 0x prefix and digit
// group separators (0x2000'0000).
func ParseAddress(s string) (uint64, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), "'", "")
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if clean == "" {
		return 0, fmt.Errorf("empty address %q: %w", s, domain.ErrParse)
	}
	v, err := strconv.ParseUint(clean, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, domain.ErrParse)
	}
	return v, nil
}

func addSigned(base uint64, delta int64) (uint64, bool) {
	if delta >= 0 {
		d := uint64(delta)
		if base > math.MaxUint64-d {
			return 0, false
		}
		return base + d, true
	}
	d := uint64(-(delta + 1)) + 1
	if d > base {
		return 0, false
	}
	return base - d, true
}

func abs(n int64) uint64 {
	if n < 0 {
		return uint64(-(n + 1)) + 1
	}
	return uint64(n)
}
