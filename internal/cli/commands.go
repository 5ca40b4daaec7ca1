package cli

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/go-dap"
	"github.com/samber/lo"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/bridge"
	"github.com/vburojevic/dbgbridge/internal/debugctx"
	"github.com/vburojevic/dbgbridge/internal/disasm"
	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/filter"
	"github.com/vburojevic/dbgbridge/internal/output"
)

// StackCmd prints the call stack
type StackCmd struct{}

// Run executes the stack command
func (c *StackCmd) Run(globals *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()
	return c.run(ctx, globals)
}

func (c *StackCmd) run(ctx context.Context, globals *Globals) error {
	return withSession(ctx, globals, func(ctx context.Context, s *bridge.Session, w output.Writer) error {
		frames, err := s.Debug().FetchStack(ctx)
		if err != nil {
			return err
		}
		return w.WriteFrames(frames)
	})
}

// VarsCmd lists the variables of one scope, optionally descending into
// structured variables by name
type VarsCmd struct {
	Frame   int      `short:"n" default:"0" help:"Frame index (0 is the innermost frame)"`
	Scope   string   `short:"s" default:"Local" help:"Scope name (Local, Static, Registers)"`
	Scopes  bool     `help:"List the frame's scopes instead of variables"`
	Path    []string `arg:"" optional:"" help:"Variable names to expand, outermost first"`
	Pattern string   `short:"p" help:"Regex on variable names to keep"`
	Exclude []string `short:"x" help:"Regex on variable names to drop (can be repeated)"`
	Where   []string `short:"w" help:"Field filter such as type=int or value>=10 (can be repeated)"`
}

// Run executes the vars command
func (c *VarsCmd) Run(globals *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()
	return c.run(ctx, globals)
}

func (c *VarsCmd) run(ctx context.Context, globals *Globals) error {
	pipeline, err := c.pipeline()
	if err != nil {
		return outputErrorCommon(globals, "INVALID_FILTER", err.Error())
	}

	return withSession(ctx, globals, func(ctx context.Context, s *bridge.Session, w output.Writer) error {
		if err := loadFrames(ctx, s); err != nil {
			return err
		}
		scopes, err := s.Debug().FetchScopes(ctx, c.Frame)
		if err != nil {
			return err
		}
		if c.Scopes {
			return w.WriteScopes(c.Frame, scopes)
		}

		scope, err := findScope(scopes, c.Scope)
		if err != nil {
			return err
		}
		ref := scope.VariablesReference
		vars, err := s.Debug().FetchVariables(ctx, ref)
		if err != nil {
			return err
		}
		for _, name := range c.Path {
			v, ok := lo.Find(vars, func(v dap.Variable) bool { return v.Name == name })
			if !ok || v.VariablesReference == 0 {
				return fmt.Errorf("variable %q has no children: %w", name, domain.ErrOutOfRange)
			}
			ref = v.VariablesReference
			if vars, err = s.Debug().FetchVariables(ctx, ref); err != nil {
				return err
			}
		}
		return w.WriteVariables(ref, pipeline.Apply(vars))
	})
}

func (c *VarsCmd) pipeline() (*filter.Pipeline, error) {
	var pattern *regexp.Regexp
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		pattern = re
	}
	excludes := make([]*regexp.Regexp, 0, len(c.Exclude))
	for _, x := range c.Exclude {
		re, err := regexp.Compile(x)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}
		excludes = append(excludes, re)
	}
	where, err := filter.NewWhereFilter(c.Where)
	if err != nil {
		return nil, err
	}
	return filter.NewPipeline(pattern, excludes, where), nil
}

// loadFrames fetches the stack so frame indexes resolve in a fresh session.
func loadFrames(ctx context.Context, s *bridge.Session) error {
	_, err := s.Debug().FetchStack(ctx)
	return err
}

func findScope(scopes []debugctx.Scope, name string) (debugctx.Scope, error) {
	scope, ok := lo.Find(scopes, func(s debugctx.Scope) bool { return strings.EqualFold(s.Name, name) })
	if !ok {
		names := lo.Map(scopes, func(s debugctx.Scope, _ int) string { return s.Name })
		return debugctx.Scope{}, fmt.Errorf("scope %q not one of %s: %w", name, strings.Join(names, ", "), domain.ErrOutOfRange)
	}
	if !scope.Available {
		return debugctx.Scope{}, fmt.Errorf("scope %s: %w", scope.Name, domain.ErrBackendUnavailable)
	}
	return scope, nil
}

// EvalCmd evaluates an expression
type EvalCmd struct {
	Expression string `arg:"" help:"Expression to evaluate"`
	Frame      int    `short:"n" default:"0" help:"Frame index"`
}

// Run executes the eval command
func (c *EvalCmd) Run(globals *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()
	return c.run(ctx, globals)
}

func (c *EvalCmd) run(ctx context.Context, globals *Globals) error {
	return withSession(ctx, globals, func(ctx context.Context, s *bridge.Session, w output.Writer) error {
		if err := loadFrames(ctx, s); err != nil {
			return err
		}
		res, err := s.Debug().EvalExpression(ctx, c.Frame, c.Expression)
		if err != nil {
			return err
		}
		return w.WriteEval(c.Expression, res)
	})
}

// SetCmd assigns a variable
type SetCmd struct {
	Name  string `arg:"" help:"Variable name"`
	Value string `arg:"" help:"New value"`
	Frame int    `short:"n" default:"0" help:"Frame index"`
	Scope string `short:"s" default:"Local" help:"Scope holding the variable"`
}

// Run executes the set command
func (c *SetCmd) Run(globals *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()
	return c.run(ctx, globals)
}

func (c *SetCmd) run(ctx context.Context, globals *Globals) error {
	return withSession(ctx, globals, func(ctx context.Context, s *bridge.Session, w output.Writer) error {
		if err := loadFrames(ctx, s); err != nil {
			return err
		}
		scopes, err := s.Debug().FetchScopes(ctx, c.Frame)
		if err != nil {
			return err
		}
		scope, err := findScope(scopes, c.Scope)
		if err != nil {
			return err
		}
		value, err := s.Debug().SetVariable(ctx, scope.VariablesReference, c.Name, c.Value)
		if err != nil {
			return err
		}
		return w.WriteAssigned(c.Name, value)
	})
}

// DisasmCmd disassembles memory
type DisasmCmd struct {
	Address           string `arg:"" optional:"" help:"Anchor address (hex); default is the current location"`
	Count             int    `short:"c" default:"${config_disasm_count}" help:"Instructions to decode from the anchor"`
	Offset            int64  `help:"Byte offset applied to the anchor"`
	InstructionOffset int64  `short:"i" help:"Instruction offset applied to the anchor"`
	Zone              int32  `help:"Memory zone"`
}

// Run executes the disasm command
func (c *DisasmCmd) Run(globals *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()
	return c.run(ctx, globals)
}

func (c *DisasmCmd) run(ctx context.Context, globals *Globals) error {
	var anchor uint64
	if c.Address != "" {
		addr, err := disasm.ParseAddress(c.Address)
		if err != nil {
			return outputError(globals, err)
		}
		anchor = addr
	}

	return withSession(ctx, globals, func(ctx context.Context, s *bridge.Session, w output.Writer) error {
		if c.Address == "" {
			block, err := s.Debug().FetchDisassembly(ctx)
			if err != nil {
				return err
			}
			return w.WriteDisassembly(block)
		}
		instrs, err := s.Disassemble(ctx, disasm.Request{
			Anchor:            anchor,
			Count:             c.Count,
			Offset:            c.Offset,
			InstructionOffset: c.InstructionOffset,
			Zone:              c.Zone,
			Context:           backend.CurrentInspection(),
		})
		if err != nil {
			return err
		}
		return w.WriteInstructions(instrs)
	})
}
