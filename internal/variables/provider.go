// Package variables turns backend list windows into client variables.
package variables

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-dap"
	"go.uber.org/zap"

	"github.com/vburojevic/dbgbridge/internal/backend"
	"github.com/vburojevic/dbgbridge/internal/domain"
	"github.com/vburojevic/dbgbridge/internal/rpc"
)

// Provider supplies the variables of one scope. VariablesReference values in
// its results are local to the provider.
type Provider interface {
	Name() string
	Variables(ctx context.Context) ([]dap.Variable, error)
	Subvariables(ctx context.Context, ref int) ([]dap.Variable, error)
}

// Window is the row source behind a ListWindowProvider.
type Window interface {
	Name() string
	Rows(ctx context.Context) ([]backend.ListWindowRow, error)
	Children(ctx context.Context, ref int) ([]backend.ListWindowRow, error)
}

// RowConverter maps one list window row to a variable.
type RowConverter func(row backend.ListWindowRow) (dap.Variable, error)

// ListWindowProvider reads variables from a backend list window.
type ListWindowProvider struct {
	window  Window
	convert RowConverter
	logger  *zap.Logger
}

func NewListWindowProvider(w Window, convert RowConverter, logger *zap.Logger) *ListWindowProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListWindowProvider{
		window:  w,
		convert: convert,
		logger:  logger.With(zap.String("window", w.Name())),
	}
}

// Finder resolves a service name to a client.
type Finder interface {
	FindService(ctx context.Context, name string) (*rpc.Client, error)
}

// Open connects to a list window service and wraps it with the converter
// registered for that window.
func Open(ctx context.Context, f Finder, window string, logger *zap.Logger) (*ListWindowProvider, error) {
	convert, ok := converters[window]
	if !ok {
		return nil, fmt.Errorf("no row converter for window %s", window)
	}
	c, err := f.FindService(ctx, window)
	if err != nil {
		return nil, err
	}
	return NewListWindowProvider(backend.NewListWindow(c, window), convert, logger), nil
}

func (p *ListWindowProvider) Name() string { return p.window.Name() }

func (p *ListWindowProvider) Variables(ctx context.Context) ([]dap.Variable, error) {
	rows, err := p.window.Rows(ctx)
	if err != nil {
		return nil, err
	}
	return p.toVariables(rows), nil
}

func (p *ListWindowProvider) Subvariables(ctx context.Context, ref int) ([]dap.Variable, error) {
	rows, err := p.window.Children(ctx, ref)
	if err != nil {
		return nil, err
	}
	return p.toVariables(rows), nil
}

// toVariables skips rows the converter rejects.
func (p *ListWindowProvider) toVariables(rows []backend.ListWindowRow) []dap.Variable {
	vars := make([]dap.Variable, 0, len(rows))
	for _, row := range rows {
		v, err := p.convert(row)
		if err != nil {
			p.logger.Warn("skipping row", zap.Strings("values", row.Values), zap.Error(err))
			continue
		}
		if row.SubRef > 0 {
			v.VariablesReference = row.SubRef
		}
		vars = append(vars, v)
	}
	return vars
}

var converters = map[string]RowConverter{
	backend.LocalsWindow:    Locals,
	backend.StaticsWindow:   Statics,
	backend.RegistersWindow: Registers,
}

// Locals converts a locals row: name, value, location, type.
func Locals(row backend.ListWindowRow) (dap.Variable, error) {
	if err := requireColumns(row, 0, 1, 3); err != nil {
		return dap.Variable{}, err
	}
	return dap.Variable{
		Name:  row.Values[0],
		Value: row.Values[1],
		Type:  fmt.Sprintf("%s @ %s", row.Values[3], column(row, 2)),
	}, nil
}

// Statics converts a statics row. The name column carries a module suffix
// after the first space, which is dropped.
func Statics(row backend.ListWindowRow) (dap.Variable, error) {
	v, err := Locals(row)
	if err != nil {
		return dap.Variable{}, err
	}
	if name, _, ok := strings.Cut(v.Name, " "); ok {
		v.Name = name
	}
	return v, nil
}

// Registers converts a registers row: name, value, type.
func Registers(row backend.ListWindowRow) (dap.Variable, error) {
	if err := requireColumns(row, 0, 1, 2); err != nil {
		return dap.Variable{}, err
	}
	return dap.Variable{
		Name:  row.Values[0],
		Value: row.Values[1],
		Type:  row.Values[2],
	}, nil
}

func requireColumns(row backend.ListWindowRow, columns ...int) error {
	for _, c := range columns {
		if column(row, c) == "" {
			return fmt.Errorf("not enough data in row to parse variable: %w", domain.ErrParse)
		}
	}
	return nil
}

func column(row backend.ListWindowRow, i int) string {
	if i < len(row.Values) {
		return row.Values[i]
	}
	return ""
}
