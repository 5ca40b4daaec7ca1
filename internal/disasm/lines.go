package disasm

import (
	"regexp"
	"strings"

	"github.com/google/go-dap"
)

// LineKind is the shape a raw disassembly line was recognised as.
type LineKind int

const (
	LineLabel LineKind = iota
	LineStructured
	LineRaw
)

type matcher struct {
	kind  LineKind
	re    *regexp.Regexp
	build func(line string, m []string) (dap.DisassembledInstruction, bool)
}

// Tried in order; the first match wins. A trailing colon after a ";"
// comment does not make a label.
var matchers = []matcher{
	{
		kind: LineLabel,
		re:   regexp.MustCompile(`^\s*([^:;]+):\s*$`),
		build: func(line string, m []string) (dap.DisassembledInstruction, bool) {
			return dap.DisassembledInstruction{
				Instruction: "\t\t" + strings.TrimSpace(line),
				Symbol:      m[1],
			}, true
		},
	},
	{
		kind: LineStructured,
		re:   regexp.MustCompile(`^\s*(0[xX]\S+):\s+(\S+(?: \S+)*)\s{2,}(\S.*?)\s*$`),
		build: func(_ string, m []string) (dap.DisassembledInstruction, bool) {
			if _, err := ParseAddress(m[1]); err != nil {
				return dap.DisassembledInstruction{}, false
			}
			return dap.DisassembledInstruction{
				Instruction:      m[3],
				InstructionBytes: m[2],
			}, true
		},
	},
}

// Classify decodes one raw line. keep is false for blank lines and for
// structured lines whose address column is not valid hex.
func Classify(line string) (ins dap.DisassembledInstruction, keep bool) {
	ins, _, keep = classify(line)
	return ins, keep
}

func classify(line string) (dap.DisassembledInstruction, LineKind, bool) {
	if strings.TrimSpace(line) == "" {
		return dap.DisassembledInstruction{}, LineRaw, false
	}
	for _, m := range matchers {
		if sub := m.re.FindStringSubmatch(line); sub != nil {
			ins, ok := m.build(line, sub)
			return ins, m.kind, ok
		}
	}
	return dap.DisassembledInstruction{Instruction: line}, LineRaw, true
}
