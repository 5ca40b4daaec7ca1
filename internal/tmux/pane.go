package tmux

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vburojevic/dbgbridge/internal/domain"
)

const rule = "════════════════════════════════════════════════════════════"

var shellEscaper = strings.NewReplacer(`'`, `'"'"'`, `\`, `\\`)

// target is the first pane of the managed session.
func (m *Manager) target() string {
	return m.config.SessionName + ":0.0"
}

// ClearPane resets the terminal and drops its scrollback
func (m *Manager) ClearPane() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pane == nil {
		return ErrNoPaneAvailable
	}

	steps := []struct {
		what string
		args []string
	}{
		{"reset terminal", []string{"send-keys", "-t", m.target(), "-R"}},
		{"clear history", []string{"clear-history", "-t", m.target()}},
		{"clear screen", []string{"send-keys", "-t", m.target(), "clear", "Enter"}},
	}
	for _, step := range steps {
		if _, err := m.tmux.Command(step.args...); err != nil {
			return fmt.Errorf("failed to %s: %w", step.what, err)
		}
	}
	return nil
}

// ClearPaneWithBanner clears the pane and prints a header naming the console
func (m *Manager) ClearPaneWithBanner(message string) error {
	if err := m.ClearPane(); err != nil {
		return err
	}
	return m.WriteLines(framed(
		"  dbgbridge - "+message,
		fmt.Sprintf("  Session: %s | Started: %s", m.config.SessionName, time.Now().Format("2006-01-02 15:04:05")),
	))
}

// WriteSessionBanner marks where a bridge session's output begins
func (m *Manager) WriteSessionBanner(start *domain.SessionStart) error {
	return m.WriteLines(append([]string{""}, framed(
		fmt.Sprintf("  SESSION %s: %s", start.SessionID, start.Registry),
		fmt.Sprintf("  callbacks on %s | %s", start.Callback, start.Timestamp),
	)...))
}

func framed(lines ...string) []string {
	out := make([]string, 0, len(lines)+2)
	out = append(out, rule)
	out = append(out, lines...)
	return append(out, rule)
}

// WriteLine echoes one line into the pane
func (m *Manager) WriteLine(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pane == nil {
		return ErrNoPaneAvailable
	}
	_, err := m.tmux.Command("send-keys", "-t", m.target(), "echo '"+escapeTmuxString(line)+"'", "Enter")
	return err
}

// WriteLines writes lines in order, stopping at the first failure
func (m *Manager) WriteLines(lines []string) error {
	for _, line := range lines {
		if err := m.WriteLine(line); err != nil {
			return err
		}
	}
	return nil
}

// escapeTmuxString quotes s for the single-quoted echo WriteLine sends
func escapeTmuxString(s string) string {
	return shellEscaper.Replace(s)
}

// LineWriter receives complete console lines
type LineWriter interface {
	WriteLine(line string) error
}

// Writer splits streamed target output into lines for a LineWriter. Blank
// lines are dropped and a trailing partial line waits for Flush.
type Writer struct {
	sink    LineWriter
	pending bytes.Buffer
}

// NewWriter creates a writer delivering lines to sink
func NewWriter(sink LineWriter) *Writer {
	return &Writer{sink: sink}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.pending.Write(p)
	for {
		i := bytes.IndexByte(w.pending.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		line := strings.TrimSuffix(string(w.pending.Next(i+1)[:i]), "\r")
		if line == "" {
			continue
		}
		if err := w.sink.WriteLine(line); err != nil {
			return 0, err
		}
	}
}

// Flush delivers the buffered partial line, if any
func (w *Writer) Flush() error {
	if w.pending.Len() == 0 {
		return nil
	}
	line := w.pending.String()
	w.pending.Reset()
	return w.sink.WriteLine(line)
}

var _ io.Writer = (*Writer)(nil)
