// Package tmux mirrors target console output into a detached tmux session.
package tmux

import (
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/GianlucaP106/gotmux/gotmux"
)

// ErrNoPaneAvailable is returned when writing before a session exists.
var ErrNoPaneAvailable = errors.New("no tmux pane available")

// Config describes the tmux session used as a console
type Config struct {
	SessionName string
	// Registry is shown in banners so the operator knows which backend it is
	Registry string
	Detached bool
}

// Manager owns one tmux session and its first pane
type Manager struct {
	mu      sync.Mutex
	config  *Config
	tmux    *gotmux.Tmux
	session *gotmux.Session
	pane    *gotmux.Pane
	created bool
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// GenerateSessionName derives a tmux-safe session name from the backend address
func GenerateSessionName(registry string) string {
	name := strings.Trim(unsafeName.ReplaceAllString(registry, "-"), "-")
	if name == "" {
		name = "default"
	}
	return "dbgbridge-" + name
}

// IsTmuxAvailable reports whether a tmux binary is on PATH
func IsTmuxAvailable() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// NewManager connects to the default tmux server
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.SessionName == "" {
		return nil, errors.New("tmux session name is required")
	}
	t, err := gotmux.DefaultTmux()
	if err != nil {
		return nil, fmt.Errorf("connect to tmux: %w", err)
	}
	return &Manager{config: cfg, tmux: t}, nil
}

// GetOrCreateSession attaches to the named session, creating it if needed
func (m *Manager) GetOrCreateSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		s   *gotmux.Session
		err error
	)
	if m.tmux.HasSession(m.config.SessionName) {
		s, err = m.tmux.GetSessionByName(m.config.SessionName)
	} else {
		s, err = m.tmux.NewSession(&gotmux.SessionOptions{Name: m.config.SessionName})
		m.created = err == nil
	}
	if err != nil {
		return fmt.Errorf("tmux session %s: %w", m.config.SessionName, err)
	}

	windows, err := s.ListWindows()
	if err != nil {
		return fmt.Errorf("list tmux windows: %w", err)
	}
	if len(windows) == 0 {
		return ErrNoPaneAvailable
	}
	panes, err := windows[0].ListPanes()
	if err != nil {
		return fmt.Errorf("list tmux panes: %w", err)
	}
	if len(panes) == 0 {
		return ErrNoPaneAvailable
	}

	m.session = s
	m.pane = panes[0]
	return nil
}

// SessionName returns the configured session name
func (m *Manager) SessionName() string {
	return m.config.SessionName
}

// AttachCommand returns the shell command that attaches to the session
func (m *Manager) AttachCommand() string {
	return fmt.Sprintf("tmux attach -t %s", m.config.SessionName)
}

// Cleanup kills the session if this manager created it
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || !m.created || !m.config.Detached {
		return nil
	}
	err := m.session.Kill()
	m.session = nil
	m.pane = nil
	return err
}
