package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/vburojevic/dbgbridge/internal/bridge"
	"github.com/vburojevic/dbgbridge/internal/events"
	"github.com/vburojevic/dbgbridge/internal/filter"
	"github.com/vburojevic/dbgbridge/internal/output"
	"github.com/vburojevic/dbgbridge/internal/targetio"
	"github.com/vburojevic/dbgbridge/internal/tmux"
)

// ConsoleCmd attaches to the target console
type ConsoleCmd struct {
	Events       []string      `short:"e" help:"Event kinds to show (default: all)"`
	NoInput      bool          `help:"Do not forward stdin to the target"`
	Dedupe       bool          `help:"Collapse repeated backend log events"`
	DedupeWindow time.Duration `default:"0s" help:"Collapse repeats within this window (0 = consecutive only)"`
	Tmux         bool          `help:"Mirror target output into a tmux session"`
	Session      string        `help:"Custom tmux session name (default: dbgbridge-<registry>)"`

	ready func()
}

// Run executes the console command
func (c *ConsoleCmd) Run(globals *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()
	return c.run(ctx, globals)
}

func (c *ConsoleCmd) run(ctx context.Context, globals *Globals) error {
	if err := validateFlags(globals, c.Tmux); err != nil {
		return err
	}
	kinds, err := parseKinds(c.Events)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_EVENT_KIND", err.Error(), "valid kinds are listed by 'dbgbridge schema -t debug_event'")
	}
	minLevel := parseSeverity(globals.Level)

	s, logger, err := openSession(ctx, globals)
	if err != nil {
		return outputError(globals, err)
	}
	defer logger.Sync()

	w := newWriter(globals)
	if !globals.Quiet {
		w.WriteSessionStart(s.Start())
	}

	sink := func(data string) { w.WriteOutput(data) }
	if c.Tmux {
		mgr, err := c.openTmux(globals, s)
		if err != nil {
			_, _ = s.Close()
			return outputErrorCommon(globals, "TMUX_FAILED", err.Error())
		}
		defer mgr.Cleanup()
		tw := tmux.NewWriter(mgr)
		defer tw.Flush()
		sink = func(data string) {
			if _, err := tw.Write([]byte(data)); err != nil {
				logger.Warn("tmux write failed", zap.Error(err))
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.IO().OnOutput(sink)
	s.IO().OnExit(func(int) { cancel() })
	for _, k := range kinds {
		s.Events().Subscribe(k, func(ev events.DebugEvent) { w.WriteDebugEvent(ev) })
	}

	var dedupe *filter.DedupeFilter
	if c.Dedupe {
		dedupe = filter.NewDedupeFilter(c.DedupeWindow, nil)
	}
	s.Events().SubscribeLog(func(ev events.LogEvent) {
		if !severityShown(ev.Severity, minLevel) {
			return
		}
		if dedupe != nil && !dedupe.Check(ev).ShouldEmit {
			return
		}
		w.WriteLogEvent(ev, 0)
	})

	if !c.NoInput && globals.Stdin != nil {
		go forwardInput(ctx, globals.Stdin, s.IO())
	}
	if c.ready != nil {
		c.ready()
	}

	<-ctx.Done()

	end, err := s.Close()
	if dedupe != nil {
		for ev, n := range dedupe.Repeated() {
			w.WriteLogEvent(ev, n)
		}
	}
	if end != nil && !globals.Quiet {
		w.WriteSessionEnd(end)
	}
	if err != nil {
		logger.Warn("session close failed", zap.Error(err))
	}
	return nil
}

func (c *ConsoleCmd) openTmux(globals *Globals, s *bridge.Session) (*tmux.Manager, error) {
	name := c.Session
	if name == "" {
		name = tmux.GenerateSessionName(globals.Registry)
	}
	mgr, err := tmux.NewManager(&tmux.Config{SessionName: name, Registry: globals.Registry, Detached: true})
	if err != nil {
		return nil, err
	}
	if err := mgr.GetOrCreateSession(); err != nil {
		return nil, err
	}
	_ = mgr.ClearPaneWithBanner(fmt.Sprintf("Console: %s", globals.Registry))
	_ = mgr.WriteSessionBanner(s.Start())

	if globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteTmux(name, mgr.AttachCommand())
	} else {
		fmt.Fprintf(globals.Stdout, "Tmux session: %s\n", name)
		fmt.Fprintf(globals.Stdout, "Attach with: %s\n", mgr.AttachCommand())
	}
	return mgr, nil
}

// forwardInput copies r into the target input buffer until r fails or ctx ends
func forwardInput(ctx context.Context, r io.Reader, mux *targetio.Multiplexer) {
	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if n > 0 {
			mux.SupplyInput(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			return
		}
	}
}

// parseKinds maps kind names to kinds; no names means every kind
func parseKinds(names []string) ([]events.Kind, error) {
	if len(names) == 0 {
		return append(events.Kinds(), events.KindUnknown), nil
	}
	kinds := make([]events.Kind, 0, len(names))
	for _, name := range names {
		k := events.ParseKind(name)
		if k == events.KindUnknown && name != events.KindUnknown.String() {
			return nil, fmt.Errorf("unknown event kind %q", name)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// parseSeverity maps a --level value to a severity, defaulting to info
func parseSeverity(level string) events.Severity {
	switch level {
	case "warning", "warn":
		return events.SeverityWarning
	case "error":
		return events.SeverityError
	case "user":
		return events.SeverityUser
	}
	return events.SeverityInfo
}

// severityShown reports whether ev passes the minimum level. User messages
// are always shown.
func severityShown(sev, floor events.Severity) bool {
	return sev == events.SeverityUser || sev >= floor
}
