package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/dbgbridge/internal/events"
	"github.com/vburojevic/dbgbridge/internal/output"
)

// WatchCmd runs commands when debug events or log messages arrive
type WatchCmd struct {
	On       []string      `help:"kind:command pairs (e.g., 'stopped:notify.sh') - can be repeated"`
	OnLog    []string      `help:"regex:command pairs matched against backend log text - can be repeated"`
	Cooldown time.Duration `default:"5s" help:"Minimum time between runs of the same trigger"`

	clock  clock.Clock
	runner commandRunner
	ready  func()
}

// commandRunner runs a trigger command with extra environment
type commandRunner func(ctx context.Context, command string, env []string) error

func shellRunner(ctx context.Context, command string, env []string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(), env...)
	return cmd.Run()
}

// trigger is one kind:command or regex:command pair
type trigger struct {
	name    string
	kind    events.Kind
	pattern *regexp.Regexp
	command string
	last    time.Time
}

// triggerSet applies the cooldown per trigger
type triggerSet struct {
	mu       sync.Mutex
	clock    clock.Clock
	cooldown time.Duration
	events   []*trigger
	logs     []*trigger
}

func parseTriggers(on, onLog []string, cooldown time.Duration, clk clock.Clock) (*triggerSet, error) {
	ts := &triggerSet{clock: clk, cooldown: cooldown}
	for _, spec := range on {
		kindText, command, ok := strings.Cut(spec, ":")
		if !ok || strings.TrimSpace(command) == "" {
			return nil, fmt.Errorf("invalid kind:command format: %s", spec)
		}
		kind := events.ParseKind(kindText)
		if kind == events.KindUnknown {
			return nil, fmt.Errorf("unknown event kind %q in trigger %s", kindText, spec)
		}
		ts.events = append(ts.events, &trigger{name: kind.String(), kind: kind, command: command})
	}
	for _, spec := range onLog {
		// Split at the last colon so patterns may contain colons.
		i := strings.LastIndex(spec, ":")
		if i <= 0 || strings.TrimSpace(spec[i+1:]) == "" {
			return nil, fmt.Errorf("invalid regex:command format: %s", spec)
		}
		re, err := regexp.Compile(spec[:i])
		if err != nil {
			return nil, fmt.Errorf("invalid trigger pattern: %w", err)
		}
		ts.logs = append(ts.logs, &trigger{name: "log:" + re.String(), pattern: re, command: spec[i+1:]})
	}
	if len(ts.events) == 0 && len(ts.logs) == 0 {
		return nil, fmt.Errorf("at least one --on or --on-log trigger is required")
	}
	return ts, nil
}

// kinds returns the distinct event kinds that have triggers
func (ts *triggerSet) kinds() []events.Kind {
	seen := map[events.Kind]bool{}
	var kinds []events.Kind
	for _, t := range ts.events {
		if !seen[t.kind] {
			seen[t.kind] = true
			kinds = append(kinds, t.kind)
		}
	}
	return kinds
}

// dueEvent returns the triggers for kind whose cooldown has passed and
// marks them as fired
func (ts *triggerSet) dueEvent(kind events.Kind) []*trigger {
	return ts.due(ts.events, func(t *trigger) bool { return t.kind == kind })
}

// dueLog is dueEvent for log text
func (ts *triggerSet) dueLog(text string) []*trigger {
	return ts.due(ts.logs, func(t *trigger) bool { return t.pattern.MatchString(text) })
}

func (ts *triggerSet) due(list []*trigger, match func(*trigger) bool) []*trigger {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.clock.Now()
	var fired []*trigger
	for _, t := range list {
		if !match(t) {
			continue
		}
		if !t.last.IsZero() && now.Sub(t.last) < ts.cooldown {
			continue
		}
		t.last = now
		fired = append(fired, t)
	}
	return fired
}

// Run executes the watch command
func (c *WatchCmd) Run(globals *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()
	return c.run(ctx, globals)
}

func (c *WatchCmd) run(ctx context.Context, globals *Globals) error {
	clk := c.clock
	if clk == nil {
		clk = clock.New()
	}
	run := c.runner
	if run == nil {
		run = shellRunner
	}

	triggers, err := parseTriggers(c.On, c.OnLog, c.Cooldown, clk)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_TRIGGER", err.Error(), "use --on stopped:./notify.sh or --on-log 'fault:./dump.sh'")
	}

	s, logger, err := openSession(ctx, globals)
	if err != nil {
		return outputError(globals, err)
	}
	defer logger.Sync()

	w := newWriter(globals)
	if !globals.Quiet {
		w.WriteSessionStart(s.Start())
		if globals.Format == "text" {
			for _, t := range triggers.events {
				fmt.Fprintf(globals.Stderr, "On %s: %s\n", t.name, t.command)
			}
			for _, t := range triggers.logs {
				fmt.Fprintf(globals.Stderr, "On log '%s': %s\n", t.pattern.String(), t.command)
			}
			fmt.Fprintf(globals.Stderr, "Cooldown: %s\n", c.Cooldown)
			fmt.Fprintln(globals.Stderr, "Press Ctrl+C to stop")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.IO().OnExit(func(int) { cancel() })

	var wg sync.WaitGroup
	fire := func(t *trigger, env []string) {
		env = append(env, "DBGBRIDGE_TRIGGER="+t.name, "DBGBRIDGE_SESSION="+s.Start().SessionID)
		c.report(globals, w, t, "")
		wg.Add(1)
		// Run in the background so event delivery is not blocked.
		go func() {
			defer wg.Done()
			if err := run(ctx, t.command, env); err != nil {
				logger.Debug("trigger failed", zap.String("trigger", t.name), zap.Error(err))
				c.report(globals, w, t, err.Error())
			}
		}()
	}

	for _, k := range triggers.kinds() {
		s.Events().Subscribe(k, func(ev events.DebugEvent) {
			if !globals.Quiet {
				w.WriteDebugEvent(ev)
			}
			for _, t := range triggers.dueEvent(ev.Kind) {
				fire(t, []string{
					"DBGBRIDGE_EVENT_KIND=" + ev.Kind.String(),
					"DBGBRIDGE_EVENT_DESCRIPTION=" + ev.Description,
					"DBGBRIDGE_EVENT_PARAMS=" + strings.Join(ev.Params, " "),
				})
			}
		})
	}
	if len(triggers.logs) > 0 {
		s.Events().SubscribeLog(func(ev events.LogEvent) {
			for _, t := range triggers.dueLog(ev.Text) {
				fire(t, []string{
					"DBGBRIDGE_LOG_SEVERITY=" + ev.Severity.String(),
					"DBGBRIDGE_LOG_TEXT=" + ev.Text,
				})
			}
		})
	}

	if c.ready != nil {
		c.ready()
	}

	<-ctx.Done()
	end, err := s.Close()
	wg.Wait()
	if end != nil && !globals.Quiet {
		w.WriteSessionEnd(end)
	}
	if err != nil {
		logger.Warn("session close failed", zap.Error(err))
	}
	return nil
}

// report announces a trigger run, or its failure when errText is set
func (c *WatchCmd) report(globals *Globals, w output.Writer, t *trigger, errText string) {
	if nd, ok := w.(*output.NDJSONWriter); ok {
		nd.WriteTrigger(t.name, t.command, errText)
		return
	}
	if globals.Quiet {
		return
	}
	if errText != "" {
		fmt.Fprintf(globals.Stderr, "[TRIGGER ERROR] %s: %s\n", t.command, errText)
		return
	}
	fmt.Fprintf(globals.Stderr, "[TRIGGER:%s] Running: %s\n", t.name, t.command)
}
