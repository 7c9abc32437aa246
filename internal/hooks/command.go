package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/kaggler/internal/config"
)

const defaultCommandTimeout = 10 * time.Second

// CommandHandler returns a handler that runs entry.Command through the
// shell. The payload is written to the command's stdin as JSON and the event
// name is exported as KAGGLER_EVENT.
func CommandHandler(entry config.HookEntry) Handler {
	timeout := defaultCommandTimeout
	if entry.Timeout > 0 {
		timeout = time.Duration(entry.Timeout) * time.Millisecond
	}

	return func(ctx context.Context, p Payload) error {
		input, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", entry.Command)
		cmd.Stdin = bytes.NewReader(input)
		cmd.WaitDelay = time.Second
		cmd.Env = append(os.Environ(), "KAGGLER_EVENT="+p.Event)
		if topic, ok := p.Data["topic"].(string); ok {
			cmd.Env = append(cmd.Env, "KAGGLER_TOPIC="+topic)
		}

		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("hook command %q: %w: %s", entry.Command, err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

// RegisterCommands wires the shell hooks from config. Handlers are named
// "cmd:<event>:<index>".
func RegisterCommands(m *Manager, cfg config.HooksConfig) int {
	n := 0
	for event, entries := range map[string][]config.HookEntry{
		EventTurnStart:     cfg.TurnStart,
		EventTurnEnd:       cfg.TurnEnd,
		EventSnapshotSaved: cfg.SnapshotSaved,
		EventTopicReset:    cfg.TopicReset,
		EventGatewayStart:  cfg.GatewayStart,
		EventGatewayStop:   cfg.GatewayStop,
	} {
		for i, e := range entries {
			m.On(event, fmt.Sprintf("cmd:%s:%d", event, i), CommandHandler(e))
			n++
		}
	}
	return n
}
