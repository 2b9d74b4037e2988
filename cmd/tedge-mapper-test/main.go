// Command tedge-mapper-test runs flow definitions against supplied
// messages without any MQTT connection, for offline testing of flows and
// scripts against a live or sandboxed flows directory.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/thin-edge/tedge-mapper-core/internal/contextstore"
	"github.com/thin-edge/tedge-mapper-core/internal/flow"
	"github.com/thin-edge/tedge-mapper-core/internal/logging"
	"github.com/thin-edge/tedge-mapper-core/internal/sandbox"
	"github.com/thin-edge/tedge-mapper-core/internal/steps"
	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

var (
	flowsDir  string
	flowName  string
	showStats bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tedge-mapper-test [<topic> <payload>]",
		Short: "Run flows offline against a message, without connecting to MQTT",
		Long: `Without positional arguments, reads messages from stdin using the
bracket syntax "[<topic>] <payload>", one per line, and writes results in
the same syntax to stdout. With a topic and payload given on the command
line, runs exactly that one message and exits.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args)
		},
	}

	cmd.Flags().StringVar(&flowsDir, "flows-dir", "/etc/tedge/flows", "flows directory to load")
	cmd.Flags().StringVar(&flowName, "flow", "", "restrict to a single flow by name")
	cmd.Flags().BoolVar(&showStats, "stats", false, "print per-step stats for the selected flow(s) after processing")

	return cmd
}

type capturingSink struct {
	mu   sync.Mutex
	msgs []message.Message
}

type loadedFlow struct {
	inst    *flow.Instance
	capture *capturingSink
}

func (c *capturingSink) Publish(_ context.Context, msg message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *capturingSink) take() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.msgs
	c.msgs = nil
	return out
}

func run(args []string) error {
	log := logging.NewScoped(logging.New(logging.DefaultConfig()), nil)

	registry := steps.NewRegistry()
	sandboxRuntime, err := sandbox.New(sandbox.Limits{}, 0, log.With("component", "sandbox"))
	if err != nil {
		return fmt.Errorf("tedge-mapper-test: %w", err)
	}

	builder := &flow.Builder{
		FlowsDir: flowsDir,
		Registry: registry,
		Sandbox:  sandboxRuntime,
		Store:    contextstore.New(),
		MQTT:     nil,
		Log:      log,
	}

	loader := flow.NewLoader(flowsDir, registry, log, 0)
	valid, invalid := loader.LoadAll()
	for path, parseErr := range invalid {
		fmt.Fprintf(os.Stderr, "tedge-mapper-test: %s: %v\n", path, parseErr)
	}

	instances := make(map[string]loadedFlow)
	for _, def := range valid {
		if flowName != "" && def.Name != flowName {
			continue
		}
		inst, buildErr := builder.Build(def)
		if buildErr != nil {
			fmt.Fprintf(os.Stderr, "tedge-mapper-test: %s: %v\n", def.Path, buildErr)
			continue
		}
		capture := &capturingSink{}
		inst.SetOutput(capture)
		inst.SetErrorSink(capture)
		instances[def.Name] = loadedFlow{inst: inst, capture: capture}
	}

	if flowName != "" && len(instances) == 0 {
		return fmt.Errorf("tedge-mapper-test: flow %q not found under %s", flowName, flowsDir)
	}

	ctx := context.Background()
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	process := func(topic, payload string) {
		msg := message.New(topic, []byte(payload))
		for _, l := range instances {
			if flowName != "" || l.inst.MatchesTopic(topic) {
				l.inst.ProcessMessage(ctx, msg)
			}
		}
		for _, l := range instances {
			for _, result := range l.capture.take() {
				fmt.Fprintf(out, "[%s] %s\n", result.Topic, result.Payload)
			}
		}
	}

	if len(args) == 2 {
		process(args[0], args[1])
	} else {
		if err := scanLines(os.Stdin, process); err != nil {
			return fmt.Errorf("tedge-mapper-test: %w", err)
		}
	}

	if showStats {
		printStats(out, instances)
	}

	return nil
}

var bracketLine = regexp.MustCompile(`^\[([^\]]*)\]\s?(.*)$`)

// scanLines reads bracket-syntax lines from r and calls process for each,
// stopping at the first malformed line.
func scanLines(r io.Reader, process func(topic, payload string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := bracketLine.FindStringSubmatch(line)
		if m == nil {
			return fmt.Errorf("malformed input line, expected \"[<topic>] <payload>\": %q", line)
		}
		process(m[1], m[2])
	}
	return scanner.Err()
}

// processLines runs scanLines over an in-memory slice of lines, used by
// tests that don't want to fake stdin.
func processLines(lines []string, process func(topic, payload string)) error {
	return scanLines(strings.NewReader(strings.Join(lines, "\n")), process)
}

func printStats(out *bufio.Writer, instances map[string]loadedFlow) {
	for name, l := range instances {
		snap := l.inst.Stats()
		data, _ := json.Marshal(snap)
		fmt.Fprintf(out, "%s: %s\n", name, data)
	}
}
