package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/thin-edge/tedge-mapper-core/internal/connector"
	"github.com/thin-edge/tedge-mapper-core/internal/contextstore"
	"github.com/thin-edge/tedge-mapper-core/internal/logging"
	"github.com/thin-edge/tedge-mapper-core/internal/sandbox"
	"github.com/thin-edge/tedge-mapper-core/internal/steps"
	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

// Builder turns a parsed Definition into a runnable Instance, wiring in
// the shared connectors, sandbox runtime and context store every flow
// instance draws from.
type Builder struct {
	FlowsDir string
	Registry *steps.Registry
	Sandbox  *sandbox.Runtime
	Store    *contextstore.Store
	MQTT     *connector.MQTT
	Log      *logging.Scoped
	StatsPub StatsPublisher
}

// Build constructs an Instance ready to be handed to worker.Pool.Register.
func (b *Builder) Build(def *Definition) (*Instance, error) {
	source, err := b.buildSource(def)
	if err != nil {
		return nil, err
	}
	output, err := b.buildOutput(def)
	if err != nil {
		return nil, err
	}
	errSink, err := b.buildErrorSink(def)
	if err != nil {
		return nil, err
	}

	stepInstances := make([]*stepInstance, len(def.Steps))
	for i, sd := range def.Steps {
		builtin, scriptID, err := b.resolveStep(def, sd)
		if err != nil {
			return nil, err
		}
		scope := b.Store.Script(contextstore.ScriptKey{
			FlowKey:    def.Path,
			StepIndex:  i,
			ScriptPath: scriptID,
		})
		stepInstances[i] = &stepInstance{def: sd, builtin: builtin, stats: NewStats(0), scope: scope}
	}

	log := b.Log
	if log == nil {
		log = logging.NewScoped(nil, nil)
	}

	return &Instance{
		FlowKey:  def.Path,
		def:      def,
		source:   source,
		output:   output,
		errSink:  errSink,
		steps:    stepInstances,
		mapper:   b.Store.Mapper(),
		flowKV:   b.Store.Flow(def.Path),
		log:      log.With("flow", def.Name),
		statsPub: b.StatsPub,
	}, nil
}

func (b *Builder) resolveStep(def *Definition, sd StepDef) (steps.Builtin, string, error) {
	if sd.Builtin != "" {
		builtin, ok := b.Registry.Resolve(sd.Builtin)
		if !ok {
			return nil, "", fmt.Errorf("flow %s: unknown builtin %q", def.Name, sd.Builtin)
		}
		return builtin, sd.Builtin, nil
	}

	scriptPath := sd.Script
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(b.FlowsDir, scriptPath)
	}
	return steps.ScriptStep{Path: scriptPath, FlowName: def.Name, Runtime: b.Sandbox}, scriptPath, nil
}

func (b *Builder) buildSource(def *Definition) (connector.Source, error) {
	switch {
	case def.Input.MQTT != nil:
		sources := make([]connector.Source, 0, len(def.Input.MQTT.Topics))
		for _, topic := range def.Input.MQTT.Topics {
			sources = append(sources, connector.NewMQTTSource(b.MQTT, topic, 1))
		}
		return multiSource(sources), nil
	case def.Input.File != nil:
		in := def.Input.File
		topic := in.Topic
		if topic == "" {
			topic = in.Path
		}
		return &connector.FileSource{Path: in.Path, Topic: topic, Interval: in.Interval}, nil
	case def.Input.Process != nil:
		in := def.Input.Process
		command, args := splitCommand(in.Command)
		topic := in.Topic
		if topic == "" {
			topic = in.Command
		}
		return &connector.ProcessSource{Command: command, Args: args, Topic: topic, Interval: in.Interval}, nil
	default:
		return nil, fmt.Errorf("flow %s: no input configured", def.Name)
	}
}

func (b *Builder) buildOutput(def *Definition) (connector.Sink, error) {
	switch {
	case def.Output.MQTT != nil:
		return b.MQTT, nil
	case def.Output.File != nil:
		return &connector.FileSink{Path: def.Output.File.Path}, nil
	case def.Output.Context != nil:
		return &contextOutputSink{scope: b.Store.Mapper()}, nil
	default:
		return nil, fmt.Errorf("flow %s: no output configured", def.Name)
	}
}

func (b *Builder) buildErrorSink(def *Definition) (connector.Sink, error) {
	switch {
	case def.Errors.MQTT != nil:
		return b.MQTT, nil
	case def.Errors.File != nil:
		return &connector.FileSink{Path: def.Errors.File.Path}, nil
	default:
		return nil, nil
	}
}

// multiSource fans in several Sources into one shared output channel,
// running each on its own goroutine and returning once all have stopped.
type multiSource []connector.Source

func (m multiSource) Run(ctx context.Context, out chan<- message.Message) error {
	errCh := make(chan error, len(m))
	for _, s := range m {
		s := s
		go func() { errCh <- s.Run(ctx, out) }()
	}
	var firstErr error
	for range m {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// contextOutputSink stores a message's payload into the process-wide
// mapper context scope keyed by topic, used for `output.context` flows.
// An empty payload deletes the key rather than storing an empty value.
type contextOutputSink struct {
	scope contextstore.KV
}

func (c *contextOutputSink) Publish(_ context.Context, msg message.Message) error {
	if len(msg.Payload) == 0 {
		c.scope.Delete(msg.Topic)
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		decoded = string(msg.Payload)
	}
	c.scope.Set(msg.Topic, decoded)
	return nil
}

// splitCommand does a minimal whitespace split of a configured command
// line; it does not support quoting, matching the flow TOML grammar's
// plain `input.process.command = <string>` shape.
func splitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
