// Package flow loads flow definitions from TOML, watches the flows
// directory for changes, and runs each flow's Input -> Steps -> Output
// pipeline as a cooperative worker.Runnable.
package flow

import (
	"fmt"
	"time"
)

// MQTTInput subscribes to one or more topic filters on the shared broker.
type MQTTInput struct {
	Topics []string `toml:"topics"`
}

// FileInput reads a file, tailing new lines by default or re-reading the
// whole file every Interval.
type FileInput struct {
	Path     string        `toml:"path"`
	Interval time.Duration `toml:"interval"`
	Topic    string        `toml:"topic"`
}

// ProcessInput runs Command, streaming stdout lines by default or
// re-running it every Interval.
type ProcessInput struct {
	Command  string        `toml:"command"`
	Interval time.Duration `toml:"interval"`
	Topic    string        `toml:"topic"`
}

// Input is exactly one of MQTT, File or Process.
type Input struct {
	MQTT    *MQTTInput    `toml:"mqtt"`
	File    *FileInput    `toml:"file"`
	Process *ProcessInput `toml:"process"`
}

// StepDef declares a single pipeline step: either a builtin identifier or
// a script path, never both.
type StepDef struct {
	Builtin  string                 `toml:"builtin"`
	Script   string                 `toml:"script"`
	Config   map[string]interface{} `toml:"config"`
	Interval time.Duration          `toml:"interval"`
}

func (s StepDef) name() string {
	if s.Builtin != "" {
		return s.Builtin
	}
	return s.Script
}

// MQTTOutput publishes to a fixed Topic (when set) or to each message's
// own topic, optionally restricted by AcceptTopics.
type MQTTOutput struct {
	Topic        string `toml:"topic"`
	AcceptTopics string `toml:"accept_topics"`
}

// FileOutput appends each message's payload to Path.
type FileOutput struct {
	Path string `toml:"path"`
}

// ContextOutput routes messages into the mapper context store instead of
// any external sink; presence of the [output.context] table selects it.
type ContextOutput struct{}

// Output is exactly one of MQTT, File or Context.
type Output struct {
	MQTT    *MQTTOutput    `toml:"mqtt"`
	File    *FileOutput    `toml:"file"`
	Context *ContextOutput `toml:"context"`
}

// MQTTErrors publishes per-message/script errors to a fixed topic.
type MQTTErrors struct {
	Topic string `toml:"topic"`
}

// FileErrors appends errors to a file.
type FileErrors struct {
	Path string `toml:"path"`
}

// Errors is at most one of MQTT or File; a flow with neither logs errors
// at mapper level.
type Errors struct {
	MQTT *MQTTErrors `toml:"mqtt"`
	File *FileErrors `toml:"file"`
}

// Definition is one parsed flow TOML file.
type Definition struct {
	Input  Input                  `toml:"input"`
	Config map[string]interface{} `toml:"config"`
	Steps  []StepDef              `toml:"steps"`
	Output Output                 `toml:"output"`
	Errors Errors                 `toml:"errors"`

	// Name and Path are set by the loader, not decoded from TOML.
	Name string `toml:"-"`
	Path string `toml:"-"`
}

// Validate enforces the "all-or-none" invariant: Input, Steps, Output are
// either all well-formed or the whole definition is rejected.
func (d *Definition) Validate(stepExists func(StepDef) error) error {
	inputCount := boolCount(d.Input.MQTT != nil, d.Input.File != nil, d.Input.Process != nil)
	if inputCount != 1 {
		return fmt.Errorf("flow %s: exactly one input type is required, got %d", d.Name, inputCount)
	}
	if d.Input.MQTT != nil && len(d.Input.MQTT.Topics) == 0 {
		return fmt.Errorf("flow %s: input.mqtt.topics must not be empty", d.Name)
	}
	if d.Input.File != nil && d.Input.File.Path == "" {
		return fmt.Errorf("flow %s: input.file.path is required", d.Name)
	}
	if d.Input.Process != nil && d.Input.Process.Command == "" {
		return fmt.Errorf("flow %s: input.process.command is required", d.Name)
	}

	if len(d.Steps) == 0 {
		return fmt.Errorf("flow %s: at least one step is required", d.Name)
	}
	for i, step := range d.Steps {
		if (step.Builtin == "") == (step.Script == "") {
			return fmt.Errorf("flow %s: step %d must set exactly one of builtin or script", d.Name, i)
		}
		if stepExists != nil {
			if err := stepExists(step); err != nil {
				return fmt.Errorf("flow %s: step %d (%s): %w", d.Name, i, step.name(), err)
			}
		}
	}

	outputCount := boolCount(d.Output.MQTT != nil, d.Output.File != nil, d.Output.Context != nil)
	if outputCount != 1 {
		return fmt.Errorf("flow %s: exactly one output type is required, got %d", d.Name, outputCount)
	}

	if d.Errors.MQTT != nil && d.Errors.File != nil {
		return fmt.Errorf("flow %s: errors must name at most one sink", d.Name)
	}

	return nil
}

func boolCount(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
