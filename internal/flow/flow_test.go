package flow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-mapper-core/internal/contextstore"
	"github.com/thin-edge/tedge-mapper-core/internal/logging"
	"github.com/thin-edge/tedge-mapper-core/internal/steps"
)

func TestDefinitionValidateRequiresExactlyOneInput(t *testing.T) {
	def := &Definition{
		Name:  "bad",
		Steps: []StepDef{{Builtin: "add-timestamp"}},
		Output: Output{MQTT: &MQTTOutput{}},
	}
	err := def.Validate(nil)
	assert.Error(t, err)

	def.Input.MQTT = &MQTTInput{Topics: []string{"a/b"}}
	assert.NoError(t, def.Validate(nil))
}

func TestDefinitionValidateRejectsBuiltinAndScriptTogether(t *testing.T) {
	def := &Definition{
		Name:   "bad",
		Input:  Input{MQTT: &MQTTInput{Topics: []string{"a"}}},
		Steps:  []StepDef{{Builtin: "add-timestamp", Script: "x.js"}},
		Output: Output{MQTT: &MQTTOutput{}},
	}
	assert.Error(t, def.Validate(nil))
}

func TestDefinitionValidateRequiresExactlyOneOutput(t *testing.T) {
	def := &Definition{
		Name:  "bad",
		Input: Input{MQTT: &MQTTInput{Topics: []string{"a"}}},
		Steps: []StepDef{{Builtin: "add-timestamp"}},
		Output: Output{MQTT: &MQTTOutput{}, File: &FileOutput{Path: "x"}},
	}
	assert.Error(t, def.Validate(nil))
}

func TestLoaderParsesAndSkipsDisabledAndTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFlowFile(t, dir, "active.toml", validFlowTOML)
	writeFlowFile(t, dir, "off.toml", validFlowTOML)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "off.toml.disabled"), []byte(""), 0o644))
	writeFlowFile(t, dir, "reference.toml.template", validFlowTOML)

	loader := NewLoader(dir, steps.NewRegistry(), logging.NewScoped(nil, nil), 0)
	valid, invalid := loader.LoadAll()

	assert.Empty(t, invalid)
	require.Len(t, valid, 1)
	for _, def := range valid {
		assert.Equal(t, "active", def.Name)
	}
}

func TestLoaderReportsInvalidFlowsWithoutAbortingOthers(t *testing.T) {
	dir := t.TempDir()
	writeFlowFile(t, dir, "good.toml", validFlowTOML)
	writeFlowFile(t, dir, "bad.toml", `
[input.mqtt]
topics = ["a/b"]
`)

	loader := NewLoader(dir, steps.NewRegistry(), logging.NewScoped(nil, nil), 0)
	valid, invalid := loader.LoadAll()

	require.Len(t, valid, 1)
	require.Len(t, invalid, 1)
}

func TestStatsSnapshotComputesMinMedianMax(t *testing.T) {
	s := NewStats(0)
	s.RecordIn()
	s.RecordOut(1, 10*time.Millisecond)
	s.RecordIn()
	s.RecordOut(1, 30*time.Millisecond)
	s.RecordIn()
	s.RecordOut(1, 20*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap.MessagesIn)
	assert.Equal(t, uint64(3), snap.MessagesOut)
	assert.Equal(t, 10*time.Millisecond, snap.MinLatency)
	assert.Equal(t, 30*time.Millisecond, snap.MaxLatency)
	assert.Equal(t, 20*time.Millisecond, snap.MedianLatency)
}

func TestInstanceFileToFilePipeline(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.txt")
	outPath := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(inPath, []byte(""), 0o644))

	def := &Definition{
		Name: "passthrough",
		Path: filepath.Join(dir, "passthrough.toml"),
		Input: Input{File: &FileInput{Path: inPath, Topic: "t"}},
		Steps: []StepDef{{Builtin: "add-timestamp", Config: map[string]interface{}{"property": "time", "format": "unix"}}},
		Output: Output{File: &FileOutput{Path: outPath}},
	}

	builder := &Builder{
		FlowsDir: dir,
		Registry: steps.NewRegistry(),
		Store:    contextstore.New(),
		Log:      logging.NewScoped(nil, nil),
	}
	inst, err := builder.Build(def)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go inst.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	f, err := os.OpenFile(inPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"temperature":21}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(outPath)
		return err == nil && len(data) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

const validFlowTOML = `
[input.mqtt]
topics = ["te/+/+/+/+/m/+"]

[[steps]]
builtin = "add-timestamp"

[output.mqtt]
topic = "c8y/measurement/measurements/create"
`

func writeFlowFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
