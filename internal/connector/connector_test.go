package connector

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

func TestFileSourceIntervalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	src := &FileSource{Path: path, Topic: "tedge/file", Interval: 20 * time.Millisecond}
	out := make(chan message.Message, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go src.Run(ctx, out)

	select {
	case m := <-out:
		assert.Equal(t, "hello", string(m.Payload))
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestFileSourceTailMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	src := &FileSource{Path: path, Topic: "tedge/log", PollRate: 10 * time.Millisecond}
	out := make(chan message.Message, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx, out)

	time.Sleep(20 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("line one\nline two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case m := <-out:
			got = append(got, string(m.Payload))
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{"line one", "line two"}, got)
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	sink := &FileSink{Path: path}
	require.NoError(t, sink.Publish(context.Background(), message.New("t", []byte("a"))))
	require.NoError(t, sink.Publish(context.Background(), message.New("t", []byte("b"))))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestProcessSourceInterval(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("echo semantics differ on windows")
	}
	src := &ProcessSource{Command: "echo", Args: []string{"hi"}, Topic: "t", Interval: 20 * time.Millisecond}
	out := make(chan message.Message, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go src.Run(ctx, out)

	select {
	case m := <-out:
		assert.Contains(t, string(m.Payload), "hi")
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestProcessSinkRuns(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("cat semantics differ on windows")
	}
	sink := &ProcessSink{Command: "cat"}
	require.NoError(t, sink.Publish(context.Background(), message.New("t", []byte("hello"))))
}
