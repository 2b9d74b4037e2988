package connector

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

// ProcessSource runs Command either once per Interval (capturing combined
// output as a single message) or continuously (streaming each stdout line
// as its own message), mirroring command_executor.go's shell-out shape.
type ProcessSource struct {
	Command  string
	Args     []string
	Topic    string
	Interval time.Duration // zero means streaming mode
}

func (p *ProcessSource) Run(ctx context.Context, out chan<- message.Message) error {
	if p.Interval > 0 {
		return p.runInterval(ctx, out)
	}
	return p.runStreaming(ctx, out)
}

func (p *ProcessSource) runInterval(ctx context.Context, out chan<- message.Message) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cmd := exec.CommandContext(ctx, p.Command, p.Args...)
			output, err := cmd.CombinedOutput()
			if err != nil {
				continue
			}
			select {
			case out <- message.New(p.Topic, output):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (p *ProcessSource) runStreaming(ctx context.Context, out chan<- message.Message) error {
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("processconn: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("processconn: start %s: %w", p.Command, err)
	}

	scanner := bufio.NewScanner(stdout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case out <- message.New(p.Topic, line):
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		_ = cmd.Wait()
		return nil
	case <-done:
		return cmd.Wait()
	}
}

// ProcessSink pipes each published message's payload to Command's stdin,
// one invocation per message.
type ProcessSink struct {
	Command string
	Args    []string
}

func (p *ProcessSink) Publish(ctx context.Context, msg message.Message) error {
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Stdin = bytes.NewReader(msg.Payload)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("processconn: run %s: %w", p.Command, err)
	}
	return nil
}
