package connector

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

// FileSource reads a file either by tailing new lines as they're appended
// (polling for growth, since no maintained tail library is available in
// the dependency set) or, with Interval set, by re-reading
// the whole file on a fixed period.
type FileSource struct {
	Path     string
	Topic    string
	Interval time.Duration // zero means tail mode
	PollRate time.Duration // tail-mode poll period, defaults to 500ms
}

func (f *FileSource) Run(ctx context.Context, out chan<- message.Message) error {
	if f.Interval > 0 {
		return f.runInterval(ctx, out)
	}
	return f.runTail(ctx, out)
}

func (f *FileSource) runInterval(ctx context.Context, out chan<- message.Message) error {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			data, err := os.ReadFile(f.Path)
			if err != nil {
				continue
			}
			select {
			case out <- message.New(f.Topic, data):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// runTail polls the file for new bytes, tracking the read offset and the
// inode (via size shrink detection) so a log rotation restarts from the
// beginning of the new file instead of blocking forever at a stale offset.
func (f *FileSource) runTail(ctx context.Context, out chan<- message.Message) error {
	pollRate := f.PollRate
	if pollRate == 0 {
		pollRate = 500 * time.Millisecond
	}

	var offset int64
	ticker := time.NewTicker(pollRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fi, err := os.Stat(f.Path)
			if err != nil {
				continue
			}
			if fi.Size() < offset {
				offset = 0 // file was truncated or rotated
			}
			if fi.Size() == offset {
				continue
			}

			fh, err := os.Open(f.Path)
			if err != nil {
				continue
			}
			if _, err := fh.Seek(offset, 0); err != nil {
				fh.Close()
				continue
			}

			scanner := bufio.NewScanner(fh)
			for scanner.Scan() {
				line := append([]byte(nil), scanner.Bytes()...)
				select {
				case out <- message.New(f.Topic, line):
				case <-ctx.Done():
					fh.Close()
					return nil
				}
			}
			pos, _ := fh.Seek(0, os.SEEK_CUR)
			offset = pos
			fh.Close()
		}
	}
}

// FileSink appends published messages to a file, one payload per line.
type FileSink struct {
	Path string
}

func (f *FileSink) Publish(ctx context.Context, msg message.Message) error {
	fh, err := os.OpenFile(f.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("fileconn: open %s: %w", f.Path, err)
	}
	defer fh.Close()
	if _, err := fh.Write(append(msg.Payload, '\n')); err != nil {
		return fmt.Errorf("fileconn: write %s: %w", f.Path, err)
	}
	return nil
}
