package scanner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"ticket-gate/models"
)

// LineCapturer reads one payload per line, for handheld scanners that act as
// keyboards and for piping recorded payloads.
type LineCapturer struct {
	lines  chan []byte
	done   chan struct{}
	once   sync.Once
	closer io.Closer
	err    error
}

func NewLineCapturer(r io.Reader) *LineCapturer {
	c := &LineCapturer{
		lines: make(chan []byte),
		done:  make(chan struct{}),
	}
	if closer, ok := r.(io.Closer); ok {
		c.closer = closer
	}
	go c.read(r)
	return c
}

func (c *LineCapturer) read(r io.Reader) {
	defer close(c.lines)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		payload := make([]byte, len(line))
		copy(payload, line)

		select {
		case c.lines <- payload:
		case <-c.done:
			return
		}
	}

	c.err = sc.Err()
	if c.err == nil {
		c.err = io.EOF
	}
}

// CaptureOnce returns the next line. Blank lines count as nothing recognised.
// After the input ends it returns io.EOF, or the read error.
func (c *LineCapturer) CaptureOnce(ctx context.Context) ([]byte, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			return nil, c.err
		}
		if len(line) == 0 {
			return nil, nil
		}
		return line, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *LineCapturer) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if c.closer != nil {
			err = c.closer.Close()
		}
	})
	return err
}

// ConsoleDisplay prints results for the gate operator.
type ConsoleDisplay struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleDisplay(w io.Writer) *ConsoleDisplay {
	return &ConsoleDisplay{w: w}
}

func (d *ConsoleDisplay) Show(attempt models.ScanAttempt) {
	res := attempt.Result
	if res == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	line := fmt.Sprintf("%s  %-7s  %s", attempt.Timestamp.Format("15:04:05"), res.Outcome, res.Message)
	if res.TicketID != "" {
		line += fmt.Sprintf("  [%s %s]", res.TicketID, res.TicketClass)
	}
	fmt.Fprintln(d.w, line)
}
