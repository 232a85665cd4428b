package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Source identifies which stream a line was read from.
type Source int

const (
	// SourceStdout lines may carry protocol envelopes.
	SourceStdout Source = iota
	// SourceStderr lines are diagnostics and never parsed.
	SourceStderr
)

// String returns "stdout" or "stderr".
func (s Source) String() string {
	if s == SourceStderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one newline-delimited line read from a server stream, without
// its terminator.
type Line struct {
	Source Source
	Text   []byte
}

// StreamTransport owns the stdio handles of a server process. Two
// readers feed stdout and stderr lines into one unbounded queue; each
// stream is ordered internally but the two are not ordered relative to
// each other. Writes are serialized and flushed per message.
type StreamTransport struct {
	logger *slog.Logger

	writeMu sync.Mutex
	stdin   io.WriteCloser
	w       *bufio.Writer

	takeMu  sync.Mutex
	inbound *Inbound
}

// NewStreamTransport starts the stdout and stderr readers immediately.
// The inbound queue must be taken exactly once with [StreamTransport.Inbound].
func NewStreamTransport(stdin io.WriteCloser, stdout, stderr io.Reader, logger *slog.Logger) *StreamTransport {
	if logger == nil {
		logger = slog.Default()
	}
	q := newInbound(2)
	t := &StreamTransport{
		logger:  logger,
		stdin:   stdin,
		w:       bufio.NewWriter(stdin),
		inbound: q,
	}
	go t.readLines(stdout, SourceStdout, q)
	go t.readLines(stderr, SourceStderr, q)
	return t
}

// readLines splits r into lines and pushes each onto q. A final line
// without a trailing newline is still delivered.
func (t *StreamTransport) readLines(r io.Reader, src Source, q *Inbound) {
	defer q.closeWriter()

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			q.push(Line{Source: src, Text: line})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				t.logger.Debug("server stream read ended", "stream", src.String(), "error", err)
			}
			return
		}
	}
}

// Inbound moves the merged line queue out of the transport. It may be
// called once; a second call panics because the lines would otherwise
// be split between two consumers.
func (t *StreamTransport) Inbound() *Inbound {
	t.takeMu.Lock()
	defer t.takeMu.Unlock()
	if t.inbound == nil {
		panic("mcp: StreamTransport inbound queue already taken")
	}
	q := t.inbound
	t.inbound = nil
	return q
}

// Send writes v as compact JSON followed by a newline and flushes it.
func (t *StreamTransport) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(data); err != nil {
		return fmt.Errorf("write to server stdin: %w", err)
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("flush server stdin: %w", err)
	}
	return nil
}

// Close closes stdin, signalling the server to exit.
func (t *StreamTransport) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.stdin.Close()
}

// Inbound is an unbounded FIFO of lines fed by the transport readers.
type Inbound struct {
	mu      sync.Mutex
	items   []Line
	writers int
	ready   chan struct{} // signalled (non-blocking) on push and writer close
}

func newInbound(writers int) *Inbound {
	return &Inbound{
		writers: writers,
		ready:   make(chan struct{}, 1),
	}
}

func (q *Inbound) push(l Line) {
	q.mu.Lock()
	q.items = append(q.items, l)
	q.mu.Unlock()
	q.signal()
}

func (q *Inbound) closeWriter() {
	q.mu.Lock()
	q.writers--
	q.mu.Unlock()
	q.signal()
}

func (q *Inbound) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued line. It blocks until a line is
// available, both streams have ended (io.EOF), or ctx is done.
func (q *Inbound) Next(ctx context.Context) (Line, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			l := q.items[0]
			q.items[0] = Line{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return l, nil
		}
		done := q.writers <= 0
		q.mu.Unlock()
		if done {
			return Line{}, io.EOF
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Line{}, ctx.Err()
		}
	}
}
