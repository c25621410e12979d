// Package tail follows an append-only IDS log and yields newly written alerts.
package tail

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"mini-siem/pkg/events"
	"mini-siem/pkg/logger"
	"mini-siem/pkg/parser"
)

// ErrSourceUnavailable is returned by Start when the log cannot be opened.
var ErrSourceUnavailable = errors.New("tail: source unavailable")

const (
	readBufSize = 64 * 1024
	// maxPartial bounds an unterminated trailing line; beyond it the bytes are dropped.
	maxPartial = 1 << 20
	// maxSkipLogs bounds debug logging of unparseable lines per read.
	maxSkipLogs = 5
)

// Reader keeps a byte offset into the log. Everything before the offset has been consumed.
// A Reader is not safe for concurrent use.
type Reader struct {
	path   string
	parser *parser.Parser
	f      *os.File
	info   os.FileInfo
	offset int64

	lines   atomic.Int64
	skipped atomic.Int64
	resets  atomic.Int64
}

// New returns a reader for path. A nil parser uses the default grammar order.
func New(path string, p *parser.Parser) *Reader {
	if p == nil {
		p = parser.New()
	}
	return &Reader{path: path, parser: p}
}

// Path returns the followed path.
func (r *Reader) Path() string { return r.path }

// Offset returns the current read position.
func (r *Reader) Offset() int64 { return r.offset }

// Start opens the log and positions the offset at its current end, so history
// present before startup is never replayed.
func (r *Reader) Start() error {
	if r.f != nil {
		return nil
	}
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if info.IsDir() {
		f.Close()
		return fmt.Errorf("%w: %s is a directory", ErrSourceUnavailable, r.path)
	}
	r.f, r.info, r.offset = f, info, info.Size()
	logger.Info("tail: following %s from offset %d", r.path, r.offset)
	return nil
}

// ReadNew returns alerts parsed from bytes appended since the last call, in log order.
//
// Truncation (size below the offset) restarts from 0. If the path now names a
// different file (rotation), the old handle is drained first and the new file
// is read from 0. A missing path yields an empty batch. An unterminated last
// line stays unread until its newline arrives.
func (r *Reader) ReadNew(ctx context.Context) ([]events.Alert, error) {
	if r.f == nil {
		if err := r.reopen(); err != nil {
			return nil, nil
		}
	}

	var out []events.Alert
	if cur, err := os.Stat(r.path); err == nil && !os.SameFile(cur, r.info) {
		drained, err := r.readFrom(ctx, r.f)
		out = append(out, drained...)
		if err != nil {
			return out, err
		}
		r.f.Close()
		r.f = nil
		if err := r.reopen(); err != nil {
			return out, nil
		}
		logger.Info("tail: %s rotated, reading new file from start", r.path)
	}

	more, err := r.readFrom(ctx, r.f)
	return append(out, more...), err
}

// reopen opens the path anew at offset 0.
func (r *Reader) reopen() error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.f, r.info, r.offset = f, info, 0
	r.resets.Add(1)
	return nil
}

func (r *Reader) readFrom(ctx context.Context, f *os.File) ([]events.Alert, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("tail: stat %s: %w", r.path, err)
	}
	size := info.Size()
	if size < r.offset {
		logger.Warn("tail: %s shrank from %d to %d bytes, restarting at 0", r.path, r.offset, size)
		r.offset = 0
		r.resets.Add(1)
	}
	if size == r.offset {
		return nil, nil
	}

	br := bufio.NewReaderSize(io.NewSectionReader(f, r.offset, size-r.offset), readBufSize)
	var out []events.Alert
	var consumed int64
	logged := 0
	for {
		if err := ctx.Err(); err != nil {
			r.offset += consumed
			return out, err
		}
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			consumed += int64(len(line))
			r.lines.Add(1)
			if a, ok := r.parser.Parse(string(bytes.TrimRight(line, "\r\n"))); ok {
				out = append(out, a)
			} else if len(bytes.TrimSpace(line)) > 0 {
				r.skipped.Add(1)
				if logged < maxSkipLogs {
					logger.Debug("tail: skipping unparseable line at offset %d", r.offset+consumed-int64(len(line)))
					logged++
				}
			}
		} else if len(line) > maxPartial {
			consumed += int64(len(line))
			r.skipped.Add(1)
			logger.Warn("tail: dropping %d-byte unterminated line in %s", len(line), r.path)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			r.offset += consumed
			return out, fmt.Errorf("tail: read %s: %w", r.path, err)
		}
	}
	r.offset += consumed
	return out, nil
}

// Counters reports lines read, lines that parsed to nothing, and offset resets.
func (r *Reader) Counters() (lines, skipped, resets int64) {
	return r.lines.Load(), r.skipped.Load(), r.resets.Load()
}

// Close releases the file handle.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
