// Package export forwards detections and block-list changes to files, stderr, a remote collector and NATS.
package export

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mini-siem/pkg/events"
	"mini-siem/pkg/logger"
)

// Record kinds.
const (
	KindDetection = "detection"
	KindBlock     = "block"
	KindUnblock   = "unblock"
)

// Record is one exported line.
type Record struct {
	Kind      string          `json:"kind"`
	Sensor    string          `json:"sensor"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher delivers an encoded Record somewhere other than the local sinks.
type Publisher interface {
	Publish(ctx context.Context, kind string, line []byte) error
}

// Exporter writes records to file, stderr and any publishers. All sinks are optional;
// an Exporter with none is a no-op.
type Exporter struct {
	mu         sync.Mutex
	f          *os.File
	stderr     io.Writer
	publishers []Publisher
	sensor     string
	wg         sync.WaitGroup
	now        func() time.Time

	// ctx is cancelled by Close once the flush grace period runs out.
	ctx     context.Context
	cancel  context.CancelFunc
	flushIn time.Duration
}

// Options configures file, stderr, publishers and sensor identity.
type Options struct {
	FilePath   string
	Stderr     bool
	Publishers []Publisher
	Sensor     string
	// FlushTimeout bounds how long Close waits for in-flight publishes before
	// cancelling them. Default 5s.
	FlushTimeout time.Duration
}

// New creates an exporter from options.
func New(opts Options) (*Exporter, error) {
	e := &Exporter{publishers: opts.Publishers, sensor: opts.Sensor, now: time.Now, flushIn: opts.FlushTimeout}
	if e.flushIn <= 0 {
		e.flushIn = 5 * time.Second
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	if e.sensor == "" {
		e.sensor, _ = os.Hostname()
	}
	if opts.Stderr {
		e.stderr = os.Stderr
	}
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		e.f = f
	}
	return e, nil
}

// Enabled reports whether any sink is configured.
func (e *Exporter) Enabled() bool {
	return e != nil && (e.f != nil || e.stderr != nil || len(e.publishers) > 0)
}

// Detection exports one persisted detection.
func (e *Exporter) Detection(d events.Detection) error {
	return e.write(KindDetection, d)
}

// BlockChange exports a block (blocked=true) or unblock of ip.
func (e *Exporter) BlockChange(b events.BlockedIP, blocked bool) error {
	kind := KindUnblock
	if blocked {
		kind = KindBlock
	}
	return e.write(kind, b)
}

func (e *Exporter) write(kind string, v interface{}) error {
	if !e.Enabled() {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line, err := json.Marshal(Record{Kind: kind, Sensor: e.sensor, Timestamp: e.now().UTC(), Payload: payload})
	if err != nil {
		return err
	}
	lineNL := append(line, '\n')
	e.mu.Lock()
	if e.f != nil {
		_, _ = e.f.Write(lineNL)
	}
	if e.stderr != nil {
		_, _ = e.stderr.Write(lineNL)
	}
	e.mu.Unlock()
	for _, p := range e.publishers {
		p := p
		e.wg.Add(1)
		// Publishers may retry for a while; keep the pipeline moving.
		go func() {
			defer e.wg.Done()
			if err := p.Publish(e.ctx, kind, line); err != nil {
				logger.Warn("export: publish %s: %v", kind, err)
			}
		}()
	}
	return nil
}

// Close waits up to the flush timeout for in-flight publishes, cancels whatever is
// still retrying, then flushes and closes the export file.
func (e *Exporter) Close() error {
	if e == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	t := time.NewTimer(e.flushIn)
	select {
	case <-done:
		t.Stop()
	case <-t.C:
		logger.Warn("export: publishes still pending after %s, cancelling", e.flushIn)
		e.cancel()
		<-done
	}
	e.cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f != nil {
		_ = e.f.Sync()
		err := e.f.Close()
		e.f = nil
		return err
	}
	return nil
}
