package export

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

const dialTimeout = 10 * time.Second

// RemoteOutput ships records to a collector, one JSON line per record. Protocols:
// tcp and tls stream the line over a fresh connection; http and https POST it.
type RemoteOutput struct {
	target        string // host:port for streams, full URL for http(s)
	sensor        string
	maxRetries    int
	retryInterval time.Duration
	deliver       func(ctx context.Context, kind string, body []byte) error
	client        *http.Client
}

// NewRemoteOutput creates a remote output. Unknown protocols fall back to tcp.
func NewRemoteOutput(address, protocol, httpEndpoint string, maxRetries, retryIntervalSec int, sensor string) *RemoteOutput {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if retryIntervalSec <= 0 {
		retryIntervalSec = 10
	}
	r := &RemoteOutput{
		target:        address,
		sensor:        sensor,
		maxRetries:    maxRetries,
		retryInterval: time.Duration(retryIntervalSec) * time.Second,
	}
	switch protocol {
	case "http", "https":
		r.target = protocol + "://" + address + httpEndpoint
		r.client = &http.Client{Timeout: 15 * time.Second}
		r.deliver = r.post
	case "tls":
		r.deliver = func(ctx context.Context, _ string, body []byte) error {
			return r.stream(ctx, body, &tls.Config{MinVersion: tls.VersionTLS12})
		}
	default:
		r.deliver = func(ctx context.Context, _ string, body []byte) error {
			return r.stream(ctx, body, nil)
		}
	}
	return r
}

// Publish delivers one record line. Failed attempts are retried every retry interval
// until maxRetries attempts are spent or ctx ends.
func (r *RemoteOutput) Publish(ctx context.Context, kind string, line []byte) error {
	body := make([]byte, 0, len(line)+1)
	body = append(append(body, line...), '\n')

	var err error
	for attempt := 1; ; attempt++ {
		if err = r.deliver(ctx, kind, body); err == nil {
			return nil
		}
		if attempt == r.maxRetries {
			return fmt.Errorf("remote %s: send after %d retries: %w", r.target, attempt, err)
		}
		wait := time.NewTimer(r.retryInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return fmt.Errorf("remote %s: %w (last error: %v)", r.target, ctx.Err(), err)
		case <-wait.C:
		}
	}
}

// stream opens a connection (TLS when cfg is set), writes body and closes.
func (r *RemoteOutput) stream(ctx context.Context, body []byte, cfg *tls.Config) error {
	nd := &net.Dialer{Timeout: dialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if cfg != nil {
		conn, err = (&tls.Dialer{NetDialer: nd, Config: cfg}).DialContext(ctx, "tcp", r.target)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", r.target)
	}
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()
	_, err = conn.Write(body)
	return err
}

type statusError struct{ status string }

func (e statusError) Error() string { return "collector answered " + e.status }

func (r *RemoteOutput) post(ctx context.Context, kind string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("X-Sensor", r.sensor)
	req.Header.Set("X-Record-Kind", kind)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError{resp.Status}
	}
	return nil
}
