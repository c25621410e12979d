package export

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-siem/pkg/events"
)

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordingPublisher) Publish(_ context.Context, kind string, _ []byte) error {
	p.mu.Lock()
	p.kinds = append(p.kinds, kind)
	p.mu.Unlock()
	return nil
}

func TestExporterWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "detections.jsonl")
	pub := &recordingPublisher{}
	e, err := New(Options{FilePath: path, Publishers: []Publisher{pub}, Sensor: "sensor-1"})
	require.NoError(t, err)
	require.True(t, e.Enabled())

	d := events.Detection{ID: 7, AttackType: events.AttackHighVolume, SrcIP: "203.0.113.9", AlertCount: 12, Severity: events.SeverityHigh}
	require.NoError(t, e.Detection(d))
	require.NoError(t, e.BlockChange(events.BlockedIP{IP: "203.0.113.9", Reason: "scan"}, true))
	require.NoError(t, e.BlockChange(events.BlockedIP{IP: "203.0.113.9"}, false))
	require.NoError(t, e.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var kinds []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		assert.Equal(t, "sensor-1", r.Sensor)
		kinds = append(kinds, r.Kind)
		if r.Kind == KindDetection {
			var got events.Detection
			require.NoError(t, json.Unmarshal(r.Payload, &got))
			assert.Equal(t, d.SrcIP, got.SrcIP)
			assert.Equal(t, 12, got.AlertCount)
		}
	}
	assert.Equal(t, []string{KindDetection, KindBlock, KindUnblock}, kinds)
	assert.ElementsMatch(t, kinds, pub.kinds)
}

func TestDisabledExporterIsNoop(t *testing.T) {
	e, err := New(Options{})
	require.NoError(t, err)
	assert.False(t, e.Enabled())
	assert.NoError(t, e.Detection(events.Detection{}))
	assert.NoError(t, e.Close())

	var nilExp *Exporter
	assert.NoError(t, nilExp.Detection(events.Detection{}))
	assert.NoError(t, nilExp.Close())
}

func TestRemoteOutputHTTP(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/ingest", r.URL.Path)
		assert.Equal(t, KindDetection, r.Header.Get("X-Record-Kind"))
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	r := NewRemoteOutput(addr, "http", "/ingest", 3, 1, "sensor-1")
	r.retryInterval = 10 * time.Millisecond
	require.NoError(t, r.Publish(context.Background(), KindDetection, []byte(`{"kind":"detection"}`)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"{\"kind\":\"detection\"}\n"}, bodies)
}

func TestRemoteOutputGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRemoteOutput(strings.TrimPrefix(srv.URL, "http://"), "http", "/", 2, 1, "s")
	r.retryInterval = time.Millisecond
	err := r.Publish(context.Background(), KindBlock, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
}

func TestNatsSubjects(t *testing.T) {
	n := NewNatsOutput(nil, "", "")
	assert.Equal(t, "siem.detections", n.Subject(KindDetection))
	assert.Equal(t, "siem.blocks", n.Subject(KindBlock))
	assert.Equal(t, "siem.blocks", n.Subject(KindUnblock))
}

type stuckPublisher struct {
	err chan error
}

func (p *stuckPublisher) Publish(ctx context.Context, _ string, _ []byte) error {
	<-ctx.Done()
	p.err <- ctx.Err()
	return ctx.Err()
}

func TestCloseCancelsPendingPublishes(t *testing.T) {
	p := &stuckPublisher{err: make(chan error, 1)}
	e, err := New(Options{Publishers: []Publisher{p}, Sensor: "s", FlushTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, e.Detection(events.Detection{SrcIP: "203.0.113.7"}))

	start := time.Now()
	require.NoError(t, e.Close())
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, <-p.err, context.Canceled)
}

func TestRemoteOutputStopsRetryingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewRemoteOutput(strings.TrimPrefix(srv.URL, "http://"), "http", "/", 10, 3600, "s")
	done := make(chan error, 1)
	go func() { done <- r.Publish(ctx, KindDetection, []byte(`{}`)) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Publish kept retrying after cancel")
	}
}

func TestRemoteOutputTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- line
	}()

	r := NewRemoteOutput(ln.Addr().String(), "tcp", "", 1, 1, "s")
	require.NoError(t, r.Publish(context.Background(), KindBlock, []byte(`{"kind":"block"}`)))
	assert.Equal(t, "{\"kind\":\"block\"}\n", <-got)
}
