package tail

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const line1 = "06/15-10:30:45.123456 [**] [1:1000001:1] Potential SSH Brute Force [**] [Classification: Attempted Administrator Privilege Gain] [Priority: 1] {TCP} 203.0.113.7:51234 -> 10.0.0.1:22\n"
const line2 = "06/15-10:30:50.000001 [**] [1:1000002:1] Port Scanning Detected [**] [Classification: Attempted Information Leak] [Priority: 2] {TCP} 203.0.113.7:40000 -> 10.0.0.1:80\n"

func appendTo(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(s); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

func TestStart_MissingSource(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "nope.log"), nil)
	err := r.Start()
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestReadNew_FreshEmptySource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alert_fast.log")
	appendTo(t, path, "")
	r := New(path, nil)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()

	appendTo(t, path, line1)
	got, err := r.ReadNew(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Signature != "Potential SSH Brute Force" {
		t.Fatalf("got %+v, want the one appended alert", got)
	}

	got, err = r.ReadNew(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("second read returned %d alerts, want 0", len(got))
	}
}

func TestStart_SkipsExistingHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alert_fast.log")
	appendTo(t, path, line1+line1)
	r := New(path, nil)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Offset() != int64(2*len(line1)) {
		t.Errorf("offset = %d, want end of file", r.Offset())
	}
	got, _ := r.ReadNew(context.Background())
	if len(got) != 0 {
		t.Errorf("history replayed: %d alerts", len(got))
	}
}

func TestReadNew_OrderAndGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alert_fast.log")
	appendTo(t, path, "")
	r := New(path, nil)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	appendTo(t, path, line1+"not an alert\n\n"+line2)
	got, err := r.ReadNew(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d alerts, want 2", len(got))
	}
	if got[0].Signature != "Potential SSH Brute Force" || got[1].Signature != "Port Scanning Detected" {
		t.Errorf("out of order: %s, %s", got[0].Signature, got[1].Signature)
	}
	lines, skipped, _ := r.Counters()
	if lines != 4 || skipped != 1 {
		t.Errorf("counters lines=%d skipped=%d, want 4 and 1", lines, skipped)
	}
}

func TestReadNew_PartialLineWaitsForNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alert_fast.log")
	appendTo(t, path, "")
	r := New(path, nil)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()

	half := len(line1) / 2
	appendTo(t, path, line1[:half])
	got, _ := r.ReadNew(ctx)
	if len(got) != 0 || r.Offset() != 0 {
		t.Fatalf("partial line consumed: %d alerts, offset %d", len(got), r.Offset())
	}
	appendTo(t, path, line1[half:])
	got, _ = r.ReadNew(ctx)
	if len(got) != 1 {
		t.Fatalf("got %d alerts after completing line, want 1", len(got))
	}
}

func TestReadNew_TruncationResetsOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alert_fast.log")
	appendTo(t, path, line1+line1+line1)
	r := New(path, nil)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	appendTo(t, path, line2)
	got, err := r.ReadNew(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Signature != "Port Scanning Detected" {
		t.Fatalf("got %+v after truncation", got)
	}
	if r.Offset() != int64(len(line2)) {
		t.Errorf("offset = %d, want %d", r.Offset(), len(line2))
	}
}

func TestReadNew_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alert_fast.log")
	appendTo(t, path, "")
	r := New(path, nil)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	appendTo(t, path, line1)
	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatal(err)
	}
	// Missing path: nothing lost, nothing returned yet beyond the old handle.
	got, err := r.ReadNew(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d alerts from rotated-away file, want 1", len(got))
	}

	appendTo(t, path, line2)
	got, err = r.ReadNew(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Signature != "Port Scanning Detected" {
		t.Fatalf("got %+v from new file", got)
	}
}

func TestReadNew_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alert_fast.log")
	appendTo(t, path, "")
	r := New(path, nil)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	appendTo(t, path, line1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ReadNew(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	got, err := r.ReadNew(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("line lost after cancellation: %d alerts, err %v", len(got), err)
	}
}
