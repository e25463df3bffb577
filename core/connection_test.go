package core

import (
	"net"
	"testing"
	"time"
)

func TestConnectionCaptureReleaseExclusive(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := NewConnection(a, false)

	if !c.TryCapture() {
		t.Fatalf("expected first TryCapture to succeed")
	}
	if c.TryCapture() {
		t.Fatalf("expected second TryCapture to fail while held")
	}
	c.Release()
	if !c.TryCapture() {
		t.Fatalf("expected TryCapture to succeed again after release")
	}
	c.Release()
}

func TestConnectionPostponeRunsOnRelease(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := NewConnection(a, false)

	c.Capture()
	ran := make(chan struct{})
	c.Postpone(func() { close(ran) })

	select {
	case <-ran:
		t.Fatalf("postponed fn must not run before release")
	default:
	}

	c.Release()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatalf("postponed fn did not run after release")
	}
}

func TestConnectionStateTransitions(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := NewConnection(a, true)

	if c.State() != ConnHandshaking {
		t.Fatalf("expected initial state ConnHandshaking, got %v", c.State())
	}
	c.SetState(ConnReady)
	if c.State() != ConnReady {
		t.Fatalf("expected ConnReady, got %v", c.State())
	}
}

func TestConnectionTTLExpiry(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := NewConnection(a, false)

	c.Bump(time.Hour)
	if c.Expired() {
		t.Fatalf("expected fresh TTL to not be expired")
	}
	c.Bump(-time.Millisecond)
	if !c.Expired() {
		t.Fatalf("expected negative TTL bump to be expired")
	}
}

func TestConnectionReadMoreAndConsume(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := NewConnection(a, false)

	want := []byte("hello wire")
	go func() { _, _ = b.Write(want) }()

	got, err := c.ReadMore(len(want))
	if err != nil {
		t.Fatalf("ReadMore: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q want %q", got, want)
	}

	c.Consume(6)
	rest := c.snapshotBuf()
	if string(rest) != "wire" {
		t.Fatalf("expected remaining buffer %q, got %q", "wire", rest)
	}
}

func TestConnectionCloseIdempotent(t *testing.T) {
	a, _ := net.Pipe()
	c := NewConnection(a, false)
	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
	if c.State() != ConnClosed {
		t.Fatalf("expected ConnClosed after Close")
	}
}
