package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"servod/internal/pwm"
	"servod/internal/servo"
)

func newTestLink(t *testing.T) (*Link, *pwm.Sim) {
	t.Helper()
	sim := pwm.NewSim(pwm.DefaultScale)
	svc := servo.NewService(servo.MustNew(servo.DefaultTable), servo.ServiceConfig{})
	if err := svc.Start(sim); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return New(svc), sim
}

func TestHandle(t *testing.T) {
	l, sim := newTestLink(t)

	cases := []struct {
		line    string
		reply   string
		compare uint32
	}{
		{"A-0.5", "ACK", 4750},
		{"?", "A-0.5 R4750", 4750},
		{"A40\r", "ACK", 7350},
		{"?", "A36 R7350", 7350},
		{"R5123", "ACK", 5123},
		{"A+1", "ACK", 4900},
		{"Anan", `ERR bad angle "nan"`, 4900},
		{"AInf", `ERR bad angle "Inf"`, 4900},
		{"A", `ERR bad angle ""`, 4900},
		{"R-1", `ERR bad ticks "-1"`, 4900},
		{"R4294967296", `ERR bad ticks "4294967296"`, 4900},
		{"?x", "ERR unexpected argument", 4900},
		{"X12", `ERR unknown command "X"`, 4900},
		{"  ", "ERR empty command", 4900},
	}
	for _, tc := range cases {
		if got := l.Handle(tc.line); got != tc.reply {
			t.Fatalf("Handle(%q)=%q want %q", tc.line, got, tc.reply)
		}
		if sim.Compare() != tc.compare {
			t.Fatalf("after %q compare=%d want %d", tc.line, sim.Compare(), tc.compare)
		}
	}
}

type rw struct {
	in  io.Reader
	out bytes.Buffer
}

func (r *rw) Read(p []byte) (int, error)  { return r.in.Read(p) }
func (r *rw) Write(p []byte) (int, error) { return r.out.Write(p) }

func TestServe_RepliesPerLine(t *testing.T) {
	l, sim := newTestLink(t)
	conn := &rw{in: strings.NewReader("A10\n\nR6000\nbogus\n?\n")}

	if err := l.Serve(context.Background(), conn); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	want := "ACK\nACK\nERR unknown command \"b\"\nA10 R6000\n"
	if got := conn.out.String(); got != want {
		t.Fatalf("replies=%q want %q", got, want)
	}
	if sim.Compare() != 6000 {
		t.Fatalf("compare=%d", sim.Compare())
	}
}

func TestServe_LineTooLong(t *testing.T) {
	l, _ := newTestLink(t)
	conn := &rw{in: strings.NewReader(strings.Repeat("A", maxLineBytes+1) + "\n")}
	err := l.Serve(context.Background(), conn)
	if err == nil || !strings.Contains(err.Error(), "longer than") {
		t.Fatalf("err=%v", err)
	}
}

// pipeConn reads from a pipe so Serve blocks until Close.
type pipeConn struct {
	*io.PipeReader
	io.Writer
}

func TestServe_CancelClosesConn(t *testing.T) {
	l, _ := newTestLink(t)
	pr, pw := io.Pipe()
	defer pw.Close()
	conn := &pipeConn{PipeReader: pr, Writer: io.Discard}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, conn) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
