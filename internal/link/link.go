// Package link serves the line-oriented steering command protocol spoken by
// the vehicle's high-level controller over a UART.
//
// Each command is one line; each gets exactly one reply line:
//
//	A<deg>    steer to deg degrees          -> ACK
//	R<ticks>  write the compare register    -> ACK
//	?         report position               -> A<deg> R<ticks>
//
// Anything else is answered with "ERR <reason>".
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"

	"servod/internal/servo"
)

const (
	replyACK = "ACK"
	// Commands longer than this are garbage from a baud mismatch.
	maxLineBytes = 256
)

type Controller interface {
	SetAngle(deg float64) servo.Snapshot
	SetRaw(ticks uint32) servo.Snapshot
	Snapshot() servo.Snapshot
}

type Link struct {
	ctl Controller
}

func New(ctl Controller) *Link {
	return &Link{ctl: ctl}
}

// Handle executes one command line and returns the reply without a newline.
func (l *Link) Handle(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return "ERR empty command"
	}
	arg := line[1:]
	switch line[0] {
	case 'A':
		deg, err := strconv.ParseFloat(arg, 64)
		if err != nil || math.IsNaN(deg) || math.IsInf(deg, 0) {
			return fmt.Sprintf("ERR bad angle %q", arg)
		}
		l.ctl.SetAngle(deg)
		return replyACK
	case 'R':
		ticks, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return fmt.Sprintf("ERR bad ticks %q", arg)
		}
		l.ctl.SetRaw(uint32(ticks))
		return replyACK
	case '?':
		if arg != "" {
			return "ERR unexpected argument"
		}
		snap := l.ctl.Snapshot()
		return fmt.Sprintf("A%s R%d", strconv.FormatFloat(snap.AngleDeg, 'f', -1, 64), snap.CompareTicks)
	}
	return fmt.Sprintf("ERR unknown command %q", line[:1])
}

// Serve answers commands read from rw until EOF or ctx is canceled. If rw is
// an io.Closer it is closed on cancellation to unblock the pending read.
func (l *Link) Serve(ctx context.Context, rw io.ReadWriter) error {
	if c, ok := rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	sc := bufio.NewScanner(rw)
	sc.Buffer(make([]byte, 0, maxLineBytes), maxLineBytes)
	w := bufio.NewWriter(rw)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		reply := l.Handle(sc.Text())
		if strings.HasPrefix(reply, "ERR") {
			log.Printf("link: %q: %s", sc.Text(), reply)
		}
		if _, err := w.WriteString(reply + "\n"); err != nil {
			return fmt.Errorf("link: write reply: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("link: write reply: %w", err)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("link: command longer than %d bytes", maxLineBytes)
		}
		return fmt.Errorf("link: read: %w", err)
	}
	return nil
}
