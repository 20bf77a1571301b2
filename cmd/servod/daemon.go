package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"golang.org/x/sync/errgroup"

	"servod/internal/config"
	"servod/internal/link"
	"servod/internal/pwm"
	"servod/internal/servo"
	"servod/internal/web"
)

type daemon struct {
	cfg  config.Config
	logs *web.LogBuffer
	svc  *servo.Service
}

var (
	openBackendFn = pwm.Open
	serveWebFn    = web.Serve
	openLinkFn    = func(path string, baud int) (io.ReadWriteCloser, error) {
		return link.OpenSerial(path, baud)
	}
)

func newDaemon(cfg config.Config, logs *web.LogBuffer) (*daemon, error) {
	backend, err := openBackendFn(cfg.PWMBackend())
	if err != nil {
		return nil, err
	}
	conv, err := servo.New(servo.DefaultTable)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	svc := servo.NewService(conv, cfg.ServiceConfig())
	if err := svc.Start(backend); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("start %s: %w", backend.Name(), err)
	}
	return &daemon{cfg: cfg, logs: logs, svc: svc}, nil
}

// Run serves the enabled front ends until ctx is canceled or one of them
// fails. A canceled ctx is a clean stop.
func (d *daemon) Run(ctx context.Context) error {
	var port io.ReadWriteCloser
	if d.cfg.Link.Enable {
		p, err := openLinkFn(d.cfg.Link.Device, d.cfg.Link.Baud)
		if err != nil {
			return err
		}
		port = p
		defer port.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	if d.cfg.Web.Enable != nil && *d.cfg.Web.Enable {
		log.Printf("web listening on %s", d.cfg.Web.Listen)
		g.Go(func() error {
			return serveWebFn(gctx, d.cfg.Web.Listen, d.svc, d.logs)
		})
	}
	if port != nil {
		log.Printf("link serving %s at %d baud", d.cfg.Link.Device, d.cfg.Link.Baud)
		g.Go(func() error {
			return link.New(d.svc).Serve(gctx, port)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *daemon) Close() {
	if err := d.svc.Close(); err != nil {
		log.Printf("servo close: %v", err)
	}
}
