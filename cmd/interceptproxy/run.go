package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/console"
	"github.com/Windscribe/goproxy-intercept/internal/config"
	"github.com/Windscribe/goproxy-intercept/internal/logging"
	"github.com/Windscribe/goproxy-intercept/internal/remote"
)

const shutdownTimeout = 5 * time.Second

// idleReader stands in for the terminal when running headless.
type idleReader struct {
	done chan struct{}
}

func (r *idleReader) Readline() (string, error) {
	<-r.done
	return "", io.EOF
}

func (r *idleReader) Close() error {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	return nil
}

func run(ctx context.Context, cfg config.Config, headless bool) error {
	logger, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := newApp(cfg, logger, editorFor(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		reader console.LineReader = &idleReader{done: make(chan struct{})}
		out    io.Writer          = os.Stdout
	)
	if !headless {
		rl, err := console.NewReadline(a.registry, "intercept> ", cfg.HistoryFile)
		if err != nil {
			return err
		}
		reader, out = rl, rl.Stdout()
	}
	con := console.New(a.dispatcher, reader, out, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 4)
	var servers []*http.Server

	serve := func(name, addr string, h http.Handler) error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		srv := &http.Server{Handler: h, ReadHeaderTimeout: 30 * time.Second}
		servers = append(servers, srv)
		logger.Infof(0, "%s listening on %s", name, ln.Addr())
		go func() {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
		return nil
	}

	if cfg.Listen != "" {
		if err := serve("Proxy", cfg.Listen, a.proxy); err != nil {
			return err
		}
	}
	if cfg.TransparentListen != "" {
		ln, err := listenTransparent(cfg.TransparentListen, cfg.TProxy)
		if err != nil {
			return err
		}
		defer ln.Close()
		logger.Infof(0, "Transparent proxy listening on %s", ln.Addr())
		go func() {
			if err := a.proxy.ServeTransparent(ln); !errors.Is(err, net.ErrClosed) {
				errs <- err
			}
		}()
	}
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		if err := serve("Metrics", cfg.MetricsListen, mux); err != nil {
			return err
		}
	}
	if cfg.RemoteListen != "" {
		if cfg.RemoteToken == "" {
			logger.Warnf(0, "Remote console on %s has no token", cfg.RemoteListen)
		}
		if err := serve("Remote console", cfg.RemoteListen, remote.New(con, a.queue, cfg.RemoteToken, logger).Handler()); err != nil {
			return err
		}
	}

	consoleDone := make(chan error, 1)
	go func() { consoleDone <- con.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Infof(0, "Shutting down")
	case err = <-consoleDone:
	case err = <-errs:
	}
	cancel()
	shutdown(servers, a, logger)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// shutdown closes the queue first, handlers parked on it would otherwise
// hold the servers open until the timeout.
func shutdown(servers []*http.Server, a *app, logger goproxy.Logger) {
	a.queue.Close()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warnf(0, "Shutdown: %v", err)
		}
	}
}
