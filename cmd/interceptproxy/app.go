package main

import (
	"crypto/tls"
	"os"
	"strings"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/console"
	"github.com/Windscribe/goproxy-intercept/ext/auth"
	"github.com/Windscribe/goproxy-intercept/ext/limitation"
	"github.com/Windscribe/goproxy-intercept/intercept"
	"github.com/Windscribe/goproxy-intercept/internal/config"
	"github.com/Windscribe/goproxy-intercept/internal/metrics"
	"github.com/Windscribe/goproxy-intercept/plugin/lua"
	"github.com/Windscribe/goproxy-intercept/store"
)

const realm = "interceptproxy"

// app is everything but the listeners and the console loop.
type app struct {
	cfg         config.Config
	logger      goproxy.Logger
	proxy       *goproxy.ProxyHttpServer
	queue       *intercept.Queue
	interceptor *intercept.Interceptor
	store       *store.Store
	recorder    *store.Recorder
	metrics     *metrics.Metrics
	registry    *console.Registry
	dispatcher  *console.Dispatcher
	loaded      []string
}

func newApp(cfg config.Config, logger goproxy.Logger, editor intercept.Editor) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	opt := goproxy.DefaultOptions()
	opt.Logger = logger
	opt.KeepProxyHeaders = cfg.KeepProxyHeaders
	opt.KeepAlive.Period = cfg.KeepAlivePeriod
	if cfg.ErrorPages {
		opt.ErrorPages = goproxy.DefaultErrorPages()
	}
	if cfg.DNSServer != "" {
		opt.Resolver = goproxy.NewDNSResolver(cfg.DNSServer, cfg.DNSTimeout)
	}
	var ca tls.Certificate
	if cfg.MITM {
		var err error
		if ca, err = loadCA(cfg, logger); err != nil {
			return nil, err
		}
		opt.TLSTerminator = goproxy.NewCertTerminator(ca, cfg.CertTTL)
		opt.NonProxyHandler = caHandler(ca, opt.NonProxyHandler)
	}
	a.proxy = goproxy.NewProxyHttpServer(opt)

	// order matters: rejected clients never reach the queue, and the
	// recorder sees what the operator released
	if user, passwd, ok := cfg.Credentials(); ok {
		check := auth.Credentials(user, passwd)
		a.proxy.OnRequest().Do(auth.Basic(realm, check))
		a.proxy.OnRequest().HandleConnect(auth.BasicConnect(realm, check))
	}
	if cfg.MaxConcurrent > 0 {
		a.proxy.OnRequest().Do(limitation.ConcurrentRequests(cfg.MaxConcurrent))
	}
	if cfg.MITM {
		a.proxy.OnRequest().HandleConnect(goproxy.AlwaysMitm)
	}

	qopts := []intercept.QueueOption{intercept.WithObserver(a.metrics), intercept.WithLogger(logger)}
	if cfg.Timeout > 0 {
		action, err := intercept.ParseTimeoutAction(cfg.TimeoutAction)
		if err != nil {
			return nil, err
		}
		qopts = append(qopts, intercept.WithTimeout(cfg.Timeout, action))
	}
	a.queue = intercept.NewQueue(qopts...)
	a.interceptor = intercept.NewInterceptor(a.queue)
	a.interceptor.SetDirections(cfg.InterceptRequests, cfg.InterceptResponses)
	a.interceptor.Install(a.proxy)

	if cfg.DataFile != "" {
		var err error
		if a.store, err = store.Open(cfg.DataFile, logger); err != nil {
			a.queue.Close()
			return nil, err
		}
		a.recorder = store.NewRecorder(a.store)
		a.recorder.SetEnabled(cfg.Record)
		a.recorder.Install(a.proxy)
	}
	a.metrics.Install(a.proxy)

	a.registry = console.NewRegistry(logger)
	a.dispatcher = console.NewDispatcher(a.registry, logger, console.WithObserver(a.metrics))
	plugins := []console.Plugin{console.Builtins(), intercept.Commands(a.interceptor, editor)}
	if a.store != nil {
		plugins = append(plugins, store.Commands(a.store, a.recorder, logger))
	}
	scripts, err := lua.Dir(cfg.PluginDir, a.queue, logger)
	if err != nil {
		logger.Warnf(0, "Cannot list plugins in %s: %v", cfg.PluginDir, err)
	}
	a.loaded = console.LoadPlugins(a.registry, logger, append(plugins, scripts...)...)
	logger.Infof(0, "Loaded plugins: %s", strings.Join(a.loaded, ", "))
	return a, nil
}

func editorFor(cfg config.Config) intercept.Editor {
	if cfg.Editor == "" {
		return intercept.DefaultEditor()
	}
	return &intercept.ExternalEditor{Command: cfg.Editor, Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Close drops what is still pending and releases the history database.
func (a *app) Close() error {
	a.queue.Close()
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
