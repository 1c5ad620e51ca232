package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Windscribe/goproxy-intercept/internal/config"
)

type flags struct {
	listen      string
	transparent string
	pluginDir   string
	dataFile    string
	requests    bool
	responses   bool
	headless    bool
	verbose     bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "interceptproxy",
		Short: "HTTP/HTTPS proxy that suspends traffic for inspection and editing",
		Long: `interceptproxy forwards HTTP and HTTPS traffic and can hold requests and
responses until an operator releases, edits or drops them from the console.

Settings are read from INTERCEPT_* environment variables, flags override them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			f.apply(cmd.Flags(), &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			// Ctrl-C belongs to the console while it runs
			sigs := []os.Signal{syscall.SIGTERM}
			if f.headless {
				sigs = append(sigs, os.Interrupt)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), sigs...)
			defer stop()
			return run(ctx, cfg, f.headless)
		},
	}
	f.register(cmd.Flags())

	cmd.AddCommand(newCACmd())
	return cmd
}

func (f *flags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.listen, "listen", "l", "", "proxy listen address")
	fs.StringVar(&f.transparent, "transparent", "", "transparent proxy listen address")
	fs.StringVar(&f.pluginDir, "plugins", "", "directory of Lua console plugins")
	fs.StringVar(&f.dataFile, "data", "", "history database file")
	fs.BoolVar(&f.requests, "requests", false, "intercept requests from the start")
	fs.BoolVar(&f.responses, "responses", false, "intercept responses from the start")
	fs.BoolVar(&f.headless, "headless", false, "no local console, use the remote one")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
}

// apply overrides cfg with the flags given on the command line.
func (f *flags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	changed := fs.Changed
	if changed("listen") {
		cfg.Listen = f.listen
	}
	if changed("transparent") {
		cfg.TransparentListen = f.transparent
	}
	if changed("plugins") {
		cfg.PluginDir = f.pluginDir
	}
	if changed("data") {
		cfg.DataFile = f.dataFile
	}
	if changed("requests") {
		cfg.InterceptRequests = f.requests
	}
	if changed("responses") {
		cfg.InterceptResponses = f.responses
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	}
}
