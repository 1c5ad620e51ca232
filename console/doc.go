// Package console is the operator side of the proxy: a registry of named
// commands and aliases, a dispatcher running one command line at a time, and
// the interactive loop feeding it.
//
// Commands are contributed by plugins:
//
//	reg := console.NewRegistry(logger)
//	console.LoadPlugins(reg, logger, console.Builtins(), myPlugin)
//	c := console.New(console.NewDispatcher(reg, logger), rl, os.Stdout, logger)
//	err := c.Run(ctx)
package console
