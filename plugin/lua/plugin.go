// Package lua loads console commands written in Lua.
//
// Every script runs once when loaded and declares its commands with the
// register and alias globals. Handlers receive the raw argument string:
//
//	register("greet", function(args)
//	    print("hello " .. args)
//	end, nil, "greet <name>\nSay hello.")
//	alias("greet", "hi")
//
// Scripts also see the interception queue through pending(), content(id),
// release(id [, content]) and drop(id).
package lua

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	golua "github.com/Shopify/go-lua"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/console"
	"github.com/Windscribe/goproxy-intercept/intercept"
)

const (
	handlerKey   = "intercept.cmd:"
	completerKey = "intercept.complete:"

	hookInstructions = 1000
)

// Plugin is one Lua script. A Lua state is not safe for concurrent use, so
// every call into it holds mu.
type Plugin struct {
	path   string
	queue  *intercept.Queue
	logger goproxy.Logger

	mu       sync.Mutex
	state    *golua.State
	registry *console.Registry
	out      io.Writer
}

func New(path string, q *intercept.Queue, logger goproxy.Logger) *Plugin {
	return &Plugin{path: path, queue: q, logger: logger}
}

// Dir returns a plugin for every *.lua file of dir, in lexical order.
// A missing directory yields no plugins.
func Dir(dir string, q *intercept.Queue, logger goproxy.Logger) ([]console.Plugin, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".lua") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	plugins := make([]console.Plugin, 0, len(names))
	for _, name := range names {
		plugins = append(plugins, New(filepath.Join(dir, name), q, logger))
	}
	return plugins, nil
}

func (p *Plugin) Name() string {
	return filepath.Base(p.path)
}

// Load runs the script against r.
func (p *Plugin) Load(r *console.Registry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	l := golua.NewState()
	golua.OpenLibraries(l)
	p.state, p.registry = l, r

	l.Register("register", p.luaRegister)
	l.Register("alias", p.luaAlias)
	l.Register("print", p.luaPrint)
	l.Register("pending", p.luaPending)
	l.Register("content", p.luaContent)
	l.Register("release", p.luaRelease)
	l.Register("drop", p.luaDrop)

	if err := golua.LoadFile(l, p.path, ""); err != nil {
		return fmt.Errorf("load %s: %w", p.Name(), err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("run %s: %w", p.Name(), err)
	}
	return nil
}

func (p *Plugin) luaRegister(l *golua.State) int {
	name := golua.CheckString(l, 1)
	golua.CheckType(l, 2, golua.TypeFunction)
	l.PushValue(2)
	l.SetField(golua.RegistryIndex, handlerKey+name)

	opts := []console.Option{}
	if l.IsFunction(3) {
		l.PushValue(3)
		l.SetField(golua.RegistryIndex, completerKey+name)
		opts = append(opts, console.WithCompleter(p.completer(name)))
	}
	if help, ok := l.ToString(4); ok {
		opts = append(opts, console.WithHelp(help))
	}
	p.registry.Register(name, p.handler(name), opts...)
	return 0
}

func (p *Plugin) luaAlias(l *golua.State) int {
	canonical := golua.CheckString(l, 1)
	alias := golua.CheckString(l, 2)
	if err := p.registry.AddAlias(canonical, alias); err != nil {
		golua.Errorf(l, "%s", err.Error())
	}
	return 0
}

// luaPrint writes to the output of the running command, or to the log while loading.
func (p *Plugin) luaPrint(l *golua.State) int {
	n := l.Top()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		s, _ := golua.ToStringMeta(l, i)
		parts = append(parts, s)
		l.SetTop(n)
	}
	line := strings.Join(parts, "\t")
	if p.out == nil {
		p.logger.Infof(0, "%s: %s", p.Name(), line)
		return 0
	}
	fmt.Fprintln(p.out, line)
	return 0
}

func (p *Plugin) luaPending(l *golua.State) int {
	list := p.queue.List()
	l.CreateTable(len(list), 0)
	for n, x := range list {
		l.CreateTable(0, 5)
		l.PushInteger(x.ID)
		l.SetField(-2, "id")
		l.PushString(x.Direction.String())
		l.SetField(-2, "direction")
		l.PushString(x.State.String())
		l.SetField(-2, "state")
		l.PushString(x.Method)
		l.SetField(-2, "method")
		l.PushString(x.URL)
		l.SetField(-2, "url")
		l.RawSetInt(-2, n+1)
	}
	return 1
}

func (p *Plugin) luaContent(l *golua.State) int {
	x, err := p.queue.Get(golua.CheckInteger(l, 1))
	if err != nil {
		golua.Errorf(l, "%s", err.Error())
	}
	l.PushString(string(x.Content))
	return 1
}

func (p *Plugin) luaRelease(l *golua.State) int {
	id := golua.CheckInteger(l, 1)
	var content []byte
	if !l.IsNoneOrNil(2) {
		content = []byte(golua.CheckString(l, 2))
	}
	if err := p.queue.Release(id, content); err != nil {
		golua.Errorf(l, "%s", err.Error())
	}
	return 0
}

func (p *Plugin) luaDrop(l *golua.State) int {
	if err := p.queue.Drop(golua.CheckInteger(l, 1), nil); err != nil {
		golua.Errorf(l, "%s", err.Error())
	}
	return 0
}

func (p *Plugin) handler(name string) console.HandlerFunc {
	return func(ctx context.Context, out io.Writer, args string) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.out = out
		defer func() { p.out = nil }()

		l := p.state
		top := l.Top()
		defer l.SetTop(top)
		// a script that ignores cancellation is stopped between instructions
		golua.SetDebugHook(l, func(l *golua.State, _ golua.Debug) {
			if err := ctx.Err(); err != nil {
				golua.Errorf(l, "%s", err.Error())
			}
		}, golua.MaskCount, hookInstructions)
		defer golua.SetDebugHook(l, nil, 0, 0)

		l.Field(golua.RegistryIndex, handlerKey+name)
		l.PushString(args)
		if err := l.ProtectedCall(1, 0, 0); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return fmt.Errorf("%w: %v", cerr, err)
			}
			return err
		}
		return nil
	}
}

func (p *Plugin) completer(name string) console.CompleterFunc {
	return func(text, line string, begin, end int) []string {
		p.mu.Lock()
		defer p.mu.Unlock()

		l := p.state
		top := l.Top()
		defer l.SetTop(top)
		l.Field(golua.RegistryIndex, completerKey+name)
		l.PushString(text)
		l.PushString(line)
		l.PushInteger(begin)
		l.PushInteger(end)
		if err := l.ProtectedCall(4, 1, 0); err != nil {
			p.logger.Warnf(0, "Completer of %s failed: %v", name, err)
			return nil
		}
		if !l.IsTable(-1) {
			return nil
		}
		var out []string
		for i := 1; i <= l.RawLength(-1); i++ {
			l.RawGetInt(-1, i)
			if s, ok := l.ToString(-1); ok {
				out = append(out, s)
			}
			l.Pop(1)
		}
		return out
	}
}
