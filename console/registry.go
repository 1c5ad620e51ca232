package console

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/Windscribe/goproxy-intercept"
)

// HandlerFunc runs a command. args is the raw remainder of the line after the
// command name, with leading whitespace removed. Output goes to out.
type HandlerFunc func(ctx context.Context, out io.Writer, args string) error

// CompleterFunc proposes candidates for text, the word under the cursor.
// line is the whole input and [begin,end) the position of text in it.
// It must not block.
type CompleterFunc func(text, line string, begin, end int) []string

type Command struct {
	Name      string
	Handler   HandlerFunc
	Completer CompleterFunc
	Help      string
}

type Option func(*Command)

func WithCompleter(c CompleterFunc) Option {
	return func(cmd *Command) {
		cmd.Completer = c
	}
}

func WithHelp(help string) Option {
	return func(cmd *Command) {
		cmd.Help = help
	}
}

// Registry binds command names to handlers and aliases to command names.
// Aliases resolve in a single hop.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	aliases  map[string]string
	logger   goproxy.Logger
}

func NewRegistry(logger goproxy.Logger) *Registry {
	if logger == nil {
		logger = goproxy.NopLogger{}
	}
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
		logger:   logger,
	}
}

// Register binds name to h. An existing binding is overridden, and an alias
// with the same name is removed so the new command stays reachable.
func (r *Registry) Register(name string, h HandlerFunc, opts ...Option) {
	if name == "" || strings.ContainsAny(name, " \t\r\n") || h == nil {
		r.logger.Errorf(0, "Refusing to register command %q", name)
		return
	}
	cmd := &Command{Name: name, Handler: h}
	for _, opt := range opts {
		opt(cmd)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; ok {
		r.logger.Warnf(0, "Command %q registered again, overriding previous handler", name)
	}
	if target, ok := r.aliases[name]; ok {
		r.logger.Warnf(0, "Command %q replaces alias for %q", name, target)
		delete(r.aliases, name)
	}
	r.commands[name] = cmd
}

// AddAlias makes alias resolve to canonical, which must be a registered command.
func (r *Registry) AddAlias(canonical, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.aliases[canonical]; ok {
		return fmt.Errorf("%w: %q is itself an alias", ErrAliasConflict, canonical)
	}
	if _, ok := r.commands[canonical]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, canonical)
	}
	if alias == "" || strings.ContainsAny(alias, " \t\r\n") {
		return fmt.Errorf("%w: invalid alias %q", ErrAliasConflict, alias)
	}
	if _, ok := r.commands[alias]; ok {
		return fmt.Errorf("%w: %q is a command", ErrAliasConflict, alias)
	}
	if target, ok := r.aliases[alias]; ok {
		return fmt.Errorf("%w: %q already aliases %q", ErrAliasConflict, alias, target)
	}
	r.aliases[alias] = canonical
	return nil
}

// Resolve returns the canonical name for an alias, name otherwise.
func (r *Registry) Resolve(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(name)
}

func (r *Registry) resolve(name string) string {
	if canonical, ok := r.aliases[name]; ok {
		return canonical
	}
	return name
}

func (r *Registry) Lookup(name string) (*Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[r.resolve(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return cmd, nil
}

// Complete asks the completer of name (or of its alias target) for candidates.
func (r *Registry) Complete(name, text, line string, begin, end int) []string {
	cmd, err := r.Lookup(name)
	if err != nil || cmd.Completer == nil {
		return []string{}
	}
	return cmd.Completer(text, line, begin, end)
}

// Help returns the help text of name, or a placeholder.
func (r *Registry) Help(name string) string {
	cmd, err := r.Lookup(name)
	if err != nil || cmd.Help == "" {
		return "no help for " + name
	}
	return cmd.Help
}

// Names lists every command and alias, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands)+len(r.aliases))
	for name := range r.commands {
		names = append(names, name)
	}
	for alias := range r.aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}

// Commands lists the registered commands sorted by name.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Aliases lists the aliases of canonical, sorted.
func (r *Registry) Aliases(canonical string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var aliases []string
	for alias, target := range r.aliases {
		if target == canonical {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	return aliases
}

// CompleteLine completes the word ending at pos. The first word completes
// against command names, later ones against the command's completer.
// It returns the candidates and the word they replace.
func (r *Registry) CompleteLine(line string, pos int) (candidates []string, text string) {
	if pos > len(line) {
		pos = len(line)
	}
	head := line[:pos]
	begin := strings.LastIndexAny(head, " \t") + 1
	text = head[begin:]

	if strings.TrimSpace(head[:begin]) == "" {
		for _, name := range r.Names() {
			if strings.HasPrefix(name, text) {
				candidates = append(candidates, name)
			}
		}
		return candidates, text
	}

	name, _ := SplitLine(head)
	for _, c := range r.Complete(name, text, line, begin, pos) {
		if strings.HasPrefix(c, text) {
			candidates = append(candidates, c)
		}
	}
	return candidates, text
}
