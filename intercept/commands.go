package intercept

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Windscribe/goproxy-intercept/console"
)

// Commands exposes the interceptor and its queue on the console.
func Commands(i *Interceptor, editor Editor) console.Plugin {
	c := &commands{i: i, q: i.Queue(), editor: editor}
	return console.PluginFunc("intercept", c.load)
}

type commands struct {
	i      *Interceptor
	q      *Queue
	editor Editor
}

func (c *commands) load(r *console.Registry) error {
	ids := c.idCompleter(false)
	idsOrAll := c.idCompleter(true)

	r.Register("intercept", c.intercept,
		withWords("req", "rsp", "off"),
		console.WithHelp("intercept [req] [rsp] | off\nShow or set which directions are intercepted."))
	r.Register("filter", c.filter,
		withWords(FilterKinds...),
		console.WithHelp("filter <kind> <args>...\nOnly intercept messages matching every filter.\n"+
			"Kinds: host <regexp>, method <method>..., path <prefix>, url <regexp>,\n"+
			"header <name> [<regexp>], json <path> [<value>], not <filter>."))
	r.Register("filters", c.filters, console.WithHelp("filters\nList interception filters."))
	r.Register("clearfilters", c.clearFilters, console.WithHelp("clearfilters\nRemove all interception filters."))
	r.Register("pending", c.pending, console.WithHelp("pending\nList intercepted exchanges waiting for a decision."))
	r.Register("show", c.show, console.WithCompleter(ids),
		console.WithHelp("show <id>\nPrint the message of an intercepted exchange."))
	r.Register("edit", c.edit, console.WithCompleter(ids),
		console.WithHelp("edit <id>\nEdit the message of an intercepted exchange in $EDITOR."))
	r.Register("release", c.release, console.WithCompleter(idsOrAll),
		console.WithHelp("release <id>... | all\nLet intercepted exchanges continue."))
	r.Register("drop", c.drop, console.WithCompleter(idsOrAll),
		console.WithHelp("drop <id>... | all\nAbort intercepted exchanges, the client gets a 502."))
	r.Register("wait", c.wait, console.WithCompleter(ids),
		console.WithHelp("wait [id]\nBlock until an exchange is intercepted, or until <id> is released or dropped."))
	r.Register("getjson", c.getJSON, console.WithCompleter(ids),
		console.WithHelp("getjson <id> <path>\nPrint a field of a JSON body."))
	r.Register("setjson", c.setJSON, console.WithCompleter(ids),
		console.WithHelp("setjson <id> <path> <value>\nSet a field of a JSON body."))

	for alias, canonical := range map[string]string{
		"ic":      "intercept",
		"f":       "filter",
		"fls":     "filters",
		"fclr":    "clearfilters",
		"lsq":     "pending",
		"sq":      "show",
		"e":       "edit",
		"fw":      "release",
		"forward": "release",
		"d":       "drop",
	} {
		if err := r.AddAlias(canonical, alias); err != nil {
			return err
		}
	}
	return nil
}

// withWords completes the first argument from a fixed list.
func withWords(words ...string) console.Option {
	return console.WithCompleter(func(text, line string, begin, end int) []string {
		var out []string
		for _, w := range words {
			if strings.HasPrefix(w, text) {
				out = append(out, w)
			}
		}
		return out
	})
}

func (c *commands) idCompleter(all bool) console.CompleterFunc {
	return func(text, line string, begin, end int) []string {
		var out []string
		for _, id := range c.q.PendingIDs() {
			if s := strconv.Itoa(id); strings.HasPrefix(s, text) {
				out = append(out, s)
			}
		}
		if all && strings.HasPrefix("all", text) {
			out = append(out, "all")
		}
		return out
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (c *commands) intercept(ctx context.Context, out io.Writer, args string) error {
	fields := strings.Fields(args)
	if len(fields) > 0 {
		var req, rsp bool
		for _, f := range fields {
			switch f {
			case "req", "request", "requests":
				req = true
			case "rsp", "resp", "response", "responses":
				rsp = true
			case "off":
			default:
				return fmt.Errorf("unknown direction %q, use req, rsp or off", f)
			}
		}
		c.i.SetDirections(req, rsp)
	}
	req, rsp := c.i.Directions()
	_, err := fmt.Fprintf(out, "requests: %s, responses: %s\n", onOff(req), onOff(rsp))
	return err
}

func (c *commands) filter(ctx context.Context, out io.Writer, args string) error {
	words, err := console.SplitArgs(args)
	if err != nil {
		return err
	}
	f, err := ParseFilter(words)
	if err != nil {
		return err
	}
	c.i.AddFilter(f)
	_, err = fmt.Fprintf(out, "filter added: %s\n", f)
	return err
}

func (c *commands) filters(ctx context.Context, out io.Writer, args string) error {
	filters := c.i.Filters()
	if len(filters) == 0 {
		_, err := fmt.Fprintln(out, "no filters, everything is intercepted")
		return err
	}
	for n, f := range filters {
		fmt.Fprintf(out, "%d. %s\n", n+1, f)
	}
	return nil
}

func (c *commands) clearFilters(ctx context.Context, out io.Writer, args string) error {
	c.i.ClearFilters()
	return nil
}

func (c *commands) pending(ctx context.Context, out io.Writer, args string) error {
	list := c.q.List()
	if len(list) == 0 {
		_, err := fmt.Fprintln(out, "queue is empty")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDIRECTION\tSTATE\tMETHOD\tURL\tAGE")
	for _, x := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			x.ID, x.Direction, x.State, x.Method, x.URL, time.Since(x.Created).Truncate(time.Second))
	}
	return tw.Flush()
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad exchange id %q", s)
	}
	return id, nil
}

// oneID reads the leading id of args and returns the remaining words.
func oneID(args string, min int) (int, []string, error) {
	words, err := console.SplitArgs(args)
	if err != nil {
		return 0, nil, err
	}
	if len(words) < min {
		return 0, nil, fmt.Errorf("%d argument(s) expected", min)
	}
	id, err := parseID(words[0])
	return id, words[1:], err
}

func (c *commands) ids(args string) ([]int, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return nil, fmt.Errorf("exchange id expected")
	}
	if len(fields) == 1 && fields[0] == "all" {
		return c.q.PendingIDs(), nil
	}
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := parseID(f)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *commands) show(ctx context.Context, out io.Writer, args string) error {
	id, _, err := oneID(args, 1)
	if err != nil {
		return err
	}
	x, err := c.q.Get(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %d %s %s\n", x.ID, x.Direction, x.State)
	_, err = out.Write(x.Content)
	if len(x.Content) > 0 && x.Content[len(x.Content)-1] != '\n' {
		fmt.Fprintln(out)
	}
	return err
}

func (c *commands) edit(ctx context.Context, out io.Writer, args string) error {
	id, _, err := oneID(args, 1)
	if err != nil {
		return err
	}
	x, err := c.q.BeginEdit(id)
	if err != nil {
		return err
	}
	edited, err := c.editor.Edit(ctx, x.Content)
	if err != nil {
		return err
	}
	if !bytes.Equal(edited, x.Content) {
		edited = normalizeFor(x, edited)
	}
	if err := c.q.Update(id, edited); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "exchange %d updated\n", id)
	return err
}

func (c *commands) release(ctx context.Context, out io.Writer, args string) error {
	ids, err := c.ids(args)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := c.q.Release(id, nil); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "released %d\n", id)
	}
	return errors.Join(errs...)
}

func (c *commands) drop(ctx context.Context, out io.Writer, args string) error {
	ids, err := c.ids(args)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := c.q.Drop(id, nil); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "dropped %d\n", id)
	}
	return errors.Join(errs...)
}

func (c *commands) wait(ctx context.Context, out io.Writer, args string) error {
	if strings.TrimSpace(args) == "" {
		x, err := c.q.Next(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%d %s %s %s\n", x.ID, x.Direction, x.Method, x.URL)
		return err
	}
	id, _, err := oneID(args, 1)
	if err != nil {
		return err
	}
	state, err := c.q.Await(ctx, id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%d %s\n", id, state)
	return err
}

func (c *commands) getJSON(ctx context.Context, out io.Writer, args string) error {
	id, rest, err := oneID(args, 2)
	if err != nil {
		return err
	}
	x, err := c.q.Get(id)
	if err != nil {
		return err
	}
	v, err := GetJSON(x.Content, rest[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, v)
	return err
}

func (c *commands) setJSON(ctx context.Context, out io.Writer, args string) error {
	id, rest, err := oneID(args, 3)
	if err != nil {
		return err
	}
	x, err := c.q.Get(id)
	if err != nil {
		return err
	}
	content, err := SetJSON(x.Content, rest[0], strings.Join(rest[1:], " "))
	if err != nil {
		return err
	}
	return c.q.Update(id, content)
}
