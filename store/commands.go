package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/tidwall/gjson"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/console"
)

const defaultHistory = 20

// Commands exposes the recorded history on the console.
func Commands(s *Store, rec *Recorder, logger goproxy.Logger) console.Plugin {
	c := &commands{store: s, rec: rec, logger: logger}
	return console.PluginFunc("history", c.load)
}

type commands struct {
	store  *Store
	rec    *Recorder
	logger goproxy.Logger
}

func (c *commands) load(r *console.Registry) error {
	r.Register("history", c.history,
		console.WithHelp("history [n]\nList the last n recorded requests, 20 by default."))
	r.Register("view", c.view,
		console.WithHelp("view <id>\nPrint a recorded request and its response. Any unique id prefix works."))
	r.Register("meta", c.meta,
		console.WithHelp("meta <id> <plugin> [field=value]...\nShow or set the metadata a plugin keeps on a request."))
	r.Register("export", c.export,
		console.WithHelp("export <file> [n]\nWrite the last n recorded requests, 100 by default, as a HAR file."))
	r.Register("record", c.record,
		console.WithHelp("record [on|off]\nShow or toggle recording of proxied requests."))

	for alias, canonical := range map[string]string{"hist": "history", "ls": "history", "vr": "view"} {
		if err := r.AddAlias(canonical, alias); err != nil {
			return err
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (c *commands) history(ctx context.Context, out io.Writer, args string) error {
	n := defaultHistory
	if s := strings.TrimSpace(args); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return fmt.Errorf("bad count %q", s)
		}
		n = v
	}
	list, err := c.store.Recent(ctx, n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tMETHOD\tSTATUS\tURL")
	for _, req := range list {
		status := strconv.Itoa(req.StatusCode)
		if req.Error != "" {
			status = "error"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			shortID(req.ID), req.CreatedAt.Format("15:04:05"), req.Method, status, req.URL)
	}
	return tw.Flush()
}

func (c *commands) view(ctx context.Context, out io.Writer, args string) error {
	req, err := c.store.Get(ctx, strings.TrimSpace(args))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s %s\n", req.ID, req.CreatedAt.Format("2006-01-02 15:04:05"))
	out.Write(req.Raw)
	fmt.Fprintln(out)
	if req.Error != "" {
		_, err = fmt.Fprintf(out, "# error: %s\n", req.Error)
		return err
	}
	_, err = out.Write(req.Response)
	return err
}

// metaValue reads JSON values as such, anything else as a string.
func metaValue(s string) any {
	if gjson.Valid(s) {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}

func (c *commands) meta(ctx context.Context, out io.Writer, args string) error {
	words, err := console.SplitArgs(args)
	if err != nil {
		return err
	}
	if len(words) < 2 {
		return fmt.Errorf("usage: meta <id> <plugin> [field=value]...")
	}
	req, err := c.store.Get(ctx, words[0])
	if err != nil {
		return err
	}
	dict := req.PluginDict(words[1])

	if sets := words[2:]; len(sets) > 0 {
		for _, kv := range sets {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("expected field=value, got %q", kv)
			}
			dict[k] = metaValue(v)
		}
		return c.store.Save(ctx, req)
	}

	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := json.Marshal(dict[k])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s=%s\n", k, v)
	}
	return nil
}

func (c *commands) export(ctx context.Context, out io.Writer, args string) error {
	words, err := console.SplitArgs(args)
	if err != nil {
		return err
	}
	if len(words) == 0 || len(words) > 2 {
		return fmt.Errorf("usage: export <file> [n]")
	}
	n := 100
	if len(words) == 2 {
		if n, err = strconv.Atoi(words[1]); err != nil || n <= 0 {
			return fmt.Errorf("bad count %q", words[1])
		}
	}

	f, err := os.Create(words[0])
	if err != nil {
		return err
	}
	written, err := c.store.ExportHAR(ctx, f, n, c.logger)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%d entries written to %s\n", written, words[0])
	return err
}

func (c *commands) record(ctx context.Context, out io.Writer, args string) error {
	switch strings.TrimSpace(args) {
	case "":
	case "on":
		c.rec.SetEnabled(true)
	case "off":
		c.rec.SetEnabled(false)
	default:
		return fmt.Errorf("usage: record [on|off]")
	}
	state := "off"
	if c.rec.Enabled() {
		state = "on"
	}
	_, err := fmt.Fprintf(out, "recording %s\n", state)
	return err
}
