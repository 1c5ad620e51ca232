package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Builtins provides help, alias, aliases and exit.
func Builtins() Plugin {
	return PluginFunc("builtins", loadBuiltins)
}

func loadBuiltins(r *Registry) error {
	r.Register("help", helpCommand(r),
		WithHelp("help [command]\nList commands, or show the help of one."),
		WithCompleter(commandNames(r)))
	r.Register("alias", aliasCommand(r),
		WithHelp("alias <command> <alias>\nAdd an alternate name for a command."),
		WithCompleter(commandNames(r)))
	r.Register("aliases", aliasesCommand(r), WithHelp("aliases\nList aliases."))
	r.Register("exit", func(ctx context.Context, out io.Writer, args string) error {
		return ErrExit
	}, WithHelp("exit\nLeave the console and stop the proxy."))

	for alias, canonical := range map[string]string{"h": "help", "?": "help", "q": "exit", "quit": "exit"} {
		if err := r.AddAlias(canonical, alias); err != nil {
			return err
		}
	}
	return nil
}

func commandNames(r *Registry) CompleterFunc {
	return func(text, line string, begin, end int) []string {
		var names []string
		for _, name := range r.Names() {
			if strings.HasPrefix(name, text) {
				names = append(names, name)
			}
		}
		return names
	}
}

func helpCommand(r *Registry) HandlerFunc {
	return func(ctx context.Context, out io.Writer, args string) error {
		if name, _ := SplitLine(args); name != "" {
			if _, err := r.Lookup(name); err != nil {
				return err
			}
			_, err := fmt.Fprintln(out, r.Help(name))
			return err
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COMMAND\tALIASES\tDESCRIPTION")
		for _, cmd := range r.Commands() {
			lines := strings.Split(cmd.Help, "\n")
			summary := lines[0]
			if len(lines) > 1 {
				summary = lines[1]
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", cmd.Name, strings.Join(r.Aliases(cmd.Name), ","), summary)
		}
		return tw.Flush()
	}
}

func aliasCommand(r *Registry) HandlerFunc {
	return func(ctx context.Context, out io.Writer, args string) error {
		fields := strings.Fields(args)
		if len(fields) != 2 {
			return fmt.Errorf("usage: alias <command> <alias>")
		}
		if err := r.AddAlias(fields[0], fields[1]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(out, "%s -> %s\n", fields[1], fields[0])
		return err
	}
}

func aliasesCommand(r *Registry) HandlerFunc {
	return func(ctx context.Context, out io.Writer, args string) error {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, cmd := range r.Commands() {
			for _, alias := range r.Aliases(cmd.Name) {
				fmt.Fprintf(tw, "%s\t%s\n", alias, cmd.Name)
			}
		}
		return tw.Flush()
	}
}
