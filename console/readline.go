package console

import (
	"github.com/chzyer/readline"
)

// NewReadline returns a line editor completing from r, keeping history in historyFile
// when it is not empty.
func NewReadline(r *Registry, prompt, historyFile string) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    &autoCompleter{registry: r},
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

type autoCompleter struct {
	registry *Registry
}

// Do returns the suffixes completing the word left of pos.
func (a *autoCompleter) Do(line []rune, pos int) ([][]rune, int) {
	head := string(line[:pos])
	candidates, text := a.registry.CompleteLine(head, len(head))
	out := make([][]rune, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, []rune(c[len(text):]+" "))
	}
	return out, len([]rune(text))
}
