package cli

import (
	"bufio"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// MainLoop runs interactive prompt on terminal, otherwise feeds exec
// with stdin lines until EOF.
func MainLoop(tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete,
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
		return nil
	}
	return FeedLines(bufio.NewScanner(os.Stdin), exec)
}

func FeedLines(s *bufio.Scanner, exec func(line string)) error {
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		exec(line)
	}
	return s.Err()
}

func NoComplete(prompt.Document) []prompt.Suggest { return nil }
