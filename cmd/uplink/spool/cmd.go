// Package spool pushes hex encoded chunks into upload spool, one per line.
package spool

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/uplink/cmd/uplink/subcmd"
	"github.com/temoto/uplink/helpers/cli"
	"github.com/temoto/uplink/internal/chunk"
	"github.com/temoto/uplink/internal/config"
	"github.com/temoto/uplink/log2"
)

const modName = "spool-push"

var Mod = subcmd.Mod{Name: modName, Help: "read hex chunks from prompt or stdin into spool", Main: Main}

func Main(ctx context.Context, c *config.Config) error {
	log := log2.ContextValueLogger(ctx)
	if c.Spool.Path == "" {
		return errors.NotValidf("config: spool.path=empty")
	}
	s, err := chunk.OpenSpool(c.Spool.Path, log)
	if err != nil {
		return err
	}
	defer s.Close()

	return cli.MainLoop(modName, newExecutor(log, s), newCompleter())
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "text:", Description: "push rest of line as is"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

type pusher interface {
	Push([]byte) error
}

func newExecutor(log *log2.Log, sink pusher) func(string) {
	return func(line string) {
		b, err := decodeLine(line)
		if err != nil {
			log.Errorf("line=%q err=%v", line, err)
			return
		}
		if err = sink.Push(b); err != nil {
			log.Error(errors.ErrorStack(err))
			return
		}
		log.Infof("pushed len=%d", len(b))
	}
}

func decodeLine(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "text:") {
		return []byte(line[len("text:"):]), nil
	}
	line = strings.Replace(line, " ", "", -1)
	if len(line)%2 == 1 {
		line = "0" + line
	}
	b, err := hex.DecodeString(line)
	if err != nil {
		return nil, errors.Annotate(err, "hex decode")
	}
	return b, nil
}
