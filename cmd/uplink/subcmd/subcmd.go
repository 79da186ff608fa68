// Sub-commands of uplink application.
package subcmd

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/uplink/internal/config"
)

type Mod struct {
	Name string
	Help string
	Main func(context.Context, *config.Config) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

func Usage(w io.Writer, modules []Mod) {
	fmt.Fprintf(w, "commands:\n")
	for _, m := range modules {
		fmt.Fprintf(w, "  %-12s %s\n", m.Name, m.Help)
	}
}

// SdNotify returns true when running under systemd.
func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
