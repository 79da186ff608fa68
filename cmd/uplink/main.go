package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/uplink/cmd/uplink/collector"
	"github.com/temoto/uplink/cmd/uplink/spool"
	"github.com/temoto/uplink/cmd/uplink/subcmd"
	"github.com/temoto/uplink/cmd/uplink/upload"
	"github.com/temoto/uplink/internal/config"
	"github.com/temoto/uplink/log2"
)

const defaultCommand = "upload"

var modules = []subcmd.Mod{
	upload.Mod,
	collector.Mod,
	spool.Mod,
}

func main() {
	flagConfig := flag.String("config", "uplink.hcl", "")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-config uplink.hcl] [command]\n", os.Args[0])
		flag.PrintDefaults()
		subcmd.Usage(flag.CommandLine.Output(), modules)
	}
	flag.Parse()

	log := log2.NewStderr(log2.LDebug)
	log.SetFlags(log2.FlagsFor(os.Stderr))
	if subcmd.SdNotify("start") {
		// under systemd, journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
	}

	command := flag.Arg(0)
	if command == "" {
		command = defaultCommand
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	cfg := config.MustRead(log, config.NewOsFullReader(), *flagConfig)
	if cfg.Log.File != "" {
		flags := log2.LServiceFlags | log2.Lmicroseconds
		log = log2.NewRotating(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.Keep, log2.LDebug)
		log.SetFlags(flags)
	}
	if !cfg.Log.Debug {
		log.SetLevel(log2.LInfo)
	}
	log.SetPrefix(mod.Name + " ")
	log.Debugf("config=%+v", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infof("signal=%v stopping", sig)
		subcmd.SdNotify("STOPPING=1")
		cancel()
	}()

	if err := mod.Main(ctx, cfg); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
