// Package collector runs UDP receiver, the server side of upload.
package collector

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/uplink/cmd/uplink/subcmd"
	"github.com/temoto/uplink/internal/collector"
	"github.com/temoto/uplink/internal/config"
	"github.com/temoto/uplink/log2"
)

var Mod = subcmd.Mod{Name: "collector", Help: "receive and log upload datagrams", Main: Main}

func Main(ctx context.Context, c *config.Config) error {
	log := log2.ContextValueLogger(ctx)
	col, err := collector.Listen(c.Collector.Listen, collector.Options{
		Log:        log,
		BufferSize: c.Collector.BufferSize,
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer col.Stop()

	subcmd.SdNotify(daemon.SdNotifyReady)
	return col.Serve(ctx)
}
