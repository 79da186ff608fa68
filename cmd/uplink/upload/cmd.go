// Package upload runs identity, link wait, connect and periodic chunk upload.
package upload

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/uplink/cmd/uplink/subcmd"
	"github.com/temoto/uplink/internal/chunk"
	"github.com/temoto/uplink/internal/config"
	"github.com/temoto/uplink/internal/heartbeat"
	"github.com/temoto/uplink/internal/identity"
	"github.com/temoto/uplink/internal/link"
	"github.com/temoto/uplink/internal/message"
	"github.com/temoto/uplink/internal/transport"
	"github.com/temoto/uplink/internal/uplink"
	"github.com/temoto/uplink/log2"
)

var Mod = subcmd.Mod{Name: "upload", Help: "send spooled chunks to collector every interval", Main: Main}

func Main(ctx context.Context, c *config.Config) error {
	log := log2.ContextValueLogger(ctx)
	if err := c.Validate(); err != nil {
		return errors.Annotate(err, "upload")
	}

	idp := &identity.Provider{
		Log:           log,
		VersionPrefix: c.Uplink.VersionPrefix,
		ProjectKey:    c.Uplink.ProjectKey,
		Serial:        c.Identity.Serial,
		PersistRoot:   c.Identity.PersistRoot,
	}
	id, err := idp.Load()
	if err != nil {
		return errors.Annotate(err, "identity")
	}

	stat := heartbeat.NewStat()
	if err = waitLink(ctx, log, c, stat); err != nil {
		return err
	}

	conn, err := transport.Connect(ctx, c.Peer(), transport.Options{
		Log:            log,
		NetworkTimeout: c.NetworkTimeout(),
	})
	if err != nil {
		return errors.Annotate(err, "transport")
	}
	defer func() {
		log.Infof("transport stat=%s", conn.Stat().String())
		_ = conn.Close()
	}()

	buf, err := message.Build(c.Uplink.BufferSize, id.Sections()...)
	if err != nil {
		return errors.Annotate(err, "message buffer")
	}
	log.Infof("message %s", buf.String())

	spool, err := chunk.OpenSpool(c.Spool.Path, log)
	if err != nil {
		return err
	}
	defer spool.Close()

	reporter := &heartbeat.Reporter{
		Log:     log,
		Stat:    stat,
		Sink:    spool,
		Every:   c.Uplink.HeartbeatEvery,
		MaxSize: buf.ChunkSection().Capacity,
	}
	u, err := uplink.NewUploader(buf, uplink.Options{
		Log:    log,
		Source: spool,
		Sender: conn,
		Stat:   stat,
	})
	if err != nil {
		return errors.Annotate(err, "uploader")
	}

	sched := uplink.NewScheduler(c.Interval(), log)
	sched.OnOutcome = func(uplink.Outcome) { reporter.Tick() }
	go func() {
		<-ctx.Done()
		sched.Stop()
	}()

	subcmd.SdNotify(daemon.SdNotifyReady)
	log.Infof("upload %s every %v", conn.String(), c.Interval())
	return sched.Run(ctx, u)
}

// waitLink blocks until link is up and records time to connect.
func waitLink(ctx context.Context, log *log2.Log, c *config.Config, stat *heartbeat.Stat) error {
	ready := link.NewReady()
	wctx, cancel := ctx, context.CancelFunc(func() {})
	if t := c.LinkTimeout(); t > 0 {
		wctx, cancel = context.WithTimeout(ctx, t)
	}
	defer cancel()

	m := &link.Monitor{Log: log, Interface: c.Link.Interface}
	go m.Watch(wctx, ready)
	subcmd.SdNotify("waiting for link")
	tbegin := time.Now()
	if err := ready.Wait(wctx); err != nil {
		return errors.Annotate(err, "upload")
	}
	d := time.Since(tbegin)
	stat.LinkTimeToConnect(d)
	log.Infof("link connected, time to connect: %d ms", d.Milliseconds())
	return nil
}
