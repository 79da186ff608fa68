// Package uplink composes identity prelude with telemetry chunks
// and sends one datagram per scheduled cycle.
package uplink

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/uplink/internal/chunk"
	"github.com/temoto/uplink/internal/heartbeat"
	"github.com/temoto/uplink/internal/message"
	"github.com/temoto/uplink/log2"
)

// Sender makes single send attempt, no retries.
type Sender interface {
	Send([]byte) (int, error)
}

// Uploader owns message buffer. Cycle may be called from any goroutine,
// calls are serialized so chunk region and socket have single writer.
type Uploader struct {
	mu     sync.Mutex
	log    *log2.Log
	buf    *message.Buffer
	source chunk.Source
	sender Sender
	stat   *heartbeat.Stat
}

type Options struct {
	Log    *log2.Log
	Source chunk.Source
	Sender Sender
	// Stat is optional.
	Stat *heartbeat.Stat
}

func NewUploader(buf *message.Buffer, opt Options) (*Uploader, error) {
	if buf == nil {
		return nil, errors.NotValidf("uploader buffer=nil")
	}
	if opt.Source == nil {
		return nil, errors.NotValidf("uploader source=nil")
	}
	if opt.Sender == nil {
		return nil, errors.NotValidf("uploader sender=nil")
	}
	return &Uploader{
		log:    opt.Log,
		buf:    buf,
		source: opt.Source,
		sender: opt.Sender,
		stat:   opt.Stat,
	}, nil
}

// Cycle runs request -> compose -> transmit once. Errors never propagate,
// they are reported in Outcome and log.
func (u *Uploader) Cycle(ctx context.Context) Outcome {
	u.mu.Lock()
	defer u.mu.Unlock()
	tbegin := time.Now()
	u.stat.DebugPrint(u.log)

	o := u.cycle()
	u.stat.Cycle(time.Since(tbegin))
	return o
}

func (u *Uploader) cycle() Outcome {
	region := u.buf.ChunkRegion()
	n, err := u.source.TryGetChunk(region)
	switch status := chunk.Classify(n, err); status {
	case chunk.StatusEmpty:
		u.log.Debugf("no chunks to upload")
		u.stat.Empty()
		return Outcome{Kind: OutcomeNoData, Source: status}

	case chunk.StatusUnavailable:
		u.log.Infof("no chunks to upload, source unavailable err=%v", err)
		u.stat.Unavailable()
		return Outcome{Kind: OutcomeNoData, Source: status, Err: err}
	}

	datagram, err := u.buf.Datagram(n)
	if err != nil {
		section, _ := message.IsBufferTooSmall(err)
		u.log.Errorf("chunk source overrun n=%d region=%d err=%v", n, len(region), err)
		u.stat.TooSmall()
		return Outcome{Kind: OutcomeBufferTooSmall, Section: section}
	}

	u.log.Debugf("transmit prelude=%d chunk=%d total=%d", u.buf.PreludeLen(), n, len(datagram))
	sent, err := u.sender.Send(datagram)
	if err != nil {
		u.log.Errorf("transmit len=%d err=%v", len(datagram), err)
		u.stat.Failed()
		return Outcome{Kind: OutcomeTransmitFailed, Err: err}
	}
	u.stat.Sent(sent)
	return Outcome{Kind: OutcomeSent, Size: sent}
}

func (u *Uploader) Buffer() *message.Buffer { return u.buf }
