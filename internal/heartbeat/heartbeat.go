// Package heartbeat accumulates upload cycle metrics between heartbeats.
// Snapshot is printed each cycle at debug level and periodically
// spooled as regular chunk so the collector sees uploader health.
package heartbeat

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/uplink/log2"
)

// Magic prefix distinguishes heartbeat chunks from foreign telemetry.
var Magic = []byte("HB1")

const maxTrackedDuration = int64(time.Hour / time.Microsecond)

// Stat methods are nil-safe and concurrency-safe.
type Stat struct {
	mu          sync.Mutex
	seq         uint64
	cycles      uint64
	sent        uint64
	sentBytes   uint64
	empty       uint64
	unavailable uint64
	failed      uint64
	tooSmall    uint64
	linkConnect time.Duration
	hist        *hdrhistogram.Histogram
}

func NewStat() *Stat {
	return &Stat{hist: hdrhistogram.New(1, maxTrackedDuration, 3)}
}

func (s *Stat) Sent(n int) {
	s.with(func() { s.sent++; s.sentBytes += uint64(n) })
}
func (s *Stat) Empty()       { s.with(func() { s.empty++ }) }
func (s *Stat) Unavailable() { s.with(func() { s.unavailable++ }) }
func (s *Stat) Failed()      { s.with(func() { s.failed++ }) }
func (s *Stat) TooSmall()    { s.with(func() { s.tooSmall++ }) }

// LinkTimeToConnect records how long the link took to come up,
// reported in every heartbeat, Take does not reset it.
func (s *Stat) LinkTimeToConnect(d time.Duration) {
	s.with(func() { s.linkConnect = d })
}

// Cycle counts finished cycle and its duration.
func (s *Stat) Cycle(d time.Duration) {
	s.with(func() {
		s.cycles++
		us := int64(d / time.Microsecond)
		if us < 1 {
			us = 1
		}
		if us > maxTrackedDuration {
			us = maxTrackedDuration
		}
		_ = s.hist.RecordValue(us)
	})
}

func (s *Stat) with(f func()) {
	if s == nil {
		return
	}
	s.mu.Lock()
	f()
	s.mu.Unlock()
}

type Record struct {
	Seq         uint64
	Cycles      uint64
	Sent        uint64
	SentBytes   uint64
	Empty       uint64
	Unavailable uint64
	Failed      uint64
	TooSmall    uint64
	P50         time.Duration
	Max         time.Duration
	// LinkTimeToConnect has millisecond resolution on the wire.
	LinkTimeToConnect time.Duration
}

func (r Record) String() string {
	return fmt.Sprintf("heartbeat seq=%d cycles=%d sent=%d bytes=%d empty=%d unavailable=%d failed=%d too_small=%d p50=%v max=%v link_connect=%v",
		r.Seq, r.Cycles, r.Sent, r.SentBytes, r.Empty, r.Unavailable, r.Failed, r.TooSmall, r.P50, r.Max, r.LinkTimeToConnect)
}

func (s *Stat) Snapshot() Record {
	var r Record
	s.with(func() { r = s.locked_snapshot() })
	return r
}

// Take returns snapshot and resets counters, sequence keeps growing.
func (s *Stat) Take() Record {
	var r Record
	s.with(func() {
		s.seq++
		r = s.locked_snapshot()
		s.cycles, s.sent, s.sentBytes = 0, 0, 0
		s.empty, s.unavailable, s.failed, s.tooSmall = 0, 0, 0, 0
		s.hist.Reset()
	})
	return r
}

func (s *Stat) locked_snapshot() Record {
	return Record{
		Seq:         s.seq,
		Cycles:      s.cycles,
		Sent:        s.sent,
		SentBytes:   s.sentBytes,
		Empty:       s.empty,
		Unavailable: s.unavailable,
		Failed:      s.failed,
		TooSmall:    s.tooSmall,
		P50:         time.Duration(s.hist.ValueAtQuantile(50)) * time.Microsecond,
		Max:         time.Duration(s.hist.Max()) * time.Microsecond,

		LinkTimeToConnect: s.linkConnect.Truncate(time.Millisecond),
	}
}

func (s *Stat) DebugPrint(log *log2.Log) {
	if s == nil || !log.Enabled(log2.LDebug) {
		return
	}
	log.Debugf("%s", s.Snapshot().String())
}

func (r Record) fields() []*uint64 {
	p50 := uint64(r.P50 / time.Microsecond)
	max := uint64(r.Max / time.Microsecond)
	linkMs := uint64(r.LinkTimeToConnect / time.Millisecond)
	return []*uint64{&r.Seq, &r.Cycles, &r.Sent, &r.SentBytes, &r.Empty, &r.Unavailable, &r.Failed, &r.TooSmall, &p50, &max, &linkMs}
}

// Marshal encodes magic followed by varint fields.
func (r Record) Marshal() ([]byte, error) {
	buf := proto.NewBuffer(make([]byte, 0, 64))
	if err := buf.EncodeRawBytes(Magic); err != nil {
		return nil, err
	}
	for _, f := range r.fields() {
		if err := buf.EncodeVarint(*f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func Unmarshal(b []byte) (Record, error) {
	var r Record
	buf := proto.NewBuffer(b)
	magic, err := buf.DecodeRawBytes(false)
	if err != nil {
		return r, errors.Annotate(err, "heartbeat magic")
	}
	if !bytes.Equal(magic, Magic) {
		return r, errors.NotValidf("heartbeat magic=%x", magic)
	}
	var v [11]uint64
	for i := range v {
		if v[i], err = buf.DecodeVarint(); err != nil {
			return r, errors.Annotatef(err, "heartbeat field=%d", i)
		}
	}
	r = Record{
		Seq: v[0], Cycles: v[1], Sent: v[2], SentBytes: v[3],
		Empty: v[4], Unavailable: v[5], Failed: v[6], TooSmall: v[7],
		P50: time.Duration(v[8]) * time.Microsecond,
		Max: time.Duration(v[9]) * time.Microsecond,

		LinkTimeToConnect: time.Duration(v[10]) * time.Millisecond,
	}
	return r, nil
}

// Pusher is chunk spool sink.
type Pusher interface {
	Push([]byte) error
}

// Reporter pushes heartbeat every Every cycles.
// Spooled chunk larger than the datagram chunk region would be split
// and could not be decoded by collector, so such heartbeat is only logged.
type Reporter struct {
	Log   *log2.Log
	Stat  *Stat
	Sink  Pusher
	Every int
	// MaxSize is chunk region capacity, 0 means unlimited.
	MaxSize int

	count int
}

// Tick is called after each cycle, returns true when heartbeat was spooled.
func (r *Reporter) Tick() bool {
	if r.Every <= 0 || r.Sink == nil {
		return false
	}
	r.count++
	if r.count < r.Every {
		return false
	}
	r.count = 0
	rec := r.Stat.Take()
	b, err := rec.Marshal()
	if err == nil && r.MaxSize > 0 && len(b) > r.MaxSize {
		r.Log.Errorf("heartbeat len=%d exceeds chunk region=%d, not spooled: %s", len(b), r.MaxSize, rec.String())
		return false
	}
	if err == nil {
		err = r.Sink.Push(b)
	}
	if err != nil {
		r.Log.Errorf("heartbeat push err=%v", err)
		return false
	}
	r.Log.Debugf("heartbeat spooled %s", rec.String())
	return true
}
