package heartbeat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/log2"
)

func TestStatCounters(t *testing.T) {
	t.Parallel()
	s := NewStat()
	s.Sent(28)
	s.Sent(20)
	s.Empty()
	s.Unavailable()
	s.Failed()
	s.TooSmall()
	for i := 1; i <= 6; i++ {
		s.Cycle(time.Duration(i) * time.Millisecond)
	}
	r := s.Snapshot()
	assert.Equal(t, uint64(6), r.Cycles)
	assert.Equal(t, uint64(2), r.Sent)
	assert.Equal(t, uint64(48), r.SentBytes)
	assert.Equal(t, uint64(1), r.Empty)
	assert.Equal(t, uint64(1), r.Unavailable)
	assert.Equal(t, uint64(1), r.Failed)
	assert.Equal(t, uint64(1), r.TooSmall)
	assert.InDelta(t, float64(6*time.Millisecond), float64(r.Max), float64(10*time.Microsecond))
	assert.InDelta(t, float64(3*time.Millisecond), float64(r.P50), float64(10*time.Microsecond))
}

func TestStatTakeResets(t *testing.T) {
	t.Parallel()
	s := NewStat()
	s.Sent(10)
	s.Cycle(time.Millisecond)
	r1 := s.Take()
	assert.Equal(t, uint64(1), r1.Seq)
	assert.Equal(t, uint64(1), r1.Sent)
	r2 := s.Take()
	assert.Equal(t, uint64(2), r2.Seq)
	assert.Equal(t, uint64(0), r2.Sent)
	assert.Equal(t, uint64(0), r2.Cycles)
}

func TestStatNil(t *testing.T) {
	t.Parallel()
	var s *Stat
	s.Sent(1)
	s.Cycle(time.Second)
	s.DebugPrint(log2.NewTest(t, log2.LDebug))
	assert.Equal(t, Record{}, s.Snapshot())
}

func TestMarshal(t *testing.T) {
	t.Parallel()
	r := Record{Seq: 7, Cycles: 300, Sent: 250, SentBytes: 7000, Empty: 40, Unavailable: 5,
		Failed: 4, TooSmall: 1, P50: 150 * time.Microsecond, Max: 2 * time.Second,
		LinkTimeToConnect: 12345 * time.Millisecond}
	b, err := r.Marshal()
	require.NoError(t, err)
	assert.Equal(t, "HB1", string(b[1:4]))
	r2, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, r, r2)
}

func TestLinkTimeToConnect(t *testing.T) {
	t.Parallel()
	s := NewStat()
	s.LinkTimeToConnect(2500*time.Millisecond + 300*time.Microsecond)
	r1 := s.Take()
	assert.Equal(t, 2500*time.Millisecond, r1.LinkTimeToConnect)
	// kept across heartbeats
	r2 := s.Take()
	assert.Equal(t, 2500*time.Millisecond, r2.LinkTimeToConnect)

	b, err := r2.Marshal()
	require.NoError(t, err)
	decoded, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, decoded.LinkTimeToConnect)
	assert.Contains(t, decoded.String(), "link_connect=2.5s")
}

func TestUnmarshalInvalid(t *testing.T) {
	t.Parallel()
	cases := []string{"", "\x03XYZ\x01", "\x03HB1\x01\x02"}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%x", c), func(t *testing.T) {
			_, err := Unmarshal([]byte(c))
			assert.Error(t, err)
		})
	}
}

type pushRecorder struct {
	items [][]byte
	err   error
}

func (p *pushRecorder) Push(b []byte) error {
	if p.err != nil {
		return p.err
	}
	p.items = append(p.items, b)
	return nil
}

func TestReporter(t *testing.T) {
	t.Parallel()
	sink := &pushRecorder{}
	stat := NewStat()
	r := &Reporter{Log: log2.NewTest(t, log2.LDebug), Stat: stat, Sink: sink, Every: 3}
	var ticks []bool
	for i := 0; i < 7; i++ {
		stat.Cycle(time.Millisecond)
		ticks = append(ticks, r.Tick())
	}
	assert.Equal(t, []bool{false, false, true, false, false, true, false}, ticks)
	require.Len(t, sink.items, 2)
	rec, err := Unmarshal(sink.items[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Seq)
	assert.Equal(t, uint64(3), rec.Cycles)

	sink.err = fmt.Errorf("disk full")
	r.count = 2
	assert.False(t, r.Tick())
}

func TestReporterDisabled(t *testing.T) {
	t.Parallel()
	r := &Reporter{Stat: NewStat(), Sink: &pushRecorder{}}
	assert.False(t, r.Tick())
}

func TestReporterSkipsOversize(t *testing.T) {
	t.Parallel()
	stat := NewStat()
	stat.Sent(1 << 20)
	rec, err := stat.Snapshot().Marshal()
	require.NoError(t, err)

	cases := []struct {
		name    string
		maxSize int
		expect  bool
	}{
		{"fits", len(rec) + 8, true},
		{"unlimited", 0, true},
		{"tiny-region", 8, false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			sink := &pushRecorder{}
			s := NewStat()
			s.Sent(1 << 20)
			r := &Reporter{Log: log2.NewTest(t, log2.LDebug), Stat: s, Sink: sink, Every: 1, MaxSize: c.maxSize}
			assert.Equal(t, c.expect, r.Tick())
			if c.expect {
				require.Len(t, sink.items, 1)
				assert.LessOrEqual(t, len(sink.items[0]), len(rec)+8)
			} else {
				assert.Len(t, sink.items, 0)
			}
		})
	}
}
