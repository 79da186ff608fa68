package chunk

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
)

// OnlyForTesting opens in-memory spool.
const OnlyForTesting = spq.OnlyForTesting

const spoolRetryDelay = 5 * time.Second

// Spool is persistent FIFO of chunks, survives reboot and offline periods.
// Chunk larger than requested length is handed out in parts over
// several calls (packetizer behaviour) and deleted from disk after last part.
type Spool struct {
	log   *log2.Log
	q     *spq.Queue
	alive *alive.Alive

	boxCh      chan spq.Box // feeder -> consumer
	consumedCh chan struct{}

	errMu   sync.Mutex
	peekErr error

	// consumer side, serialized by caller (single uploader)
	current  spq.Box
	rest     []byte
	inFlight bool
}

var _ Source = &Spool{} // compile-time interface test

func OpenSpool(path string, log *log2.Log) (*Spool, error) {
	if path == "" {
		return nil, errors.NotValidf("spool path=empty")
	}
	q, err := spq.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "spool open path=%s", path)
	}
	s := &Spool{
		log:        log,
		q:          q,
		alive:      alive.NewAlive(),
		boxCh:      make(chan spq.Box),
		consumedCh: make(chan struct{}, 1),
	}
	s.alive.Add(1)
	go s.feeder()
	return s, nil
}

// Push appends chunk, returns after disk write.
func (s *Spool) Push(b []byte) error {
	if len(b) == 0 {
		return errors.NotValidf("spool push empty chunk")
	}
	return errors.Annotate(s.q.Push(b), "spool push")
}

func (s *Spool) TryGetChunk(dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, errors.NotValidf("spool dst len=0")
	}
	if !s.inFlight {
		select {
		case box := <-s.boxCh:
			s.current, s.rest, s.inFlight = box, box.Bytes(), true
		default:
			var err error
			helpers.WithLock(&s.errMu, func() { err = s.peekErr })
			if err != nil {
				return 0, errors.Annotate(err, "spool")
			}
			return 0, nil
		}
	}

	n := copy(dst, s.rest)
	s.rest = s.rest[n:]
	if len(s.rest) == 0 {
		s.release()
	}
	return n, nil
}

// Close stops feeder and closes storage. Unsent part of current chunk is kept on disk.
func (s *Spool) Close() error {
	s.alive.Stop()
	err := s.q.Close()
	s.alive.Wait()
	return errors.Annotate(err, "spool close")
}

func (s *Spool) release() {
	if err := s.q.Delete(s.current); err != nil {
		s.log.Errorf("spool delete err=%v", err)
	}
	s.inFlight = false
	s.current, s.rest = spq.Box{}, nil
	s.consumedCh <- struct{}{}
}

func (s *Spool) setPeekErr(err error) {
	helpers.WithLock(&s.errMu, func() { s.peekErr = err })
}

// feeder hands one box at a time, waits until consumer releases it
// because Peek keeps returning head until it is deleted.
func (s *Spool) feeder() {
	defer s.alive.Done()
	stopCh := s.alive.StopChan()
	for s.alive.IsRunning() {
		box, err := s.q.Peek()
		switch {
		case err == nil:
			s.setPeekErr(nil)
		case err == spq.ErrClosed:
			return
		default:
			s.log.Errorf("spool peek err=%v", err)
			s.setPeekErr(err)
			select {
			case <-time.After(spoolRetryDelay):
				continue
			case <-stopCh:
				return
			}
		}

		if len(box.Bytes()) == 0 {
			s.log.Errorf("spool peek=empty, delete")
			if err := s.q.Delete(box); err != nil {
				s.setPeekErr(err)
				select {
				case <-time.After(spoolRetryDelay):
				case <-stopCh:
					return
				}
			}
			continue
		}

		select {
		case s.boxCh <- box:
		case <-stopCh:
			return
		}
		select {
		case <-s.consumedCh:
		case <-stopCh:
			return
		}
	}
}
