package chunk

import (
	"sync"

	"github.com/juju/errors"
)

// Queue is in-memory FIFO source, same split semantics as Spool.
type Queue struct {
	mu    sync.Mutex
	items [][]byte
}

var _ Source = &Queue{}

func (q *Queue) Push(b []byte) error {
	if len(b) == 0 {
		return errors.NotValidf("queue push empty chunk")
	}
	q.mu.Lock()
	q.items = append(q.items, append([]byte(nil), b...))
	q.mu.Unlock()
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) TryGetChunk(dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, errors.NotValidf("queue dst len=0")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, nil
	}
	head := q.items[0]
	n := copy(dst, head)
	if n == len(head) {
		q.items[0] = nil
		q.items = q.items[1:]
	} else {
		q.items[0] = head[n:]
	}
	return n, nil
}
