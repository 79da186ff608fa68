package transport

// Values are read and modified atomically, but not consistently.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Conn   expvar.Int
	Errors expvar.Int
	Sent   CountSizePair
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"conn":%d,"errors":%d,"sent.count":%d,"sent.size":%d}`,
		s.Conn.Value(), s.Errors.Value(), s.Sent.Count.Value(), s.Sent.Size.Value())
}

type CountSizePair struct {
	Count expvar.Int
	Size  expvar.Int
}
