package uplink

import (
	"fmt"

	"github.com/temoto/uplink/internal/chunk"
)

type OutcomeKind uint8

const (
	OutcomeInvalid OutcomeKind = iota
	OutcomeSent
	OutcomeNoData
	OutcomeTransmitFailed
	OutcomeBufferTooSmall
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSent:
		return "sent"
	case OutcomeNoData:
		return "no-data"
	case OutcomeTransmitFailed:
		return "transmit-failed"
	case OutcomeBufferTooSmall:
		return "buffer-too-small"
	}
	return "invalid"
}

// Outcome of one cycle. Only fields relevant to Kind are set.
type Outcome struct {
	Kind OutcomeKind
	// Sent: datagram length
	Size int
	// NoData: empty or unavailable
	Source chunk.Status
	// NoData/unavailable and TransmitFailed: reason
	Err error
	// BufferTooSmall: section name
	Section string
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSent:
		return fmt.Sprintf("sent(%d)", o.Size)
	case OutcomeNoData:
		if o.Err != nil {
			return fmt.Sprintf("no-data(%s: %v)", o.Source, o.Err)
		}
		return fmt.Sprintf("no-data(%s)", o.Source)
	case OutcomeTransmitFailed:
		return fmt.Sprintf("transmit-failed(%v)", o.Err)
	case OutcomeBufferTooSmall:
		return fmt.Sprintf("buffer-too-small(%s)", o.Section)
	}
	return "invalid"
}
