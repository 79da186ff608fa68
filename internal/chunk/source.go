// Package chunk defines the telemetry chunk source contract
// and a persistent spool implementation.
package chunk

// Source yields opaque chunks bounded by len(dst).
// Contract:
// - n > 0, err == nil: chunk written to dst[:n]
// - n == 0, err == nil: nothing pending, not an error
// - err != nil: source failed, dst content undefined
// Implementations must not block.
type Source interface {
	TryGetChunk(dst []byte) (int, error)
}

type Status uint8

const (
	StatusFilled Status = iota + 1
	StatusEmpty
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusFilled:
		return "filled"
	case StatusEmpty:
		return "empty"
	case StatusUnavailable:
		return "unavailable"
	}
	return "invalid"
}

func Classify(n int, err error) Status {
	switch {
	case err != nil:
		return StatusUnavailable
	case n > 0:
		return StatusFilled
	default:
		return StatusEmpty
	}
}

type SourceFunc func(dst []byte) (int, error)

func (f SourceFunc) TryGetChunk(dst []byte) (int, error) { return f(dst) }
