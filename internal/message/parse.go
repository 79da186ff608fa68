package message

import (
	"bytes"
	"fmt"

	"github.com/juju/errors"
)

// Datagram is decoded view of received upload, fields alias the input.
type Datagram struct {
	VersionPrefix []byte
	ProjectKey    []byte
	DeviceSerial  []byte
	Chunk         []byte
}

func (d Datagram) String() string {
	return fmt.Sprintf("version=%s project=%s serial=%s chunk=%x",
		d.VersionPrefix, d.ProjectKey, d.DeviceSerial, d.Chunk)
}

// Parse splits three NUL terminated prelude fields, the rest is chunk.
func Parse(b []byte) (Datagram, error) {
	var d Datagram
	fields := [...]struct {
		name string
		dst  *[]byte
	}{
		{SectionVersion, &d.VersionPrefix},
		{SectionProjectKey, &d.ProjectKey},
		{SectionSerial, &d.DeviceSerial},
	}
	rest := b
	for _, f := range fields {
		i := bytes.IndexByte(rest, 0)
		if i < 0 {
			return d, errors.NotValidf("datagram len=%d field=%s unterminated", len(b), f.name)
		}
		*f.dst = rest[:i]
		rest = rest[i+1:]
	}
	d.Chunk = rest
	return d, nil
}
