// Package identity provides device identity record used for the upload prelude.
// Serial number is generated once and persisted with extremofile
// so it survives power loss during write.
package identity

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/temoto/extremofile"
	"github.com/temoto/uplink/internal/message"
	"github.com/temoto/uplink/log2"
)

// Record is immutable after Load.
type Record struct {
	VersionPrefix string
	ProjectKey    string
	DeviceSerial  string
}

func (r Record) Validate() error {
	fields := []struct{ name, value string }{
		{message.SectionVersion, r.VersionPrefix},
		{message.SectionProjectKey, r.ProjectKey},
		{message.SectionSerial, r.DeviceSerial},
	}
	for _, f := range fields {
		if f.value == "" {
			return errors.NotValidf("identity %s=empty", f.name)
		}
		if strings.IndexByte(f.value, 0) >= 0 {
			return errors.NotValidf("identity %s contains NUL", f.name)
		}
	}
	return nil
}

// Sections in wire order.
func (r Record) Sections() []message.Section {
	return []message.Section{
		message.CString(message.SectionVersion, r.VersionPrefix),
		message.CString(message.SectionProjectKey, r.ProjectKey),
		message.CString(message.SectionSerial, r.DeviceSerial),
	}
}

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

type Provider struct {
	Log           *log2.Log
	VersionPrefix string
	ProjectKey    string
	// Serial overrides persisted value when not empty.
	Serial      string
	PersistRoot string

	storage storage
}

func (p *Provider) Load() (Record, error) {
	r := Record{
		VersionPrefix: p.VersionPrefix,
		ProjectKey:    p.ProjectKey,
		DeviceSerial:  p.Serial,
	}
	if r.DeviceSerial == "" {
		serial, err := p.persistedSerial()
		if err != nil {
			return Record{}, errors.Annotate(err, "identity serial")
		}
		r.DeviceSerial = serial
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	p.Log.Debugf("identity version=%s project=%s serial=%s", r.VersionPrefix, r.ProjectKey, r.DeviceSerial)
	return r, nil
}

func (p *Provider) persistedSerial() (string, error) {
	if p.storage == nil {
		if p.PersistRoot == "" {
			return "", errors.NotValidf("identity serial=empty and persist_root=empty")
		}
		p.storage = extremofile.New(extremofile.Config{
			Dir:      filepath.Join(p.PersistRoot, "identity"),
			DirPerm:  0755,
			FilePerm: 0644,
		})
	}

	b, err := p.storage.Read()
	if b != nil {
		if err != nil {
			p.Log.Errorf("identity ignore non-critical storage err=%v", err)
		}
		return string(bytes.TrimSpace(b)), nil
	}
	if err != nil {
		return "", err
	}

	serial := strings.ToUpper(strings.Replace(uuid.NewV4().String(), "-", "", -1))
	if _, err = p.storage.Write([]byte(serial)); err != nil {
		if extremofile.IsCritical(err) {
			return "", errors.Annotate(err, "store generated serial")
		}
		p.Log.Errorf("identity store backup err=%v", err)
	}
	p.Log.Infof("identity generated serial=%s", serial)
	return serial, nil
}
