package identity

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/internal/message"
	"github.com/temoto/uplink/log2"
)

type mockStorage struct {
	data     []byte
	readErr  error
	writeErr error
	writes   int
}

func (m *mockStorage) Read() ([]byte, error) { return m.data, m.readErr }
func (m *mockStorage) Write(b []byte) (int, error) {
	m.writes++
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.data = append([]byte(nil), b...)
	return len(b), nil
}

func TestLoadConfiguredSerial(t *testing.T) {
	t.Parallel()
	p := &Provider{Log: log2.NewTest(t, log2.LDebug), VersionPrefix: "v1", ProjectKey: "ABCD1234", Serial: "SN007"}
	r, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, Record{"v1", "ABCD1234", "SN007"}, r)

	b, err := message.Build(64, r.Sections()...)
	require.NoError(t, err)
	assert.Equal(t, 18, b.PreludeLen())
}

func TestLoadPersisted(t *testing.T) {
	t.Parallel()
	m := &mockStorage{data: []byte("SERIAL-1\n")}
	p := &Provider{Log: log2.NewTest(t, log2.LDebug), VersionPrefix: "v1", ProjectKey: "k", storage: m}
	r, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, "SERIAL-1", r.DeviceSerial)
	assert.Equal(t, 0, m.writes)
}

func TestLoadGenerates(t *testing.T) {
	t.Parallel()
	m := &mockStorage{}
	p := &Provider{Log: log2.NewTest(t, log2.LDebug), VersionPrefix: "v1", ProjectKey: "k", storage: m}
	r, err := p.Load()
	require.NoError(t, err)
	assert.Len(t, r.DeviceSerial, 32)
	assert.Equal(t, 1, m.writes)

	r2, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, r.DeviceSerial, r2.DeviceSerial, "stable after generation")
}

func TestLoadStorageError(t *testing.T) {
	t.Parallel()
	m := &mockStorage{readErr: fmt.Errorf("disk gone")}
	p := &Provider{Log: log2.NewTest(t, log2.LDebug), VersionPrefix: "v1", ProjectKey: "k", storage: m}
	_, err := p.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestLoadExtremofile(t *testing.T) {
	t.Parallel()
	dir, err := ioutil.TempDir("", "uplink-identity")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	p1 := &Provider{Log: log2.NewTest(t, log2.LDebug), VersionPrefix: "v1", ProjectKey: "k", PersistRoot: dir}
	r1, err := p1.Load()
	require.NoError(t, err)
	p2 := &Provider{Log: log2.NewTest(t, log2.LDebug), VersionPrefix: "v1", ProjectKey: "k", PersistRoot: dir}
	r2, err := p2.Load()
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		input Record
		valid bool
	}{
		{"ok", Record{"v1", "k", "s"}, true},
		{"empty-version", Record{"", "k", "s"}, false},
		{"empty-key", Record{"v1", "", "s"}, false},
		{"nul-serial", Record{"v1", "k", "s\x00x"}, false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			err := c.input.Validate()
			if c.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsNotValid(err), "err=%v", err)
			}
		})
	}
}

func TestLoadNoSerialNoRoot(t *testing.T) {
	t.Parallel()
	p := &Provider{VersionPrefix: "v1", ProjectKey: "k"}
	_, err := p.Load()
	assert.Error(t, err)
}
