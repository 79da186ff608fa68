// Package config reads uplink HCL configuration with includes.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
)

const (
	DefaultBufferSize      = 1024
	DefaultIntervalSec     = 30
	DefaultServerPort      = 20001
	DefaultCollectorListen = "127.0.0.1:20001"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`

	Uplink struct { //nolint:maligned
		BufferSize        int    `hcl:"buffer_size"`
		IntervalSec       int    `hcl:"interval_sec"`
		ServerAddress     string `hcl:"server_address"`
		ServerPort        int    `hcl:"server_port"`
		VersionPrefix     string `hcl:"version_prefix"`
		ProjectKey        string `hcl:"project_key"`
		NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
		HeartbeatEvery    int    `hcl:"heartbeat_every"`
	} `hcl:"uplink"`

	Identity struct {
		PersistRoot string `hcl:"persist_root"`
		Serial      string `hcl:"serial"`
	} `hcl:"identity"`

	Spool struct {
		Path string `hcl:"path"`
	} `hcl:"spool"`

	Link struct {
		Interface  string `hcl:"interface"`
		TimeoutSec int    `hcl:"timeout_sec"`
	} `hcl:"link"`

	Collector struct {
		Listen     string `hcl:"listen"`
		BufferSize int    `hcl:"buffer_size"`
	} `hcl:"collector"`

	Log struct {
		Debug     bool   `hcl:"debug"`
		File      string `hcl:"file"`
		MaxSizeMB int    `hcl:"max_size_mb"`
		Keep      int    `hcl:"keep"`
	} `hcl:"log"`
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) Interval() time.Duration {
	return helpers.IntSecondDefault(c.Uplink.IntervalSec, DefaultIntervalSec*time.Second)
}

func (c *Config) NetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Uplink.NetworkTimeoutSec, 0)
}

func (c *Config) LinkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Link.TimeoutSec, 0)
}

// Peer is host:port of the collector.
func (c *Config) Peer() string {
	return net.JoinHostPort(c.Uplink.ServerAddress, strconv.Itoa(c.Uplink.ServerPort))
}

func (c *Config) setDefaults() {
	if c.Uplink.BufferSize == 0 {
		c.Uplink.BufferSize = DefaultBufferSize
	}
	if c.Uplink.ServerPort == 0 {
		c.Uplink.ServerPort = DefaultServerPort
	}
	if c.Collector.Listen == "" {
		c.Collector.Listen = DefaultCollectorListen
	}
	if c.Spool.Path == "" && c.Identity.PersistRoot != "" {
		c.Spool.Path = filepath.Join(c.Identity.PersistRoot, "spool")
	}
}

// Validate reports all problems of upload settings at once.
func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf("config: "+format, args...))
		}
	}
	u := &c.Uplink
	check(u.BufferSize > 0 && u.BufferSize <= 65507, "uplink.buffer_size=%d must be in 1..65507", u.BufferSize)
	check(u.IntervalSec >= 0, "uplink.interval_sec=%d must not be negative", u.IntervalSec)
	check(u.ServerAddress != "", "uplink.server_address=empty")
	check(u.ServerPort > 0 && u.ServerPort <= 65535, "uplink.server_port=%d invalid", u.ServerPort)
	check(u.VersionPrefix != "", "uplink.version_prefix=empty")
	check(u.ProjectKey != "", "uplink.project_key=empty")
	check(u.HeartbeatEvery >= 0, "uplink.heartbeat_every=%d must not be negative", u.HeartbeatEvery)
	check(c.Identity.Serial != "" || c.Identity.PersistRoot != "", "identity: set serial or persist_root")
	check(c.Spool.Path != "", "spool.path=empty")
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func Read(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.NotValidf("config read without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	c.setDefaults()
	return c, helpers.FoldErrors(errs)
}

func MustRead(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := Read(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
