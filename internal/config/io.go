package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
)

type FullReader interface {
	Normalize(key string) string
	// nil,nil = not found
	ReadAll(key string) ([]byte, error)
}

type OsFullReader struct {
	base string
}

func NewOsFullReader() *OsFullReader { return &OsFullReader{} }

func (self *OsFullReader) SetBase(path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	self.base = path
}

func (self *OsFullReader) Normalize(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(self.base, path))
}

func (*OsFullReader) ReadAll(path string) ([]byte, error) {
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return b, err
}

type MockFullReader struct {
	Map map[string]string
}

func NewMockFullReader(sources map[string]string) *MockFullReader {
	return &MockFullReader{Map: sources}
}

func (self *MockFullReader) Normalize(name string) string {
	return filepath.Clean(name)
}

func (self *MockFullReader) ReadAll(name string) ([]byte, error) {
	if s, ok := self.Map[name]; ok {
		return []byte(s), nil
	}
	return nil, nil
}
