package store

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// List returns a channel giving the key of every record in the store.
func (ms *Memory) List() <-chan string {
	ms.m.RLock()
	keys := make([]string, 0, len(ms.store))
	for k := range ms.store {
		keys = append(keys, k)
	}
	ms.m.RUnlock()
	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// ListPrefix returns all the keys which begin with the given prefix.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.store {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	return result, nil
}

// Open returns a ReadAtCloser and the size of the given record.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("no record %s", key)
	}
	return nopReadAtCloser{bytes.NewReader(v)}, int64(len(v)), nil
}

type nopReadAtCloser struct {
	io.ReaderAt
}

func (nopReadAtCloser) Close() error { return nil }

// Create makes a new record in the store and returns a writer to save data
// into it. The record is visible to readers once the writer is closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.RLock()
	_, exists := ms.store[key]
	ms.m.RUnlock()
	if exists {
		return nil, ErrKeyExists
	}
	return &memWriter{parent: ms, key: key}, nil
}

type memWriter struct {
	parent *Memory
	key    string
	buf    bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.parent.m.Lock()
	w.parent.store[w.key] = w.buf.Bytes()
	w.parent.m.Unlock()
	return nil
}

// Delete the given key from the store. It is not an error if the record does
// not exist.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}
