package main

import (
	"io"
	"sync"

	"github.com/meigma/carx"
)

// pathLocks hands out one mutex per output path so concurrent extractions
// into the same directory never append to a file at the same time.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock blocks until path is free and returns its unlock func.
func (l *pathLocks) lock(path string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// lockedSink holds the path lock for the lifetime of each handle.
type lockedSink struct {
	sink  carx.Sink
	locks *pathLocks
}

func (s lockedSink) Writer(path string) (io.WriteCloser, error) {
	unlock := s.locks.lock(path)
	w, err := s.sink.Writer(path)
	if err != nil {
		unlock()
		return nil, err
	}
	return &lockedWriter{WriteCloser: w, unlock: unlock}, nil
}

type lockedWriter struct {
	io.WriteCloser
	once   sync.Once
	unlock func()
}

func (w *lockedWriter) Close() error {
	err := w.WriteCloser.Close()
	w.once.Do(w.unlock)
	return err
}
