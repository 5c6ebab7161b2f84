package sink

import (
	"io"

	"github.com/opencontainers/go-digest"
)

// DigestFunc receives the digest of the bytes written through one handle.
type DigestFunc func(path string, d digest.Digest)

// DigestSink wraps a Sink and reports a digest for every closed handle.
//
// Digests cover only the bytes written through that handle, not any content
// the destination held beforehand.
type DigestSink struct {
	next      Sink
	algorithm digest.Algorithm
	report    DigestFunc
}

// NewDigestSink wraps next, reporting canonical (sha256) digests to report.
func NewDigestSink(next Sink, report DigestFunc) *DigestSink {
	return &DigestSink{
		next:      next,
		algorithm: digest.Canonical,
		report:    report,
	}
}

// Writer implements Sink.
func (s *DigestSink) Writer(path string) (io.WriteCloser, error) {
	w, err := s.next.Writer(path)
	if err != nil {
		return nil, err
	}
	return &digestWriter{
		path:     path,
		next:     w,
		digester: s.algorithm.Digester(),
		report:   s.report,
	}, nil
}

type digestWriter struct {
	path     string
	next     io.WriteCloser
	digester digest.Digester
	report   DigestFunc
}

// Write implements io.Writer.
func (w *digestWriter) Write(p []byte) (int, error) {
	n, err := w.next.Write(p)
	_, _ = w.digester.Hash().Write(p[:n]) //nolint:errcheck // hash writes never fail
	return n, err
}

// Close closes the underlying handle and reports the digest if it succeeded.
func (w *digestWriter) Close() error {
	if err := w.next.Close(); err != nil {
		return err
	}
	if w.report != nil {
		w.report(w.path, w.digester.Digest())
	}
	return nil
}
