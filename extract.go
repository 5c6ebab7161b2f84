package carx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/meigma/carx/internal/car"
	"github.com/meigma/carx/internal/dag"
	"github.com/meigma/carx/internal/sink"
	"github.com/meigma/carx/internal/unixfs"
)

// Sink receives extracted content by relative slash-separated path.
type Sink = sink.Sink

// NewFileSink returns a Sink that appends to files under destDir.
func NewFileSink(destDir string) Sink {
	return sink.NewFileSink(destDir)
}

// Selection chooses what an extraction writes.
//
// The zero value writes every file of the archive.
type Selection struct {
	// Suffix, when non-empty, restricts output to paths ending with it.
	// It is a plain trailing match, not a glob.
	Suffix string

	// Root, when defined, must equal the archive's declared root; otherwise
	// the extraction fails with ErrRootMismatch before any block is read.
	Root cid.Cid
}

// matches reports whether path is selected.
func (s Selection) matches(path string) bool {
	return s.Suffix == "" || strings.HasSuffix(path, s.Suffix)
}

// Extractor materializes CAR archives.
//
// An Extractor holds configuration only and may be shared; every call
// builds and discards its own DAG.
type Extractor struct {
	maxBuffered    uint64
	maxSectionSize uint64
	logger         *slog.Logger
	progress       ProgressFunc
	digests        sink.DigestFunc
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// log returns the logger, falling back to a discard logger if nil.
func (e *Extractor) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}

// ExtractAll writes every file in the archive read from r under outputRoot.
func (e *Extractor) ExtractAll(r io.Reader, outputRoot string) error {
	return e.Extract(r, NewFileSink(outputRoot), Selection{})
}

// ExtractFiltered writes the files whose archive path ends with suffix.
func (e *Extractor) ExtractFiltered(r io.Reader, outputRoot, suffix string) error {
	return e.Extract(r, NewFileSink(outputRoot), Selection{Suffix: suffix})
}

// ExtractFromRoot writes every file, provided the archive declares expected
// as its root.
func (e *Extractor) ExtractFromRoot(r io.Reader, outputRoot string, expected cid.Cid) error {
	if !expected.Defined() {
		return fmt.Errorf("%w: expected root is undefined", ErrRootMismatch)
	}
	return e.Extract(r, NewFileSink(outputRoot), Selection{Root: expected})
}

// Extract runs the full pipeline against s: read the header, buffer every
// block, flatten from the root, and write the selected entries.
//
// Any error aborts the call. Nothing reaches s before the stream has been
// consumed and flattened without error.
func (e *Extractor) Extract(r io.Reader, s Sink, sel Selection) error {
	x := &extraction{Extractor: e, sel: sel}
	if e.digests != nil {
		s = sink.NewDigestSink(s, e.digests)
	}
	if err := x.run(r, s); err != nil {
		x.enter(StageFailed)
		x.log().Debug("extraction failed", "error", err)
		return err
	}
	x.enter(StageDone)
	return nil
}

// extraction holds the state of one Extract call.
type extraction struct {
	*Extractor
	sel   Selection
	stage ProgressStage
	event ProgressEvent
}

func (x *extraction) enter(stage ProgressStage) {
	x.stage = stage
	x.event.Stage = stage
	x.event.Path = ""
	x.log().Debug("extraction stage", "stage", stage)
	x.report()
}

func (x *extraction) report() {
	if x.progress != nil {
		x.progress(x.event)
	}
}

func (x *extraction) run(r io.Reader, s Sink) error {
	x.enter(StageInit)
	cr, err := car.NewReader(r, car.WithMaxSectionSize(x.maxSectionSize))
	if err != nil {
		return err
	}
	root, err := x.verifyRoot(cr.Roots())
	if err != nil {
		return err
	}
	x.log().Debug("archive header",
		"version", cr.Version(),
		"root", root,
		"code", root.Prefix().MhType,
	)

	x.enter(StageStreaming)
	b, err := x.consume(cr)
	if err != nil {
		return err
	}

	x.enter(StageFlattening)
	entries, err := dag.Flatten(b, root, dag.WithMaxOutput(x.maxBuffered))
	if err != nil {
		return err
	}
	selected := entries[:0]
	for _, entry := range entries {
		if x.sel.matches(entry.Path) {
			selected = append(selected, entry)
		}
	}
	x.log().Debug("flattened archive", "entries", len(entries), "selected", len(selected))

	x.enter(StageWriting)
	return x.write(selected, s)
}

// verifyRoot returns the single declared root, checked against the selection.
func (x *extraction) verifyRoot(roots []cid.Cid) (cid.Cid, error) {
	if len(roots) != 1 {
		return cid.Undef, fmt.Errorf("%w: header declares %d roots, want 1", ErrFormat, len(roots))
	}
	root := roots[0]
	if x.sel.Root.Defined() && !x.sel.Root.Equals(root) {
		return cid.Undef, fmt.Errorf("%w: archive root %s, expected %s", ErrRootMismatch, root, x.sel.Root)
	}
	return root, nil
}

// consume decodes and buffers every block of the stream.
func (x *extraction) consume(cr *car.Reader) (*dag.Builder, error) {
	b := dag.NewBuilder(
		dag.WithMaxBuffered(x.maxBuffered),
		dag.WithLogger(x.logger),
	)
	for {
		blk, err := cr.Next()
		if errors.Is(err, io.EOF) {
			return b, nil
		}
		if err != nil {
			return nil, err
		}
		node, err := unixfs.Decode(blk.CID, blk.Data)
		if err != nil {
			return nil, err
		}
		if err := b.Consume(blk.CID, node); err != nil {
			return nil, err
		}
		x.event.BlocksDone = cr.Blocks()
		x.event.BytesDone = b.Buffered()
		x.report()
	}
}

// write appends entries to s in order. Consecutive entries for the same
// path share one handle.
func (x *extraction) write(entries []dag.Entry, s Sink) error {
	groups := groupByPath(entries)
	x.event.FilesTotal = len(groups)
	x.event.FilesDone = 0
	x.event.BytesDone = 0
	x.event.BytesTotal = 0
	for _, entry := range entries {
		x.event.BytesTotal += uint64(len(entry.Data))
	}

	for _, group := range groups {
		x.event.Path = group[0].Path
		n, err := writeGroup(s, group)
		x.event.BytesDone += n
		if err != nil {
			return err
		}
		x.event.FilesDone++
		x.log().Debug("wrote file", "path", group[0].Path, "chunks", len(group), "bytes", n)
		x.report()
	}
	return nil
}

func writeGroup(s Sink, group []dag.Entry) (uint64, error) {
	path := group[0].Path
	w, err := s.Writer(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrIO, path, err)
	}
	var written uint64
	for _, entry := range group {
		n, err := w.Write(entry.Data)
		written += uint64(n) //nolint:gosec // n is never negative
		if err != nil {
			_ = w.Close() //nolint:errcheck // write error takes precedence
			return written, fmt.Errorf("%w: %s: %w", ErrIO, path, err)
		}
	}
	if err := w.Close(); err != nil {
		return written, fmt.Errorf("%w: %s: %w", ErrIO, path, err)
	}
	return written, nil
}

// groupByPath splits entries into runs sharing a path.
func groupByPath(entries []dag.Entry) [][]dag.Entry {
	var groups [][]dag.Entry
	start := 0
	for i := 1; i <= len(entries); i++ {
		if i == len(entries) || entries[i].Path != entries[start].Path {
			groups = append(groups, entries[start:i])
			start = i
		}
	}
	return groups
}

// ExtractAll extracts every file using an Extractor configured with opts.
func ExtractAll(r io.Reader, outputRoot string, opts ...Option) error {
	return New(opts...).ExtractAll(r, outputRoot)
}

// ExtractFiltered extracts files whose path ends with suffix using an
// Extractor configured with opts.
func ExtractFiltered(r io.Reader, outputRoot, suffix string, opts ...Option) error {
	return New(opts...).ExtractFiltered(r, outputRoot, suffix)
}

// ExtractFromRoot extracts every file if the archive root equals expected,
// using an Extractor configured with opts.
func ExtractFromRoot(r io.Reader, outputRoot string, expected cid.Cid, opts ...Option) error {
	return New(opts...).ExtractFromRoot(r, outputRoot, expected)
}
