package sink

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSink appends extracted content to files under a destination directory.
//
// All filesystem access goes through an os.Root opened on the destination,
// so paths cannot escape it. Existing files are appended to, never
// truncated; clearing previous output is the caller's responsibility.
type FileSink struct {
	destDir  string
	filePerm os.FileMode
	dirPerm  os.FileMode
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithFilePerm sets the permission bits for created files (default 0o644).
func WithFilePerm(perm os.FileMode) FileSinkOption {
	return func(s *FileSink) {
		s.filePerm = perm.Perm()
	}
}

// WithDirPerm sets the permission bits for created directories (default 0o750).
func WithDirPerm(perm os.FileMode) FileSinkOption {
	return func(s *FileSink) {
		s.dirPerm = perm.Perm()
	}
}

// NewFileSink creates a FileSink that writes under destDir.
//
// destDir is created on first write if it does not exist.
func NewFileSink(destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		destDir:  destDir,
		filePerm: 0o644,
		dirPerm:  0o750,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the destination directory.
func (s *FileSink) Dir() string {
	return s.destDir
}

// Writer opens path for appending, creating parent directories as needed.
func (s *FileSink) Writer(path string) (io.WriteCloser, error) {
	if !fs.ValidPath(path) || path == "." {
		return nil, &fs.PathError{Op: "extract", Path: path, Err: fs.ErrInvalid}
	}
	if err := os.MkdirAll(s.destDir, s.dirPerm); err != nil {
		return nil, fmt.Errorf("create destination %s: %w", s.destDir, err)
	}
	root, err := os.OpenRoot(s.destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", s.destDir, err)
	}

	rel := filepath.FromSlash(path)
	if dir := filepath.Dir(rel); dir != "." {
		if err := root.MkdirAll(dir, s.dirPerm); err != nil {
			_ = root.Close() //nolint:errcheck // best-effort cleanup
			return nil, fmt.Errorf("create directory %s: %w", filepath.Join(s.destDir, dir), err)
		}
	}

	f, err := root.OpenFile(rel, os.O_APPEND|os.O_CREATE|os.O_WRONLY, s.filePerm)
	if err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("open %s: %w", filepath.Join(s.destDir, rel), err)
	}
	return &appendFile{file: f, root: root}, nil
}

// appendFile is an append handle that releases its root on Close.
type appendFile struct {
	file *os.File
	root *os.Root
}

// Write implements io.Writer.
func (a *appendFile) Write(p []byte) (int, error) {
	return a.file.Write(p)
}

// Close closes the file and the root it was opened through.
func (a *appendFile) Close() error {
	err := a.file.Close()
	if rerr := a.root.Close(); err == nil {
		err = rerr
	}
	return err
}
