package cartype

// ProgressEvent represents a progress update during an extraction.
type ProgressEvent struct {
	// Stage identifies the current phase of the extraction.
	Stage ProgressStage

	// Path is the file currently being written, if applicable.
	Path string

	// BytesDone is the number of payload bytes buffered (streaming) or
	// written (writing) so far.
	BytesDone uint64

	// BytesTotal is the total payload bytes to write.
	// Zero indicates the total is unknown (e.g., while streaming).
	BytesTotal uint64

	// BlocksDone is the number of blocks consumed from the stream.
	BlocksDone int

	// FilesDone is the number of output paths completed.
	FilesDone int

	// FilesTotal is the total number of output paths.
	// Zero indicates the total is unknown.
	FilesTotal int
}

// ProgressStage identifies the current phase of an extraction.
type ProgressStage uint8

// Extraction stages, in the order an extraction passes through them.
const (
	// StageInit indicates the header is being read and verified.
	StageInit ProgressStage = iota

	// StageStreaming indicates blocks are being decoded and buffered.
	StageStreaming

	// StageFlattening indicates the buffered DAG is being converted to paths.
	StageFlattening

	// StageWriting indicates payloads are being written to the sink.
	StageWriting

	// StageDone indicates the extraction completed.
	StageDone

	// StageFailed indicates the extraction aborted.
	StageFailed
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageStreaming:
		return "streaming"
	case StageFlattening:
		return "flattening"
	case StageWriting:
		return "writing"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during extraction.
// Calls are made from the extracting goroutine only.
type ProgressFunc func(ProgressEvent)
