package carx

import "github.com/meigma/carx/internal/cartype"

// Re-export progress types from internal/cartype.
type (
	// ProgressEvent represents a progress update during an extraction.
	ProgressEvent = cartype.ProgressEvent

	// ProgressStage identifies the current phase of an extraction.
	ProgressStage = cartype.ProgressStage

	// ProgressFunc receives progress updates during an extraction.
	ProgressFunc = cartype.ProgressFunc
)

// Re-export progress stage constants.
const (
	// StageInit indicates the archive header is being read and verified.
	StageInit = cartype.StageInit

	// StageStreaming indicates blocks are being decoded and buffered.
	StageStreaming = cartype.StageStreaming

	// StageFlattening indicates buffered nodes are being resolved to paths.
	StageFlattening = cartype.StageFlattening

	// StageWriting indicates files are being written.
	StageWriting = cartype.StageWriting

	// StageDone indicates the extraction completed.
	StageDone = cartype.StageDone

	// StageFailed indicates the extraction aborted.
	StageFailed = cartype.StageFailed
)
