// Package ffi exposes extraction as a string-in, bool-out API for foreign
// callers. Errors never cross the boundary; they are logged and reported
// as false.
//
// cmd/libcarx wraps these functions as C symbols.
package ffi

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/ipfs/go-cid"

	"github.com/meigma/carx"
	"github.com/meigma/carx/internal/source"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// SetLogger replaces the logger that receives extraction errors.
// A nil logger discards them.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	logger.Store(l)
}

// ExtractAllCar extracts every file of the archive at carPath under outputPath.
func ExtractAllCar(carPath, outputPath string) bool {
	return run("extract_all_car", carPath, outputPath, carx.Selection{})
}

// ExtractFileCar extracts the files whose archive path ends with pattern.
func ExtractFileCar(carPath, pattern, outputPath string) bool {
	return run("extract_file_car", carPath, outputPath, carx.Selection{Suffix: pattern})
}

// ExtractVerifiedByCIDFromCar extracts every file provided the archive's
// root equals the CID encoded in cidStr.
func ExtractVerifiedByCIDFromCar(carPath, cidStr, outputPath string) bool {
	root, err := cid.Decode(cidStr)
	if err != nil {
		logger.Load().Error("extraction failed",
			"op", "extract_verified_by_cid_from_car",
			"car", carPath,
			"error", fmt.Errorf("%w: parse cid %q: %v", carx.ErrRootMismatch, cidStr, err),
		)
		return false
	}
	return run("extract_verified_by_cid_from_car", carPath, outputPath, carx.Selection{Root: root})
}

func run(op, carPath, outputPath string, sel carx.Selection) bool {
	log := logger.Load().With("op", op, "car", carPath, "output", outputPath)
	if err := extract(carPath, outputPath, sel); err != nil {
		log.Error("extraction failed", "error", err)
		return false
	}
	log.Debug("extraction complete")
	return true
}

func extract(carPath, outputPath string, sel carx.Selection) (err error) {
	rc, err := source.Open(context.Background(), carPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rc.Close(); err == nil {
			err = cerr
		}
	}()
	return carx.New().Extract(rc, carx.NewFileSink(outputPath), sel)
}
