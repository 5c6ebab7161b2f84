// Command profiler profiles extraction of synthetic CAR archives.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/felixge/fgprof"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/pflag"

	"github.com/meigma/carx"
	"github.com/meigma/carx/internal/source"
	"github.com/meigma/carx/internal/testutil"
)

const (
	modeMemory = "memory"
	modeDisk   = "disk"
)

type config struct {
	mode            string
	files           int
	fileSize        int
	chunkSize       int
	dirCount        int
	compression     string
	maxBuffer       uint64
	dataURL         string
	dataHTTPLatency time.Duration
	dataHTTPBPS     uint64
	fgProfile       string
	duration        time.Duration
	iterations      int
	pprofAddr       string
	cpuProfile      string
	memProfile      string
	traceFile       string
	tempDir         string
	randomSeed      int64
}

//nolint:gocognit // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	data, err := buildArchive(cfg)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("archive: %d files, %s encoded", cfg.files, humanize.IBytes(uint64(len(data))))

	open, cleanup, err := newOpener(cfg, data)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
		}
		stopFG := fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				log.Printf("fgprof stop error: %v", err)
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(cfg, open)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

// opener returns a fresh stream over the archive for each iteration.
type opener func(ctx context.Context) (io.ReadCloser, error)

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func runProfile(cfg config, open opener) (profileStats, error) {
	ex := carx.New(carx.WithMaxBufferedBytes(cfg.maxBuffer))
	ctx := context.Background()
	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	for shouldContinue() {
		rc, err := open(ctx)
		if err != nil {
			return profileStats{}, err
		}
		sink, cleanup, err := newSink(cfg)
		if err != nil {
			_ = rc.Close()
			return profileStats{}, err
		}
		err = ex.Extract(rc, sink, carx.Selection{})
		_ = rc.Close()
		n := sink.written()
		if cerr := cleanup(); err == nil {
			err = cerr
		}
		if err != nil {
			return profileStats{}, err
		}
		byteCount += n
		ops++
	}

	return profileStats{ops: ops, bytes: byteCount, elapsed: time.Since(start)}, nil
}

// buildArchive generates the dataset and applies the requested compression.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func buildArchive(cfg config) ([]byte, error) {
	tree, err := testutil.GenerateTree(testutil.TreeSpec{
		Files:     cfg.files,
		FileSize:  cfg.fileSize,
		ChunkSize: cfg.chunkSize,
		Dirs:      cfg.dirCount,
		Seed:      cfg.randomSeed,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	var w io.WriteCloser
	switch source.Compression(cfg.compression) {
	case source.CompressionNone:
		if err := tree.Encode(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case source.CompressionZstd:
		enc, err := zstd.NewWriter(&buf, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		w = enc
	case source.CompressionGzip:
		w = gzip.NewWriter(&buf)
	case source.CompressionLZ4:
		w = lz4.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unknown compression %q", cfg.compression)
	}
	if err := tree.Encode(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newOpener(cfg config, data []byte) (opener, func(), error) {
	if cfg.dataURL != "" {
		return newHTTPOpener(cfg, data)
	}
	return func(context.Context) (io.ReadCloser, error) {
		rc, _, err := source.Decompress(io.NopCloser(bytes.NewReader(data)))
		return rc, err
	}, nil, nil
}

// countingSink is a carx.Sink that reports how many bytes it received.
type countingSink interface {
	carx.Sink
	written() int64
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newSink(cfg config) (countingSink, func() error, error) {
	switch cfg.mode {
	case modeMemory:
		return &discardSink{}, func() error { return nil }, nil
	case modeDisk:
		dir, err := os.MkdirTemp(cfg.tempDir, "carx-profile-")
		if err != nil {
			return nil, nil, err
		}
		s := &diskSink{Sink: carx.NewFileSink(dir)}
		return s, func() error { return os.RemoveAll(dir) }, nil
	default:
		return nil, nil, fmt.Errorf("unknown mode %q", cfg.mode)
	}
}

type discardSink struct {
	n int64
}

func (s *discardSink) Writer(string) (io.WriteCloser, error) {
	return nopCloser{&s.n}, nil
}

func (s *discardSink) written() int64 { return s.n }

type nopCloser struct {
	n *int64
}

func (w nopCloser) Write(p []byte) (int, error) {
	*w.n += int64(len(p))
	return len(p), nil
}

func (nopCloser) Close() error { return nil }

type diskSink struct {
	carx.Sink
	n int64
}

func (s *diskSink) Writer(path string) (io.WriteCloser, error) {
	w, err := s.Sink.Writer(path)
	if err != nil {
		return nil, err
	}
	return &countingWriter{WriteCloser: w, n: &s.n}, nil
}

func (s *diskSink) written() int64 { return s.n }

type countingWriter struct {
	io.WriteCloser
	n *int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.WriteCloser.Write(p)
	*w.n += int64(n)
	return n, err
}

func parseFlags() config {
	var cfg config
	var maxBuffer, dataHTTPBPS string
	pflag.StringVar(&cfg.mode, "mode", modeMemory, "mode: memory or disk")
	pflag.IntVar(&cfg.files, "files", 512, "number of files")
	pflag.IntVar(&cfg.fileSize, "file-size", 16<<10, "file size in bytes")
	pflag.IntVar(&cfg.chunkSize, "chunk-size", 4<<10, "leaf chunk size in bytes (0 for single-leaf files)")
	pflag.IntVar(&cfg.dirCount, "dir-count", 16, "number of directories")
	pflag.StringVar(&cfg.compression, "compression", "none", "archive compression: none, zstd, gzip, lz4")
	pflag.StringVar(&maxBuffer, "max-buffer", "", "buffered byte cap (e.g. 256MiB)")
	pflag.StringVar(&cfg.dataURL, "data-url", "", "HTTP archive URL (use \"local\" to serve generated data)")
	pflag.DurationVar(&cfg.dataHTTPLatency, "data-http-latency", 0, "per-request latency for HTTP data source")
	pflag.StringVar(&dataHTTPBPS, "data-http-bps", "", "bytes/sec throttle for HTTP data source (e.g. 10MB)")
	pflag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	pflag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	pflag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	pflag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	pflag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	pflag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	pflag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	pflag.StringVar(&cfg.tempDir, "temp-dir", "", "parent directory for disk mode output")
	pflag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	pflag.Parse()

	var err error
	if maxBuffer != "" {
		if cfg.maxBuffer, err = humanize.ParseBytes(maxBuffer); err != nil {
			log.Fatalf("max-buffer: %v", err)
		}
	}
	if dataHTTPBPS != "" {
		if cfg.dataHTTPBPS, err = humanize.ParseBytes(dataHTTPBPS); err != nil || cfg.dataHTTPBPS == 0 {
			log.Fatalf("data-http-bps: invalid bytes-per-second %q", dataHTTPBPS)
		}
	}
	return cfg
}
