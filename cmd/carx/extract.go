package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/ipfs/go-cid"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/carx"
	"github.com/meigma/carx/internal/config"
	"github.com/meigma/carx/internal/source"
)

// Registry credentials for oci:// archives. Without a username the
// password is sent as a bearer token.
const (
	envRegistryUsername = "CARX_REGISTRY_USERNAME"
	envRegistryPassword = "CARX_REGISTRY_PASSWORD"
)

type extractFlags struct {
	output     string
	suffix     string
	root       string
	maxBuffer  string
	checksums  string
	jobs       int
	configPath string
	logLevel   string
	plainHTTP  bool
}

func runExtract(ctx context.Context, e env, args []string) error {
	var f extractFlags
	flagSet := pflag.NewFlagSet("carx extract", pflag.ContinueOnError)
	flagSet.SetOutput(e.stderr)
	flagSet.StringVarP(&f.output, "output", "o", "", "directory to extract into (default from config, else .)")
	flagSet.StringVar(&f.suffix, "suffix", "", "only extract files whose path ends with this suffix")
	flagSet.StringVar(&f.root, "root", "", "require the archive root to equal this CID")
	flagSet.StringVar(&f.maxBuffer, "max-buffer", "", `cap on buffered file bytes, e.g. "512MiB" (default unlimited)`)
	flagSet.StringVar(&f.checksums, "checksums", "", "write sha256 checksums of extracted files to this file")
	flagSet.IntVarP(&f.jobs, "jobs", "j", 0, "archives to extract concurrently (default from config, else 1)")
	flagSet.StringVar(&f.configPath, "config", "", "YAML config file (default $"+config.EnvVar+")")
	flagSet.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&f.plainHTTP, "plain-http", false, "use plain HTTP for oci:// registries")
	flagSet.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage:\n  carx extract [flags] ARCHIVE...\n\nFlags:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	archives := flagSet.Args()
	if len(archives) == 0 {
		return fmt.Errorf("%w: extract needs at least one ARCHIVE", errUsage)
	}
	if f.suffix != "" && f.root != "" {
		return fmt.Errorf("%w: --suffix and --root are mutually exclusive", errUsage)
	}

	cfg, err := resolveConfig(flagSet, &f)
	if err != nil {
		return err
	}
	sel, err := selection(f)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(e.stderr, &slog.HandlerOptions{Level: level}))

	var sums checksums
	opts, err := extractorOptions(cfg, logger, &sums, f.checksums != "")
	if err != nil {
		return err
	}
	srcOpts := sourceOptions(e, cfg.PlainHTTP, logger)

	ex := carx.New(opts...)
	var locks pathLocks
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Jobs)
	for _, archive := range archives {
		g.Go(func() error {
			out := lockedSink{sink: carx.NewFileSink(cfg.Output), locks: &locks}
			if err := extractOne(ctx, ex, archive, out, sel, srcOpts); err != nil {
				return fmt.Errorf("%s: %w", archive, err)
			}
			logger.Info("extracted archive", "archive", archive, "output", cfg.Output)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if f.checksums != "" {
		return sums.writeFile(f.checksums, cfg.Output)
	}
	return nil
}

// sourceOptions configures archive sources, taking registry credentials
// from the environment when set.
func sourceOptions(e env, plainHTTP bool, logger *slog.Logger) []source.Option {
	opts := []source.Option{
		source.WithStdin(e.stdin),
		source.WithPlainHTTP(plainHTTP),
		source.WithLogger(logger),
	}
	if secret := os.Getenv(envRegistryPassword); secret != "" {
		opts = append(opts, source.WithStaticCredentials(os.Getenv(envRegistryUsername), secret))
	}
	return opts
}

// resolveConfig loads the config file and applies explicitly set flags.
func resolveConfig(flagSet *pflag.FlagSet, f *extractFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if flagSet.Changed("output") {
		cfg.Output = f.output
	}
	if flagSet.Changed("max-buffer") {
		cfg.MaxBuffer = f.maxBuffer
	}
	if flagSet.Changed("jobs") {
		cfg.Jobs = f.jobs
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if flagSet.Changed("plain-http") {
		cfg.PlainHTTP = f.plainHTTP
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return cfg, nil
}

func selection(f extractFlags) (carx.Selection, error) {
	sel := carx.Selection{Suffix: f.suffix}
	if f.root != "" {
		root, err := cid.Decode(f.root)
		if err != nil {
			return carx.Selection{}, fmt.Errorf("%w: --root: %v", errUsage, err)
		}
		sel.Root = root
	}
	return sel, nil
}

func extractorOptions(cfg *config.Config, logger *slog.Logger, sums *checksums, withSums bool) ([]carx.Option, error) {
	maxBuffer, err := cfg.MaxBufferBytes()
	if err != nil {
		return nil, err
	}
	maxSection, err := cfg.MaxSectionBytes()
	if err != nil {
		return nil, err
	}
	if maxBuffer > 0 {
		logger.Debug("buffer limit", "bytes", maxBuffer, "human", humanize.IBytes(maxBuffer))
	}

	opts := []carx.Option{
		carx.WithMaxBufferedBytes(maxBuffer),
		carx.WithMaxSectionSize(maxSection),
		carx.WithLogger(logger),
		carx.WithProgress(func(ev carx.ProgressEvent) {
			if ev.Stage == carx.StageWriting && ev.Path != "" {
				logger.Info("wrote file",
					"path", ev.Path,
					"file", fmt.Sprintf("%d/%d", ev.FilesDone, ev.FilesTotal),
					"written", humanize.IBytes(ev.BytesDone),
				)
			}
		}),
	}
	if withSums {
		opts = append(opts, carx.WithDigests(sums.add))
	}
	return opts, nil
}

func extractOne(ctx context.Context, ex *carx.Extractor, archive string, s carx.Sink, sel carx.Selection, opts []source.Option) (err error) {
	rc, err := source.Open(ctx, archive, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rc.Close(); err == nil {
			err = cerr
		}
	}()
	return ex.Extract(rc, s, sel)
}

// checksums collects per-file digests from concurrent extractions.
//
// A path written by more than one handle is marked shared; its digest only
// covers one append, so it is recomputed from disk once all writers finish.
type checksums struct {
	mu     sync.Mutex
	sums   map[string]digest.Digest
	shared map[string]bool
}

func (c *checksums) add(path string, d digest.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sums == nil {
		c.sums = make(map[string]digest.Digest)
		c.shared = make(map[string]bool)
	}
	if _, ok := c.sums[path]; ok {
		c.shared[path] = true
	}
	c.sums[path] = d
}

// rehash replaces the digest of every shared path with the digest of the
// file now under output.
func (c *checksums) rehash(output string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.shared) == 0 {
		return nil
	}
	root, err := os.OpenRoot(output)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer root.Close() //nolint:errcheck // read-only
	for p := range c.shared {
		d, err := digestFile(root, p)
		if err != nil {
			return err
		}
		c.sums[p] = d
	}
	return nil
}

func digestFile(root *os.Root, path string) (digest.Digest, error) {
	f, err := root.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only
	d, err := digest.SHA256.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return d, nil
}

// encode writes the digests in sha256sum format, sorted by path.
func (c *checksums) encode(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.sums))
	for p := range c.sums {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s  %s\n", c.sums[p].Encoded(), p)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (c *checksums) writeFile(path, output string) (err error) {
	if err := c.rehash(output); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checksums file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return c.encode(f)
}
