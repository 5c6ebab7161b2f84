// Command carx extracts UnixFS content from CAR archives.
//
// Usage:
//
//	carx extract [flags] ARCHIVE...
//	carx roots ARCHIVE
//	carx version
//
// ARCHIVE is a local path, "-" for stdin, an http(s):// URL, or an
// oci://registry/repository:tag reference.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

// errUsage marks errors caused by bad invocation.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// env carries the process streams so commands can be tested.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	e := env{stdin: stdin, stdout: stdout, stderr: stderr}
	if len(args) == 0 {
		printUsage(stderr)
		return fmt.Errorf("%w: missing command", errUsage)
	}
	switch args[0] {
	case "extract":
		return runExtract(ctx, e, args[1:])
	case "roots":
		return runRoots(ctx, e, args[1:])
	case "version", "--version":
		fmt.Fprintln(stdout, buildVersion())
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func buildVersion() string {
	if version != "" {
		return "carx " + version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return "carx " + info.Main.Version
	}
	return "carx (devel)"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `carx extracts files from CAR (content-addressed archive) streams.

Usage:
  carx extract [flags] ARCHIVE...   extract archives into a directory
  carx roots ARCHIVE                print the archive version and roots
  carx version                      print the carx version

ARCHIVE is a local path, "-" for stdin, an http(s):// URL, or an
oci://registry/repository:tag reference. zstd, gzip and lz4 compressed
archives are decompressed automatically.

Run "carx extract --help" for extraction flags.
`)
}
