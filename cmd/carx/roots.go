package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/meigma/carx/internal/car"
	"github.com/meigma/carx/internal/source"
)

func runRoots(ctx context.Context, e env, args []string) error {
	var plainHTTP bool
	flagSet := pflag.NewFlagSet("carx roots", pflag.ContinueOnError)
	flagSet.SetOutput(e.stderr)
	flagSet.BoolVar(&plainHTTP, "plain-http", false, "use plain HTTP for oci:// registries")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("%w: roots needs exactly one ARCHIVE", errUsage)
	}
	archive := flagSet.Arg(0)

	rc, err := source.Open(ctx, archive, sourceOptions(e, plainHTTP, slog.New(slog.DiscardHandler))...)
	if err != nil {
		return err
	}
	defer rc.Close()

	cr, err := car.NewReader(rc)
	if err != nil {
		return fmt.Errorf("%s: %w", archive, err)
	}
	fmt.Fprintf(e.stdout, "version: %d\n", cr.Version())
	for _, root := range cr.Roots() {
		fmt.Fprintf(e.stdout, "root: %s\n", root)
	}
	return nil
}
