package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/toolgate/internal/compiler"
	"github.com/aretw0/toolgate/pkg/domain"
)

// BuildOptions contains the configuration for the build command.
type BuildOptions struct {
	Dir    string
	Out    string
	Watch  bool
	Settle time.Duration
}

// RunBuild compiles opts.Dir into opts.Out and reports the outcome on w.
// In watch mode it keeps rebuilding until ctx is done; failed rebuilds are
// reported but do not stop the loop.
func RunBuild(ctx context.Context, c *compiler.Compiler, opts BuildOptions, w io.Writer) error {
	if !opts.Watch {
		a, err := c.Build(ctx, opts.Dir, opts.Out)
		if err != nil {
			printDiagnostics(w, err)
			return err
		}
		printBuilt(w, a, opts.Out)
		return nil
	}

	fmt.Fprintf(w, "Watching %s for changes...\n", opts.Dir)
	err := c.Watch(ctx, opts.Dir, opts.Out, opts.Settle, func(a *domain.Artifact, err error) {
		if err != nil {
			printDiagnostics(w, err)
			return
		}
		printBuilt(w, a, opts.Out)
	})
	if interrupted(err) {
		return nil
	}
	return err
}

// RunValidate compiles dir without writing anything.
func RunValidate(ctx context.Context, c *compiler.Compiler, dir string, w io.Writer) error {
	a, err := c.Compile(ctx, dir)
	if err != nil {
		printDiagnostics(w, err)
		return err
	}
	fmt.Fprintf(w, "%d tools are valid (registry version %s)\n", len(a.Tools), a.Version)
	return nil
}

func printBuilt(w io.Writer, a *domain.Artifact, out string) {
	fmt.Fprintf(w, "Built %d tools into %s (registry version %s)\n", len(a.Tools), out, a.Version)
}

// printDiagnostics lists every violation of a failed build, one per line.
func printDiagnostics(w io.Writer, err error) {
	var be *compiler.BuildError
	if !errors.As(err, &be) {
		fmt.Fprintf(w, "Build failed: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Build failed with %d violation(s):\n", len(be.Violations))
	for _, v := range be.Violations {
		fmt.Fprintf(w, "  %s\n", v.String())
	}
}
