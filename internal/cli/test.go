package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/coinsync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter      string // glob matched against scenario file names
	StepTimeout time.Duration
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>...",
		Short: "Run balance scenarios",
		Long: `Run YAML balance scenarios against an in-memory session.

Each scenario seeds a users table and a local cache, drives fetches, pushes,
pro resolution and guarded spends, and checks the trace and final state.
Arguments may be scenario files or directories.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  coinsync test ./scenarios
  coinsync test ./scenarios --filter "retry_*"
  coinsync test ./scenarios/fetch_push_fetch.yaml --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().DurationVar(&opts.StepTimeout, "step-timeout", 0, "how long a step waits for a pending fetch (0 keeps the default)")
	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
	}

	files, err := findScenarioFiles(paths, opts.Filter)
	if err != nil {
		return err
	}
	out.VerboseLog("running %d scenarios", len(files))

	runOpts := []harness.Option{}
	if opts.StepTimeout > 0 {
		runOpts = append(runOpts, harness.WithStepTimeout(opts.StepTimeout))
	}
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(opts.newLogger(cmd.ErrOrStderr())))
	}

	result, err := harness.RunSuite(files, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	if err := out.Emit(result, func(w io.Writer) { writeSuiteText(w, result, opts.Verbose) }); err != nil {
		return err
	}
	if !result.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.TotalScenarios))
	}
	return nil
}

// findScenarioFiles expands directories and applies the filter to file
// names.
func findScenarioFiles(paths []string, filter string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", p), err)
		}

		candidates := []string{p}
		if info.IsDir() {
			candidates, err = harness.LoadDir(p)
			if err != nil {
				return nil, WrapExitError(ExitCommandError, "failed to list scenarios", err)
			}
		}

		for _, f := range candidates {
			if filter != "" {
				name := filepath.Base(f)
				name = name[:len(name)-len(filepath.Ext(name))]
				if ok, _ := filepath.Match(filter, name); !ok {
					continue
				}
			}
			files = append(files, f)
		}
	}
	return files, nil
}

func writeSuiteText(w io.Writer, result *harness.SuiteResult, verbose bool) {
	if result.TotalScenarios == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}

	for _, f := range result.Failures {
		name := f.Scenario
		if name == "" {
			name = f.ScenarioPath
		}
		fmt.Fprintf(w, "FAIL %s: %s\n", name, f.Error)
		for _, d := range f.Details {
			fmt.Fprintf(w, "    %s\n", d)
		}
		if verbose {
			fmt.Fprintf(w, "    (%s)\n", f.ScenarioPath)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.TotalScenarios)
}
