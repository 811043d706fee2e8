package cli

import (
	"fmt"

	"github.com/chazu/roxor/fixture"
	"github.com/spf13/cobra"
)

// CheckResult is the JSON payload of the check command.
type CheckResult struct {
	Fixture string           `json:"fixture"`
	Results []fixture.Result `json:"results"`
	Passed  int              `json:"passed"`
	Failed  int              `json:"failed"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <fixture>",
		Short: "Run the checks in a fixture",
		Long: `Apply a fixture and run each of its checks in a fresh execution context.

Exit codes:
  0 - All checks passed
  1 - One or more checks failed
  2 - Command error (unreadable fixture, bad configuration, etc.)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, cmd, args[0])
		},
	}
}

func runCheck(opts *RootOptions, cmd *cobra.Command, path string) error {
	s, err := opts.open(path)
	if err != nil {
		return err
	}
	defer s.close()

	results := fixture.Run(commandContext(cmd), s.rt, s.doc)
	failed := fixture.Failed(results)
	res := CheckResult{
		Fixture: s.doc.Name,
		Results: results,
		Passed:  len(results) - failed,
		Failed:  failed,
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		status := "ok"
		if failed > 0 {
			status = "failed"
		}
		if err := writeJSON(out, status, res); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Passed {
				fmt.Fprintf(out, "PASS %s\n", r.Name)
				continue
			}
			fmt.Fprintf(out, "FAIL %s: want %s, got %s\n", r.Name, r.Want, r.Got)
		}
		fmt.Fprintf(out, "\n%d passed, %d failed\n", res.Passed, res.Failed)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d checks failed", failed, len(results)))
	}
	return nil
}
