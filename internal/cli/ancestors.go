package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AncestorsResult is the JSON payload of the ancestors command.
type AncestorsResult struct {
	Class     string   `json:"class"`
	Ancestors []string `json:"ancestors"`
}

// NewAncestorsCommand creates the ancestors command.
func NewAncestorsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ancestors <fixture> <class>",
		Short: "Print the method resolution order of a class",
		Long: `Apply a fixture and print the linearized ancestry of a class, in the
order method lookup visits it.

Examples:
  roxor ancestors animals.yaml Dog
  roxor ancestors animals.yaml Net::HTTP --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAncestors(rootOpts, cmd, args[0], args[1])
		},
	}
}

func runAncestors(opts *RootOptions, cmd *cobra.Command, path, name string) error {
	s, err := opts.open(path)
	if err != nil {
		return err
	}
	defer s.close()

	k, ok := s.rt.ClassNamed(name)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("uninitialized constant %s", name))
	}
	res := AncestorsResult{Class: k.Name()}
	for _, a := range s.rt.Ancestors(k) {
		res.Ancestors = append(res.Ancestors, a.Name())
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), "ok", res)
	}
	for _, a := range res.Ancestors {
		fmt.Fprintln(cmd.OutOrStdout(), a)
	}
	return nil
}
