// Package cli implements the roxor command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/chazu/roxor/config"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func log() commonlog.Logger {
	return commonlog.GetLogger("roxor.cli")
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	// Config is resolved before any subcommand runs.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the roxor CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "roxor",
		Short: "roxor - method dispatch core",
		Long:  "Build class hierarchies from fixtures and exercise the dispatch core against them.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.prepare()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (default: nearest roxor.toml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewAncestorsCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewBenchCommand(opts))

	return cmd
}

func (o *RootOptions) prepare() error {
	if !slices.Contains(ValidFormats, o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	var err error
	switch {
	case o.Config != nil:
	case o.ConfigPath != "":
		o.Config, err = config.LoadFile(o.ConfigPath)
	default:
		o.Config, err = config.FindAndLoad(".")
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "configuration", err)
	}
	if o.Config == nil {
		o.Config = config.Defaults()
	}

	verbosity := o.Config.Logging.Verbosity
	if o.Verbose {
		verbosity += 2
	}
	var path *string
	if p := o.Config.LogPath(); p != "" {
		path = &p
	}
	commonlog.Configure(verbosity, path)
	if o.Config.Dir != "" {
		log().Infof("using configuration in %s", o.Config.Dir)
	}
	return nil
}
