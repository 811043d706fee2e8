package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/chazu/roxor/compiler"
	"github.com/chazu/roxor/fixture"
	"github.com/chazu/roxor/vm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// BenchOptions holds flags for the bench command.
type BenchOptions struct {
	*RootOptions
	Send       string
	NewArgs    []string
	Threads    int
	Iterations int
}

// BenchResult is the JSON payload of the bench command.
type BenchResult struct {
	Send       string              `json:"send"`
	Threads    int                 `json:"threads"`
	Iterations int                 `json:"iterations"`
	Elapsed    time.Duration       `json:"elapsed_ns"`
	PerSecond  float64             `json:"sends_per_second"`
	Stats      vm.StatsSnapshot    `json:"stats"`
	Programs   compiler.CacheStats `json:"programs"`
	SiteStates map[string]int      `json:"site_states"`
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BenchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bench <fixture> --send Class#selector",
		Short: "Dispatch one message concurrently and report cache statistics",
		Long: `Apply a fixture, then send one message repeatedly from several execution
contexts at once. Class#selector sends to a new instance (constructed with
--new-args); Class.selector sends to the class itself.

Examples:
  roxor bench animals.yaml --send Dog#speak --new-args Rex
  roxor bench animals.yaml --send Dog.create --threads 8 --iterations 100000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Send, "send", "", "message to send, as Class#selector or Class.selector")
	cmd.Flags().StringSliceVar(&opts.NewArgs, "new-args", nil, "constructor arguments for Class#selector")
	cmd.Flags().IntVar(&opts.Threads, "threads", 4, "number of concurrent execution contexts")
	cmd.Flags().IntVar(&opts.Iterations, "iterations", 10000, "sends per context")
	_ = cmd.MarkFlagRequired("send")

	return cmd
}

type target struct {
	class    string
	selector string
	instance bool
}

func parseTarget(s string) (target, error) {
	if i := strings.LastIndex(s, "#"); i > 0 && i < len(s)-1 {
		return target{class: s[:i], selector: s[i+1:], instance: true}, nil
	}
	if i := strings.LastIndex(s, "."); i > 0 && i < len(s)-1 {
		return target{class: s[:i], selector: s[i+1:]}, nil
	}
	return target{}, fmt.Errorf("invalid target %q: want Class#selector or Class.selector", s)
}

func runBench(opts *BenchOptions, cmd *cobra.Command, path string) error {
	if opts.Threads < 1 || opts.Iterations < 1 {
		return NewExitError(ExitCommandError, "--threads and --iterations must be positive")
	}
	tgt, err := parseTarget(opts.Send)
	if err != nil {
		return WrapExitError(ExitCommandError, "send", err)
	}

	s, err := opts.open(path)
	if err != nil {
		return err
	}
	defer s.close()

	k, ok := s.rt.ClassNamed(tgt.class)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("uninitialized constant %s", tgt.class))
	}
	newArgs := make([]vm.Value, len(opts.NewArgs))
	for i, a := range opts.NewArgs {
		if newArgs[i], err = fixture.ToValue(a); err != nil {
			return WrapExitError(ExitCommandError, "new-args", err)
		}
	}

	ctx := commandContext(cmd)
	sites := make([]*vm.CallSite, opts.Threads)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := range opts.Threads {
		site := s.rt.NewCallSite(tgt.selector, 0)
		sites[i] = site
		g.Go(func() error {
			c := s.rt.NewContext()
			defer c.Close()
			_, err := c.Run(gctx, func(c *vm.Context) (vm.Value, error) {
				var recv vm.Value = k
				if tgt.instance {
					var err error
					if recv, err = c.Send(k, "new", newArgs...); err != nil {
						return nil, err
					}
				}
				for range opts.Iterations {
					if _, err := c.SendSite(site, recv, nil, nil); err != nil {
						return nil, err
					}
				}
				return nil, nil
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, opts.Send, err)
	}
	elapsed := time.Since(start)

	res := BenchResult{
		Send:       opts.Send,
		Threads:    opts.Threads,
		Iterations: opts.Iterations,
		Elapsed:    elapsed,
		Stats:      s.rt.Stats(),
		Programs:   s.producer.Cache.Stats(),
		SiteStates: make(map[string]int),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		res.PerSecond = float64(opts.Threads*opts.Iterations) / secs
	}
	for _, site := range sites {
		res.SiteStates[site.State().String()]++
	}
	log().Infof("bench %s: %d sends in %s", opts.Send, opts.Threads*opts.Iterations, elapsed)

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return writeJSON(out, "ok", res)
	}
	fmt.Fprintf(out, "%s: %d contexts x %d sends in %s (%.0f sends/s)\n",
		res.Send, res.Threads, res.Iterations, res.Elapsed.Round(time.Microsecond), res.PerSecond)
	fmt.Fprintln(out, res.Stats)
	fmt.Fprintf(out, "programs: %d parsed, %d loaded, %d hits\n", res.Programs.Parses, res.Programs.Loads, res.Programs.Hits)
	for _, state := range []vm.CacheState{vm.CacheEmpty, vm.CacheMonomorphic, vm.CachePolymorphic, vm.CacheMegamorphic} {
		if n := res.SiteStates[state.String()]; n > 0 {
			fmt.Fprintf(out, "call sites: %d %s\n", n, state)
		}
	}
	return nil
}
