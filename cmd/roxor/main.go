// roxor exercises the dispatch core from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/chazu/roxor/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
