package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/replichat/internal/cli"
	"github.com/roach88/replichat/internal/model"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) == 2 && os.Args[1] == "--version" {
		fmt.Printf("replichat %s (engine %s, commit %s)\n", Version, model.EngineVersion, GitCommit)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
