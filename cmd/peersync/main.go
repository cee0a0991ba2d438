package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/peersync/internal/client/api"
	"github.com/iudanet/peersync/internal/client/cli"
	"github.com/iudanet/peersync/internal/client/iocli"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Глобальные флаги
	showVersion := flag.Bool("version", false, "Show version information")
	apiURL := flag.String("api", "http://127.0.0.1:8002", "Node control API URL")
	token := flag.String("token", os.Getenv("PEERSYNC_CONTROL_TOKEN"), "Control API token")
	flag.Usage = func() {
		cli.PrintUsage(flag.CommandLine.Output())
		flag.PrintDefaults()
	}

	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// Получаем команду
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cli.New(iocli.NewStdio(), api.NewClient(*apiURL, *token))
	if err := c.Run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if cli.IsUnknownCommand(err) {
			cli.PrintUsage(os.Stderr)
		}
		stop()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("PeerSync CLI\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
