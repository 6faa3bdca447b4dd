// Package main is the pravo CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperjump/pravo/internal/models"
)

var version = "dev"

// Exit codes.
const (
	exitOK    = 0
	exitFatal = 1
	exitData  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI with args and returns the process exit code.
// SIGINT and SIGTERM cancel the running command; stages stop at the next
// document boundary and still print their summary.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitCode(err)
}

// exitCode maps an error to the process exit code: bad input is 2,
// everything else that stops a command is 1.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage), models.Classify(err) == models.ClassData:
		return exitData
	}
	return exitFatal
}
