// Package main implements dmtrun, a drop-in process launcher for
// binaries built against the dmt runtime.
//
// dmtrun does not instrument anything: dmt's hooks are ordinary library
// calls an application or its own build step already makes. dmtrun's job
// is narrower — resolve a dmt.yaml next to the target project's go.mod
// (golang.org/x/mod/modfile locates the module root), translate it into
// the DMT_* environment variables internal/dmt/config.Load already knows
// how to read, and exec the target binary with that environment,
// forwarding its exit code.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("dmtrun version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		color.Red("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`dmtrun - deterministic multithreading process launcher

USAGE:
    dmtrun run [--config path/to/dmt.yaml] -- <binary> [arguments...]
    dmtrun version
    dmtrun help

dmtrun resolves a dmt.yaml file (defaulting to the one next to the
target project's go.mod, if any) into DMT_* environment variables, then
execs <binary> with that environment, forwarding stdio and the exit code.

EXAMPLES:
    dmtrun run -- ./myapp
    dmtrun run --config ./configs/dmt.yaml -- ./myapp --flag=value
`)
}
